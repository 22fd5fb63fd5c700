package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTrigger() Trigger {
	return Trigger{
		ID:             "t1",
		Name:           "too many errors",
		Severity:       SeverityWarn,
		Mode:           ModeResultSet,
		ConditionType:  ConditionNumberOfResults,
		NumberOfResults: &NumberOfResultsCondition{Op: OpGreater, Value: 0},
		ExpireDuration: 60,
	}
}

func baseMonitor() Monitor {
	now := time.Now()
	return Monitor{
		ID:            "m1",
		Name:          "error monitor",
		Enabled:       true,
		EnabledTime:   &now,
		Owner:         Principal{Name: "alice"},
		Schedule:      Schedule{Interval: 5, Unit: "MINUTES"},
		QueryLanguage: "PQL",
		Query:         "source=logs",
		Triggers:      []Trigger{baseTrigger()},
	}
}

func TestMonitorValidate_OK(t *testing.T) {
	m := baseMonitor()
	require.NoError(t, m.Validate())
}

func TestMonitorValidate_EnabledTimeMismatch(t *testing.T) {
	m := baseMonitor()
	m.EnabledTime = nil
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enabledTime")
}

func TestMonitorValidate_TooManyTriggers(t *testing.T) {
	m := baseMonitor()
	for i := 0; i < 10; i++ {
		tr := baseTrigger()
		tr.ID = "extra"
		m.Triggers = append(m.Triggers, tr)
	}
	err := m.Validate()
	require.Error(t, err)
}

func TestMonitorValidate_LookbackRequiresTimestampField(t *testing.T) {
	m := baseMonitor()
	window := 10
	m.LookBackWindow = &window
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestampField")
}

func TestTriggerValidate_ConditionShapeMismatch(t *testing.T) {
	tr := baseTrigger()
	tr.Custom = &CustomCondition{Fragment: "eval flag = x > 1"}
	err := tr.Validate()
	require.Error(t, err)
}

func TestTriggerValidate_ExpireDurationMinimum(t *testing.T) {
	tr := baseTrigger()
	tr.ExpireDuration = 0
	err := tr.Validate()
	require.Error(t, err)
}
