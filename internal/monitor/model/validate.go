package model

import (
	"fmt"
	"sync"

	"alertengine/internal/errorc"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	errs = errorc.NewBuilder("model")
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks every invariant from spec §3/§8 that a struct tag
// alone cannot express: the enabled/enabledTime pairing, the exactly-
// one-condition-shape rule, and the lookback/timestamp-field pairing.
func (m *Monitor) Validate() error {
	if err := v().Struct(m); err != nil {
		return errs.Validation(fmt.Sprintf("monitor %q: struct validation failed", m.ID), err)
	}

	if m.Enabled != (m.EnabledTime != nil) {
		return errs.Validation(fmt.Sprintf("monitor %q: enabled=%v requires enabledTime non-nil iff true", m.ID, m.Enabled), nil)
	}

	if m.LookBackWindow != nil && m.TimestampField == "" {
		return errs.Validation(fmt.Sprintf("monitor %q: timestampField is required when lookBackWindow is set", m.ID), nil)
	}

	if len(m.Triggers) < 1 || len(m.Triggers) > 10 {
		return errs.Validation(fmt.Sprintf("monitor %q: trigger count must be within [1,10], got %d", m.ID, len(m.Triggers)), nil)
	}

	for i := range m.Triggers {
		if err := m.Triggers[i].Validate(); err != nil {
			return errs.Validation(fmt.Sprintf("monitor %q: trigger validation failed", m.ID), err)
		}
	}

	return nil
}

// Validate checks trigger-local invariants, including the exactly-one-
// condition-shape rule that validator struct tags can't express.
func (t *Trigger) Validate() error {
	if err := v().Struct(t); err != nil {
		return errs.Validation(fmt.Sprintf("trigger %q: struct validation failed", t.ID), err)
	}

	switch t.ConditionType {
	case ConditionNumberOfResults:
		if t.NumberOfResults == nil || t.Custom != nil {
			return errs.Validation(fmt.Sprintf("trigger %q: NUMBER_OF_RESULTS requires exactly a NumberOfResults condition", t.ID), nil)
		}
	case ConditionCustom:
		if t.Custom == nil || t.NumberOfResults != nil {
			return errs.Validation(fmt.Sprintf("trigger %q: CUSTOM requires exactly a Custom condition", t.ID), nil)
		}
	default:
		return errs.Validation(fmt.Sprintf("trigger %q: unknown condition type %q", t.ID, t.ConditionType), nil)
	}

	if t.ExpireDuration < 1 {
		return errs.Validation(fmt.Sprintf("trigger %q: expireDuration must be >= 1 minute", t.ID), nil)
	}
	if t.ThrottleDuration != nil && *t.ThrottleDuration < 1 {
		return errs.Validation(fmt.Sprintf("trigger %q: throttleDuration must be >= 1 minute when set", t.ID), nil)
	}

	return nil
}
