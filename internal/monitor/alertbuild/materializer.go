// Package alertbuild builds Alert records from fired triggers (spec
// §4.4). It is a pure function package: no I/O, no persistence — the
// store takes it from here.
package alertbuild

import (
	"time"

	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/trigger"
)

// BuildAlerts produces one Alert per slice, stamping triggeredTime and
// deriving expirationTime from the trigger's expireDuration.
func BuildAlerts(t *model.Trigger, m *model.Monitor, slices []trigger.ResultSlice, executionID string, now time.Time) []model.Alert {
	alerts := make([]model.Alert, 0, len(slices))
	expiresAt := now.Add(time.Duration(t.ExpireDuration) * time.Minute)

	for _, slice := range slices {
		alerts = append(alerts, model.Alert{
			MonitorID:      m.ID,
			MonitorName:    m.Name,
			MonitorVersion: m.Version,
			User:           m.Owner,
			TriggerID:      t.ID,
			TriggerName:    t.Name,
			Query:          m.Query,
			QueryResults:   slice,
			TriggeredTime:  model.NewEpochMillis(now),
			ExpirationTime: model.NewEpochMillis(expiresAt),
			Severity:       t.Severity,
			ExecutionID:    executionID,
		})
	}
	return alerts
}

// BuildErrorAlert emits exactly one ERROR-severity alert for a trigger
// whose query composition, execution or evaluation raised — with an
// empty queryResults and the cause's message obfuscated (spec §4.4).
func BuildErrorAlert(t *model.Trigger, m *model.Monitor, cause error, executionID string, now time.Time) model.Alert {
	msg := ObfuscateIPs(cause.Error())
	expiresAt := now.Add(time.Duration(t.ExpireDuration) * time.Minute)

	return model.Alert{
		MonitorID:      m.ID,
		MonitorName:    m.Name,
		MonitorVersion: m.Version,
		User:           m.Owner,
		TriggerID:      t.ID,
		TriggerName:    t.Name,
		Query:          m.Query,
		QueryResults:   nil,
		TriggeredTime:  model.NewEpochMillis(now),
		ExpirationTime: model.NewEpochMillis(expiresAt),
		Severity:       model.SeverityError,
		ErrorMessage:   &msg,
		ExecutionID:    executionID,
	}
}
