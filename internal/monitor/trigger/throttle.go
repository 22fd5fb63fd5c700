package trigger

import (
	"time"

	"alertengine/internal/monitor/model"
)

// IsThrottled implements the throttle gate (spec §4.3). A manual
// execution always bypasses throttling.
func IsThrottled(t *model.Trigger, now time.Time, manual bool) bool {
	if manual {
		return false
	}
	if t.ThrottleDuration == nil || t.LastFiredTime == nil {
		return false
	}
	window := time.Duration(*t.ThrottleDuration) * time.Minute
	return t.LastFiredTime.After(now.Add(-window))
}
