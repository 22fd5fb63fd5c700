package trigger

import (
	"testing"
	"time"

	"alertengine/internal/monitor/model"

	"github.com/stretchr/testify/assert"
)

func throttledTrigger(lastFired time.Time, minutes int) *model.Trigger {
	return &model.Trigger{ThrottleDuration: &minutes, LastFiredTime: &lastFired}
}

func TestIsThrottled_ManualAlwaysBypasses(t *testing.T) {
	now := time.Now()
	tr := throttledTrigger(now, 10)
	assert.False(t, IsThrottled(tr, now, true))
}

func TestIsThrottled_NoThrottleConfigured(t *testing.T) {
	tr := &model.Trigger{}
	assert.False(t, IsThrottled(tr, time.Now(), false))
}

func TestIsThrottled_WithinWindow(t *testing.T) {
	t0 := time.Now()
	tr := throttledTrigger(t0, 10)
	assert.True(t, IsThrottled(tr, t0.Add(5*time.Minute), false))
}

func TestIsThrottled_AfterWindow(t *testing.T) {
	t0 := time.Now()
	tr := throttledTrigger(t0, 10)
	assert.False(t, IsThrottled(tr, t0.Add(11*time.Minute), false))
}
