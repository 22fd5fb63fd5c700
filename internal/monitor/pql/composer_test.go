package pql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComposeTimeFiltered_NoLookback(t *testing.T) {
	got := ComposeTimeFiltered("source=logs | head 3", false, time.Time{}, time.Time{}, "@timestamp")
	assert.Equal(t, "source=logs | head 3", got)
}

func TestComposeTimeFiltered_InsertsAfterFirstPipe(t *testing.T) {
	lower := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	got := ComposeTimeFiltered("source=logs | stats count", true, lower, upper, "@timestamp")

	assert.Contains(t, got, "source=logs |")
	assert.Contains(t, got, "where @timestamp > TIMESTAMP('2026-01-01 00:00:00')")
	assert.Contains(t, got, "and @timestamp < TIMESTAMP('2026-01-01 01:00:00')")
	// the predicate must precede the original second stage
	assert.True(t, indexOf(got, "where") < indexOf(got, "stats count"))
}

func TestComposeTimeFiltered_AppendsWhenNoPipe(t *testing.T) {
	lower := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	got := ComposeTimeFiltered("source=logs", true, lower, upper, "@timestamp")
	assert.Equal(t, "source=logs | where @timestamp > TIMESTAMP('2026-01-01 00:00:00') and @timestamp < TIMESTAMP('2026-01-01 01:00:00')", got)
}

func TestComposeWithCustomCondition(t *testing.T) {
	got := ComposeWithCustomCondition("source=logs", "eval flag = number > 7")
	assert.Equal(t, "source=logs | eval flag = number > 7", got)
}

func TestCap(t *testing.T) {
	got := Cap("source=logs", 100)
	assert.Equal(t, "source=logs | head 100", got)
}

func TestOrdering_TimeThenCustomThenCap(t *testing.T) {
	lower := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	q := ComposeTimeFiltered("source=logs", true, lower, upper, "@timestamp")
	q = ComposeWithCustomCondition(q, "eval flag = number > 7")
	q = Cap(q, 50)

	assert.True(t, indexOf(q, "where") < indexOf(q, "eval flag"))
	assert.True(t, indexOf(q, "eval flag") < indexOf(q, "head 50"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
