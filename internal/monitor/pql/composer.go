// Package pql rewrites a monitor's stored query into the concrete query
// actually sent to the PQL executor: inject a time window, append a
// trigger-specific predicate, and cap the result size — strictly in
// that order (spec §4.1).
package pql

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout is the fixed UTC format the time predicate uses.
const timestampLayout = "2006-01-02 15:04:05"

// ComposeTimeFiltered injects a time-window predicate as the first
// pipeline stage after `source = …`, or appends one if the query has no
// pipe at all. If lookback is not configured the query passes through
// unchanged — callers signal "not configured" by passing a zero
// lowerBound/upperBound pair is never valid, so this takes an explicit
// hasLookback flag instead.
func ComposeTimeFiltered(query string, hasLookback bool, lowerBound, upperBound time.Time, timestampField string) string {
	if !hasLookback {
		return query
	}

	predicate := fmt.Sprintf(
		"where %s > TIMESTAMP('%s') and %s < TIMESTAMP('%s')",
		timestampField, lowerBound.UTC().Format(timestampLayout),
		timestampField, upperBound.UTC().Format(timestampLayout),
	)

	idx := strings.Index(query, "|")
	if idx == -1 {
		return query + " | " + predicate
	}
	return query[:idx+1] + " " + predicate + " |" + query[idx+1:]
}

// ComposeWithCustomCondition appends a trigger-supplied PQL fragment
// verbatim, as the next pipeline stage.
func ComposeWithCustomCondition(query, fragment string) string {
	if fragment == "" {
		return query
	}
	return query + " | " + fragment
}

// Cap appends a `head` stage limiting the number of result rows. It is
// always the last stage applied (spec §4.1 ordering).
func Cap(query string, maxRows int) string {
	return fmt.Sprintf("%s | head %d", query, maxRows)
}
