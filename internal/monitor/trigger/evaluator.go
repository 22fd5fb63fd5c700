// Package trigger implements the trigger evaluator: deciding whether a
// trigger fired against a query response, and slicing that response
// into the per-alert payloads spec §4.2 calls "materialized result
// slices".
package trigger

import (
	"encoding/json"
	"fmt"
	"regexp"

	"alertengine/internal/errorc"
	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/query"
)

var errs = errorc.NewBuilder("trigger")

// evalColumnRegex locates the identifier on the left side of an
// `eval <id> = ` PQL stage, per spec §4.2.
var evalColumnRegex = regexp.MustCompile(`\beval\s+([A-Za-z_]\w*)\s*=`)

// Evaluate decides fired/not-fired for a trigger against a response.
func Evaluate(t *model.Trigger, resp query.Response) (bool, error) {
	switch t.ConditionType {
	case model.ConditionNumberOfResults:
		return compare(resp.Total, t.NumberOfResults.Op, t.NumberOfResults.Value), nil
	case model.ConditionCustom:
		col, err := evalColumn(t.Custom.Fragment)
		if err != nil {
			return false, err
		}
		idx := resp.ColumnIndex(col)
		if idx == -1 {
			return false, errs.NotFound(fmt.Sprintf("eval column %q not present in response schema", col), nil)
		}
		for _, row := range resp.Datarows {
			if idx < len(row) && truthy(row[idx]) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errs.Validation("unknown condition type", nil)
	}
}

func evalColumn(fragment string) (string, error) {
	m := evalColumnRegex.FindStringSubmatch(fragment)
	if m == nil {
		return "", errs.Validation("custom condition fragment has no eval <id> = assignment", nil)
	}
	return m[1], nil
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "1"
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return false
	}
}

func compare(total int, op model.Comparator, value int) bool {
	switch op {
	case model.OpGreater:
		return total > value
	case model.OpGreaterOrEqual:
		return total >= value
	case model.OpLess:
		return total < value
	case model.OpLessOrEqual:
		return total <= value
	case model.OpEqual:
		return total == value
	case model.OpNotEqual:
		return total != value
	default:
		return false
	}
}

// ResultSlice is one alert-sized portion of a query response (the
// glossary's "Slice").
type ResultSlice struct {
	Schema   []query.Column
	Datarows []query.Row
	Total    int
	Size     int
}

const defaultMaxAlerts = 10

// MaterializeResultSlices implements spec §4.2's slicing rules.
// maxResultBytes of 0 disables size capping.
func MaterializeResultSlices(t *model.Trigger, resp query.Response, maxAlerts, maxResultBytes int) ([]ResultSlice, error) {
	if maxAlerts <= 0 {
		maxAlerts = defaultMaxAlerts
	}

	switch t.Mode {
	case model.ModeResultSet:
		slice := ResultSlice{Schema: resp.Schema, Datarows: resp.Datarows, Total: resp.Total, Size: resp.Size}
		return []ResultSlice{capSize(slice, maxResultBytes)}, nil

	case model.ModePerResult:
		qualifying, err := qualifyingRows(t, resp)
		if err != nil {
			return nil, err
		}
		if len(qualifying) > maxAlerts {
			qualifying = qualifying[:maxAlerts]
		}
		slices := make([]ResultSlice, 0, len(qualifying))
		for _, row := range qualifying {
			slice := ResultSlice{Schema: resp.Schema, Datarows: []query.Row{row}, Total: 1, Size: 1}
			slices = append(slices, capSize(slice, maxResultBytes))
		}
		return slices, nil

	default:
		return nil, errs.Validation("unknown trigger mode", nil)
	}
}

// qualifyingRows returns the rows a PER_RESULT trigger alerts on. For a
// CUSTOM condition that's any row whose eval column is truthy; for
// NUMBER_OF_RESULTS the whole-response condition has already fired, so
// every row is its own qualifying slice.
func qualifyingRows(t *model.Trigger, resp query.Response) ([]query.Row, error) {
	if t.ConditionType != model.ConditionCustom {
		return resp.Datarows, nil
	}
	col, err := evalColumn(t.Custom.Fragment)
	if err != nil {
		return nil, err
	}
	idx := resp.ColumnIndex(col)
	if idx == -1 {
		return nil, errs.NotFound("eval column not present in response schema", nil)
	}
	var rows []query.Row
	for _, row := range resp.Datarows {
		if idx < len(row) && truthy(row[idx]) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func capSize(slice ResultSlice, maxResultBytes int) ResultSlice {
	if maxResultBytes <= 0 {
		return slice
	}
	b, err := json.Marshal(slice.Datarows)
	if err != nil || len(b) <= maxResultBytes {
		return slice
	}
	slice.Datarows = []query.Row{{"The query results were too large and thus excluded"}}
	return slice
}
