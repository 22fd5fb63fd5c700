package trigger

import (
	"testing"

	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberOfResultsTrigger(op model.Comparator, value int, mode model.Mode) *model.Trigger {
	return &model.Trigger{
		ConditionType:   model.ConditionNumberOfResults,
		NumberOfResults: &model.NumberOfResultsCondition{Op: op, Value: value},
		Mode:            mode,
	}
}

func TestEvaluate_NumberOfResults_Fired(t *testing.T) {
	tr := numberOfResultsTrigger(model.OpGreater, 0, model.ModeResultSet)
	resp := query.Response{Total: 3}
	fired, err := Evaluate(tr, resp)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestEvaluate_NumberOfResults_NotFired(t *testing.T) {
	tr := numberOfResultsTrigger(model.OpGreater, 0, model.ModeResultSet)
	resp := query.Response{Total: 0}
	fired, err := Evaluate(tr, resp)
	require.NoError(t, err)
	assert.False(t, fired)
}

func customTrigger(fragment string, mode model.Mode) *model.Trigger {
	return &model.Trigger{
		ConditionType: model.ConditionCustom,
		Custom:        &model.CustomCondition{Fragment: fragment},
		Mode:          mode,
	}
}

func customResponse() query.Response {
	return query.Response{
		Schema: []query.Column{{Name: "name", Type: "string"}, {Name: "flag", Type: "boolean"}},
		Datarows: []query.Row{
			{"abc", false},
			{"def", true},
			{"ghi", false},
		},
		Total: 3,
		Size:  3,
	}
}

func TestEvaluate_Custom_FiresOnAnyTruthyRow(t *testing.T) {
	tr := customTrigger("eval flag = number > 7", model.ModeResultSet)
	fired, err := Evaluate(tr, customResponse())
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestEvaluate_Custom_ColumnMissing(t *testing.T) {
	tr := customTrigger("eval missing = number > 7", model.ModeResultSet)
	resp := customResponse()
	_, err := Evaluate(tr, resp)
	require.Error(t, err)
}

func TestMaterializeResultSlices_ResultSet(t *testing.T) {
	tr := numberOfResultsTrigger(model.OpGreater, 0, model.ModeResultSet)
	resp := customResponse()
	slices, err := MaterializeResultSlices(tr, resp, 10, 0)
	require.NoError(t, err)
	require.Len(t, slices, 1)
	assert.Equal(t, 3, slices[0].Total)
}

func TestMaterializeResultSlices_PerResultOnlyQualifyingRows(t *testing.T) {
	tr := customTrigger("eval flag = number > 7", model.ModePerResult)
	resp := customResponse()
	slices, err := MaterializeResultSlices(tr, resp, 10, 0)
	require.NoError(t, err)
	require.Len(t, slices, 1)
	assert.Equal(t, query.Row{"def", true}, slices[0].Datarows[0])
	assert.Equal(t, 1, slices[0].Total)
}

func TestMaterializeResultSlices_PerResultTruncatedToMaxAlerts(t *testing.T) {
	resp := query.Response{
		Schema: []query.Column{{Name: "flag", Type: "boolean"}},
		Total:  20,
	}
	for i := 0; i < 20; i++ {
		resp.Datarows = append(resp.Datarows, query.Row{true})
	}
	tr := customTrigger("eval flag = true", model.ModePerResult)
	slices, err := MaterializeResultSlices(tr, resp, 5, 0)
	require.NoError(t, err)
	assert.Len(t, slices, 5)
}

func TestMaterializeResultSlices_SizeCapping(t *testing.T) {
	tr := numberOfResultsTrigger(model.OpGreater, 0, model.ModeResultSet)
	resp := customResponse()
	slices, err := MaterializeResultSlices(tr, resp, 10, 1)
	require.NoError(t, err)
	require.Len(t, slices, 1)
	require.Len(t, slices[0].Datarows, 1)
	assert.Contains(t, slices[0].Datarows[0][0], "too large")
	assert.Equal(t, 3, slices[0].Total)
}
