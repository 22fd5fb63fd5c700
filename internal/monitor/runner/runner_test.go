package runner

import (
	"context"
	"testing"
	"time"

	"alertengine/internal/clock"
	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/notify"
	"alertengine/internal/monitor/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	savedAlerts   []model.Alert
	lastFiredCall int
	ensureErr     error
	saveErr       error
}

func (f *fakeStore) EnsureCollections(ctx context.Context) error { return f.ensureErr }
func (f *fakeStore) SaveAlerts(ctx context.Context, alerts []model.Alert, monitor *model.Monitor) error {
	f.savedAlerts = append(f.savedAlerts, alerts...)
	return f.saveErr
}
func (f *fakeStore) UpdateMonitorLastFiredTimes(ctx context.Context, monitor *model.Monitor) error {
	f.lastFiredCall++
	return nil
}

type fakeExecutor struct {
	resp query.Response
	err  error
}

func (f fakeExecutor) Execute(ctx context.Context, req query.Request, p query.Principal) (query.Response, error) {
	return f.resp, f.err
}
func (f fakeExecutor) ServerTime(ctx context.Context) (int64, error) { return 0, nil }

type fakeNotifier struct{ sent int }

func (f *fakeNotifier) Send(ctx context.Context, actionID, subject, body, destinationID string, p notify.Principal) error {
	f.sent++
	return nil
}

type fakeTemplate struct{}

func (fakeTemplate) Render(tpl string, ctx notify.TriggerExecutionContext) (string, error) {
	if tpl == "" {
		return "", nil
	}
	return "rendered: " + tpl, nil
}

func baseMonitor() *model.Monitor {
	return &model.Monitor{
		ID:      "m1",
		Name:    "error monitor",
		Owner:   model.Principal{Name: "alice"},
		Query:   "source=logs",
		Triggers: []model.Trigger{{
			ID:              "t1",
			Name:            "too many",
			Severity:        model.SeverityWarn,
			Mode:            model.ModeResultSet,
			ConditionType:   model.ConditionNumberOfResults,
			NumberOfResults: &model.NumberOfResultsCondition{Op: model.OpGreater, Value: 0},
			ExpireDuration:  60,
			Actions:         []model.Action{{ID: "a1", DestinationID: "dest1", MessageTemplate: "fired"}},
		}},
	}
}

func newRunner(store AlertStore, executor query.Executor, notifier notify.Notifier, now time.Time) *Runner {
	return New(Config{
		Store:    store,
		Executor: executor,
		Notifier: notifier,
		Template: fakeTemplate{},
		Clock:    clock.Fixed{T: now},
		Settings: Settings{MaxDataRows: 1000, PerResultMaxAlerts: 10},
	})
}

func TestRun_NumberOfResultsFired_SavesAlertAndDispatches(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	executor := fakeExecutor{resp: query.Response{Total: 3}}
	r := newRunner(store, executor, notifier, time.Now())

	result := r.Run(context.Background(), baseMonitor(), time.Now(), time.Now(), false, false, "exec1")

	require.NoError(t, result.Error)
	assert.True(t, result.TriggerResults["t1"].Fired)
	require.Len(t, store.savedAlerts, 1)
	assert.Equal(t, 3, result.TriggerResponses["t1"].Total)
	assert.Equal(t, 1, notifier.sent)
	assert.Equal(t, 1, store.lastFiredCall)
}

func TestRun_NotFired_NoAlertNoLastFiredUpdate(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	executor := fakeExecutor{resp: query.Response{Total: 0}}
	r := newRunner(store, executor, notifier, time.Now())

	result := r.Run(context.Background(), baseMonitor(), time.Now(), time.Now(), false, false, "exec1")

	require.NoError(t, result.Error)
	assert.False(t, result.TriggerResults["t1"].Fired)
	assert.Empty(t, store.savedAlerts)
	assert.Equal(t, 0, store.lastFiredCall)
}

func TestRun_ThrottledTriggerSkipsQuery(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	executor := fakeExecutor{resp: query.Response{Total: 3}}
	r := newRunner(store, executor, notifier, time.Now())

	mon := baseMonitor()
	throttle := 60
	now := time.Now()
	mon.Triggers[0].ThrottleDuration = &throttle
	mon.Triggers[0].LastFiredTime = &now

	result := r.Run(context.Background(), mon, time.Now(), time.Now(), false, false, "exec1")

	require.NoError(t, result.Error)
	assert.True(t, result.TriggerResults["t1"].Throttled)
	assert.Empty(t, store.savedAlerts)
}

func TestRun_QueryFailurePersistsErrorAlertAndContinues(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	executor := fakeExecutor{err: assertError{"executor down"}}
	r := newRunner(store, executor, notifier, time.Now())

	result := r.Run(context.Background(), baseMonitor(), time.Now(), time.Now(), false, false, "exec1")

	require.NoError(t, result.Error)
	require.NotNil(t, result.TriggerResults["t1"].Error)
	require.Len(t, store.savedAlerts, 1)
	assert.Equal(t, model.SeverityError, store.savedAlerts[0].Severity)
}

func TestRun_DryRunSkipsDispatchAndSave(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	executor := fakeExecutor{resp: query.Response{Total: 3}}
	r := newRunner(store, executor, notifier, time.Now())

	result := r.Run(context.Background(), baseMonitor(), time.Now(), time.Now(), false, true, "exec1")

	require.NoError(t, result.Error)
	assert.True(t, result.TriggerResults["t1"].Fired)
	assert.Empty(t, store.savedAlerts)
	assert.Equal(t, 0, notifier.sent)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
