package sweeper

import (
	"context"
	"testing"
	"time"

	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	alerts   []store.VersionedAlert
	monitors []model.Monitor
	deleted  []store.VersionedAlert
	copied   []store.VersionedAlert
	copyFail map[string]bool
}

func (f *fakeStore) ListActiveAlerts(ctx context.Context, maxDocs int) ([]store.VersionedAlert, error) {
	return f.alerts, nil
}
func (f *fakeStore) ListMonitors(ctx context.Context, maxDocs int) ([]model.Monitor, error) {
	return f.monitors, nil
}
func (f *fakeStore) DeleteExpiredAlerts(ctx context.Context, alerts []store.VersionedAlert) error {
	f.deleted = append(f.deleted, alerts...)
	return nil
}
func (f *fakeStore) CopyToHistory(ctx context.Context, alerts []store.VersionedAlert) ([]store.VersionedAlert, error) {
	var ok []store.VersionedAlert
	for _, a := range alerts {
		if f.copyFail[a.Alert.ID] {
			continue
		}
		f.copied = append(f.copied, a)
		ok = append(ok, a)
	}
	return ok, nil
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestSweep_OrphanAlertExpires(t *testing.T) {
	now := time.Now()
	s := &fakeStore{
		alerts: []store.VersionedAlert{{Alert: model.Alert{ID: "a1", MonitorID: "missing", TriggeredTime: model.NewEpochMillis(now)}, Version: 1}},
	}
	sw := New(Config{Store: s, Clock: fixedClock{now}})

	require.NoError(t, sw.Sweep(context.Background()))
	assert.Len(t, s.deleted, 1)
}

func TestSweep_TriggerReshapedExpires(t *testing.T) {
	now := time.Now()
	s := &fakeStore{
		alerts:   []store.VersionedAlert{{Alert: model.Alert{ID: "a1", MonitorID: "m1", TriggerID: "gone", TriggeredTime: model.NewEpochMillis(now)}, Version: 1}},
		monitors: []model.Monitor{{ID: "m1", Triggers: []model.Trigger{{ID: "t1", ExpireDuration: 60}}}},
	}
	sw := New(Config{Store: s, Clock: fixedClock{now}})

	require.NoError(t, sw.Sweep(context.Background()))
	assert.Len(t, s.deleted, 1)
}

func TestSweep_NotYetExpiredSurvives(t *testing.T) {
	now := time.Now()
	s := &fakeStore{
		alerts:   []store.VersionedAlert{{Alert: model.Alert{ID: "a1", MonitorID: "m1", TriggerID: "t1", TriggeredTime: model.NewEpochMillis(now)}, Version: 1}},
		monitors: []model.Monitor{{ID: "m1", Triggers: []model.Trigger{{ID: "t1", ExpireDuration: 60}}}},
	}
	sw := New(Config{Store: s, Clock: fixedClock{now}})

	require.NoError(t, sw.Sweep(context.Background()))
	assert.Empty(t, s.deleted)
}

func TestSweep_HistoryEnabled_OnlyDeletesSuccessfulCopies(t *testing.T) {
	now := time.Now()
	s := &fakeStore{
		alerts: []store.VersionedAlert{
			{Alert: model.Alert{ID: "a1", MonitorID: "missing", TriggeredTime: model.NewEpochMillis(now)}, Version: 1},
			{Alert: model.Alert{ID: "a2", MonitorID: "missing", TriggeredTime: model.NewEpochMillis(now)}, Version: 1},
		},
		copyFail: map[string]bool{"a2": true},
	}
	sw := New(Config{Store: s, Settings: Settings{HistoryEnabled: true}, Clock: fixedClock{now}})

	require.NoError(t, sw.Sweep(context.Background()))
	require.Len(t, s.copied, 1)
	assert.Equal(t, "a1", s.copied[0].Alert.ID)
	require.Len(t, s.deleted, 1)
	assert.Equal(t, "a1", s.deleted[0].Alert.ID)
}

func TestBecomeLeaderThenLoseLeadership_StopsScheduling(t *testing.T) {
	s := &fakeStore{}
	sw := New(Config{Store: s})
	sw.BecomeLeader(context.Background())
	sw.LoseLeadership()
	select {
	case <-sw.done:
	case <-time.After(time.Second):
		t.Fatal("sweeper goroutine did not stop after LoseLeadership")
	}
}
