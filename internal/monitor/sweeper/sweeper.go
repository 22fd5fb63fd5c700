// Package sweeper implements the Alert Lifecycle Sweeper (spec §4.7): a
// cluster-singleton background service that expires or archives active
// alerts whose monitor or trigger definition has moved on.
package sweeper

import (
	"context"
	"time"

	"alertengine/internal/errorc"
	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/store"

	"go.uber.org/zap"
)

var errs = errorc.NewBuilder("sweeper")

const (
	defaultMaxDocs = 10000
	sweepInterval  = time.Minute
)

// Store is the narrow slice of the store package the sweeper reads and
// writes, declared locally so tests can substitute a fake.
type Store interface {
	ListActiveAlerts(ctx context.Context, maxDocs int) ([]store.VersionedAlert, error)
	ListMonitors(ctx context.Context, maxDocs int) ([]model.Monitor, error)
	DeleteExpiredAlerts(ctx context.Context, alerts []store.VersionedAlert) error
	CopyToHistory(ctx context.Context, alerts []store.VersionedAlert) ([]store.VersionedAlert, error)
}

// Clock abstracts "now" for expiry comparisons.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Settings are what the sweeper consults: HistoryEnabled is the
// alert_v2_history_enabled cluster setting (spec §6) choosing between
// archiving to history and hard-deleting, and MaxDocs caps how many
// active alerts and how many monitors one sweep loads (0 means 10000).
type Settings struct {
	HistoryEnabled bool
	MaxDocs        int
}

type Config struct {
	Store    Store
	Settings Settings
	Clock    Clock
	Logger   *zap.Logger
}

// Sweeper is driven by an external leader-election signal: BecomeLeader
// starts its ticking loop, LoseLeadership stops it. It never self-elects.
type Sweeper struct {
	store    Store
	settings Settings
	clock    Clock
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}
	if cfg.Settings.MaxDocs == 0 {
		cfg.Settings.MaxDocs = defaultMaxDocs
	}
	return &Sweeper{store: cfg.Store, settings: cfg.Settings, clock: clk, logger: logger.With(zap.String("component", "sweeper"))}
}

// BecomeLeader runs one sweep immediately, then schedules further sweeps
// on a fixed delay of one minute (spec §4.7). Sweeps never overlap
// because the next is scheduled only after the previous completes.
func (s *Sweeper) BecomeLeader(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	// Sweeps run under ctx, not runCtx, so LoseLeadership does not abort
	// one that is already in flight.
	go func() {
		defer close(s.done)
		s.runOne(ctx)
		timer := time.NewTimer(sweepInterval)
		defer timer.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
				s.runOne(ctx)
				timer.Reset(sweepInterval)
			}
		}
	}()
}

// LoseLeadership cancels the schedule. An in-flight sweep is allowed to
// complete (spec §4.7) — this only stops the next tick from firing.
func (s *Sweeper) LoseLeadership() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sweeper) runOne(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed, next tick will retry", zap.Error(err))
	}
}

// Sweep implements one pass of spec §4.7 steps 1-5.
//
// Spec §4.7 calls for skipping the sweep outright when the active or
// history collection isn't initialized yet. This returns the ES "index
// not found" failure as a Fatal error instead — runOne logs it and the
// next tick retries, which converges to the same place but isn't a
// literal skip.
func (s *Sweeper) Sweep(ctx context.Context) error {
	alerts, err := s.store.ListActiveAlerts(ctx, s.settings.MaxDocs)
	if err != nil {
		return errs.Fatal("loading active alerts", err)
	}
	monitors, err := s.store.ListMonitors(ctx, s.settings.MaxDocs)
	if err != nil {
		return errs.Fatal("loading monitors", err)
	}

	monitorsByID := make(map[string]model.Monitor, len(monitors))
	for _, m := range monitors {
		monitorsByID[m.ID] = m
	}

	now := s.clock.Now()
	var expired []store.VersionedAlert
	for _, a := range alerts {
		if isExpired(a.Alert, monitorsByID, now) {
			expired = append(expired, a)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	if !s.settings.HistoryEnabled {
		return s.store.DeleteExpiredAlerts(ctx, expired)
	}

	copied, err := s.store.CopyToHistory(ctx, expired)
	if err != nil {
		return err
	}
	// Only alerts that copied successfully are safe to delete from
	// active — a failed copy must not lose the alert (spec §4.7 step 4).
	return s.store.DeleteExpiredAlerts(ctx, copied)
}

// isExpired implements spec §4.7 step 3's three expiry conditions.
func isExpired(a model.Alert, monitorsByID map[string]model.Monitor, now time.Time) bool {
	monitor, ok := monitorsByID[a.MonitorID]
	if !ok {
		return true // orphaned: monitor no longer exists
	}
	var trig *model.Trigger
	for i := range monitor.Triggers {
		if monitor.Triggers[i].ID == a.TriggerID {
			trig = &monitor.Triggers[i]
			break
		}
	}
	if trig == nil {
		return true // trigger reshaped out from under the alert
	}
	return now.Sub(a.TriggeredTime.Time()) >= time.Duration(trig.ExpireDuration)*time.Minute
}
