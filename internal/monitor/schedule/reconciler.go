// Package schedule reconciles the monitor store's monitor documents
// against the scheduler (internal/scheduler): the "external scheduler"
// spec.md's control-flow paragraph hands (monitor, periodStart,
// periodEnd) invocations to the Monitor Runner from.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/runner"
	"alertengine/internal/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MonitorLister is the narrow slice of the store the reconciler polls.
type MonitorLister interface {
	ListMonitors(ctx context.Context, maxDocs int) ([]model.Monitor, error)
}

// Runner is the slice of runner.Runner the reconciler drives.
type Runner interface {
	Run(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time, manual, dryRun bool, executionID string) runner.RunResult
}

// Config wires the reconciler.
type Config struct {
	Store        MonitorLister
	Runner       Runner
	Scheduler    *scheduler.Scheduler
	PollInterval time.Duration
	MaxMonitors  int
	Logger       *zap.Logger
}

// Reconciler periodically lists enabled monitors and keeps one
// scheduler.IntervalTask registered per monitor, so the scheduler's
// existing leader-election (a single active executor across instances)
// is what serializes per-monitor-id execution across the cluster — the
// runner itself never self-locks (spec §5).
type Reconciler struct {
	store        MonitorLister
	runner       Runner
	sched        *scheduler.Scheduler
	pollInterval time.Duration
	maxMonitors  int
	logger       *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time // monitorID -> periodEnd of the last scheduled tick
	taskIDs  map[string]string    // monitorID -> scheduler task id
}

func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}
	maxMonitors := cfg.MaxMonitors
	if maxMonitors == 0 {
		maxMonitors = 10000
	}
	return &Reconciler{
		store:        cfg.Store,
		runner:       cfg.Runner,
		sched:        cfg.Scheduler,
		pollInterval: pollInterval,
		maxMonitors:  maxMonitors,
		logger:       logger.With(zap.String("component", "schedule_reconciler")),
		lastSeen:     make(map[string]time.Time),
		taskIDs:      make(map[string]string),
	}
}

// Run blocks, polling until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.reconcileOnce(ctx)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	monitors, err := r.store.ListMonitors(ctx, r.maxMonitors)
	if err != nil {
		r.logger.Warn("listing monitors failed, leaving existing schedule in place", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(monitors))
	for i := range monitors {
		m := monitors[i]
		seen[m.ID] = true
		if !m.Enabled {
			r.removeLocked(m.ID)
			continue
		}
		if _, scheduled := r.taskIDs[m.ID]; scheduled {
			continue
		}
		r.scheduleLocked(m)
	}

	for id := range r.taskIDs {
		if !seen[id] {
			r.removeLocked(id)
		}
	}
}

func (r *Reconciler) scheduleLocked(m model.Monitor) {
	interval, err := intervalFor(m.Schedule)
	if err != nil {
		r.logger.Warn("skipping monitor with unschedulable interval", zap.String("monitor_id", m.ID), zap.Error(err))
		return
	}

	monitor := m
	task := scheduler.NewIntervalTask(
		fmt.Sprintf("monitor:%s", monitor.ID),
		time.Now().Add(interval),
		interval,
		scheduler.TaskExecuteModeDistributed,
		30*time.Second,
		func(ctx context.Context) error {
			return r.runOnce(ctx, &monitor)
		},
	)
	if err := r.sched.AddTask(task); err != nil {
		r.logger.Warn("failed to register monitor task", zap.String("monitor_id", monitor.ID), zap.Error(err))
		return
	}
	r.taskIDs[monitor.ID] = task.GetID()
}

func (r *Reconciler) removeLocked(monitorID string) {
	taskID, ok := r.taskIDs[monitorID]
	if !ok {
		return
	}
	r.sched.RemoveTask(taskID)
	delete(r.taskIDs, monitorID)
	delete(r.lastSeen, monitorID)
}

func (r *Reconciler) runOnce(ctx context.Context, monitor *model.Monitor) error {
	periodEnd := time.Now().UTC()
	r.mu.Lock()
	periodStart, ok := r.lastSeen[monitor.ID]
	r.mu.Unlock()
	if !ok {
		periodStart = periodEnd.Add(-intervalForOrDefault(monitor.Schedule))
	}

	result := r.runner.Run(ctx, monitor, periodStart, periodEnd, false, false, uuid.NewString())

	r.mu.Lock()
	r.lastSeen[monitor.ID] = periodEnd
	r.mu.Unlock()

	return result.Error
}

func intervalFor(s model.Schedule) (time.Duration, error) {
	unit := time.Duration(0)
	switch s.Unit {
	case "SECONDS":
		unit = time.Second
	case "MINUTES":
		unit = time.Minute
	case "HOURS":
		unit = time.Hour
	case "DAYS":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown schedule unit %q", s.Unit)
	}
	if s.Interval <= 0 {
		return 0, fmt.Errorf("non-positive schedule interval %d", s.Interval)
	}
	return time.Duration(s.Interval) * unit, nil
}

func intervalForOrDefault(s model.Schedule) time.Duration {
	d, err := intervalFor(s)
	if err != nil {
		return time.Minute
	}
	return d
}
