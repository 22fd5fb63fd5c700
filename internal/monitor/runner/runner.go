// Package runner implements the Monitor Runner (spec §4.6): the
// orchestration that turns one (monitor, period) invocation into
// composed queries, evaluated triggers, materialized alerts, dispatched
// notifications and persisted state.
package runner

import (
	"context"
	"time"

	"alertengine/internal/clock"
	"alertengine/internal/errorc"
	"alertengine/internal/monitor/alertbuild"
	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/notify"
	"alertengine/internal/monitor/pql"
	"alertengine/internal/monitor/query"
	"alertengine/internal/monitor/trigger"

	"go.uber.org/zap"
)

var errs = errorc.NewBuilder("runner")

// AlertStore is the narrow slice of the Alert Store this package calls,
// declared here so callers can substitute a fake in tests — in the
// teacher's style of pairing a small interface with its concrete
// implementation (pkg/monitoring/alerting/manager.go's NotifierManager
// next to *alerting.Manager).
type AlertStore interface {
	EnsureCollections(ctx context.Context) error
	SaveAlerts(ctx context.Context, alerts []model.Alert, monitor *model.Monitor) error
	UpdateMonitorLastFiredTimes(ctx context.Context, monitor *model.Monitor) error
}

// Settings are the cluster settings (spec §6) the runner consults.
type Settings struct {
	MaxDataRows        int
	MaxResultBytes     int
	PerResultMaxAlerts int
}

// Config wires the runner's collaborators.
type Config struct {
	Store    AlertStore
	Executor query.Executor
	Notifier notify.Notifier
	Template notify.TemplateEngine
	Clock    clock.Clock
	Settings Settings
	Logger   *zap.Logger
}

type Runner struct {
	store    AlertStore
	executor query.Executor
	notifier notify.Notifier
	template notify.TemplateEngine
	clock    clock.Clock
	settings Settings
	logger   *zap.Logger
}

func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:    cfg.Store,
		executor: cfg.Executor,
		notifier: cfg.Notifier,
		template: cfg.Template,
		clock:    cfg.Clock,
		settings: cfg.Settings,
		logger:   logger.With(zap.String("component", "runner")),
	}
}

// TriggerRunResult is the per-trigger outcome of one run, as referenced
// informally by spec §4.6 step 7.
type TriggerRunResult struct {
	Fired     bool
	Throttled bool
	Error     error
}

// RunResult is the return value of Run (spec §4.6 step 7 / §11).
type RunResult struct {
	MonitorName      string
	Error            error
	TriggerResults   map[string]TriggerRunResult
	TriggerResponses map[string]query.Response
}

// Run executes steps 1-7 of spec §4.6.
func (r *Runner) Run(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time, manual, dryRun bool, executionID string) RunResult {
	result := RunResult{
		MonitorName:      monitor.Name,
		TriggerResults:   make(map[string]TriggerRunResult, len(monitor.Triggers)),
		TriggerResponses: make(map[string]query.Response, len(monitor.Triggers)),
	}

	if monitor.ID == "" {
		result.Error = errs.Validation("monitor identity is not set", nil)
		return result
	}

	if err := r.store.EnsureCollections(ctx); err != nil {
		result.Error = err
		return result
	}

	now, err := r.clock.Now(ctx)
	if err != nil {
		result.Error = errs.Cancelled(ctx)
		return result
	}

	hasLookback := monitor.LookBackWindow != nil
	var lookbackStart time.Time
	if hasLookback {
		lookbackStart = periodEnd.Add(-time.Duration(*monitor.LookBackWindow) * time.Minute)
	}
	timeFilteredQuery := pql.ComposeTimeFiltered(monitor.Query, hasLookback, lookbackStart, periodEnd, monitor.TimestampField)

	principal := query.Principal{
		Name:         monitor.Owner.Name,
		BackendRoles: monitor.Owner.BackendRoles,
		Roles:        monitor.Owner.Roles,
	}

	anyFired := false

	for i := range monitor.Triggers {
		t := &monitor.Triggers[i]

		if trigger.IsThrottled(t, now, manual) {
			result.TriggerResults[t.ID] = TriggerRunResult{Throttled: true}
			continue
		}

		finalQuery := timeFilteredQuery
		if t.ConditionType == model.ConditionCustom {
			finalQuery = pql.ComposeWithCustomCondition(finalQuery, t.Custom.Fragment)
		}
		finalQuery = pql.Cap(finalQuery, r.settings.MaxDataRows)

		resp, err := r.executor.Execute(ctx, query.Request{Query: finalQuery}, principal)
		if err != nil {
			r.persistErrorAlert(ctx, t, monitor, err, executionID, now)
			result.TriggerResults[t.ID] = TriggerRunResult{Error: err}
			continue
		}
		result.TriggerResponses[t.ID] = resp

		fired, err := trigger.Evaluate(t, resp)
		if err != nil {
			r.persistErrorAlert(ctx, t, monitor, err, executionID, now)
			result.TriggerResults[t.ID] = TriggerRunResult{Error: err}
			continue
		}
		if !fired {
			result.TriggerResults[t.ID] = TriggerRunResult{Fired: false}
			continue
		}

		slices, err := trigger.MaterializeResultSlices(t, resp, r.settings.PerResultMaxAlerts, r.settings.MaxResultBytes)
		if err != nil {
			r.persistErrorAlert(ctx, t, monitor, err, executionID, now)
			result.TriggerResults[t.ID] = TriggerRunResult{Error: err}
			continue
		}

		alerts := alertbuild.BuildAlerts(t, monitor, slices, executionID, now)

		// dryRun is a read-only preview: no notification is sent, no
		// alert is persisted, and lastFiredTime is left untouched, so a
		// caller can safely probe a trigger without side effects.
		if !dryRun {
			if err := r.dispatch(ctx, t, monitor, slices, alerts); err != nil {
				r.logger.Warn("notification dispatch failed", zap.String("trigger_id", t.ID), zap.Error(err))
			}
			if err := r.store.SaveAlerts(ctx, alerts, monitor); err != nil {
				result.TriggerResults[t.ID] = TriggerRunResult{Fired: true, Error: err}
				continue
			}
			t.LastFiredTime = &now
			anyFired = true
		}
		result.TriggerResults[t.ID] = TriggerRunResult{Fired: true}
	}

	if anyFired {
		if err := r.store.UpdateMonitorLastFiredTimes(ctx, monitor); err != nil {
			r.logger.Error("failed to persist lastFiredTime", zap.Error(err))
		}
	}

	return result
}

func (r *Runner) persistErrorAlert(ctx context.Context, t *model.Trigger, monitor *model.Monitor, cause error, executionID string, now time.Time) {
	alert := alertbuild.BuildErrorAlert(t, monitor, cause, executionID, now)
	if err := r.store.SaveAlerts(ctx, []model.Alert{alert}, monitor); err != nil {
		r.logger.Error("failed to persist error alert", zap.String("trigger_id", t.ID), zap.Error(err))
	}
}

// dispatch renders and sends one notification per action per slice. An
// empty rendered message fails that action (spec §4.6).
func (r *Runner) dispatch(ctx context.Context, t *model.Trigger, monitor *model.Monitor, slices []trigger.ResultSlice, alerts []model.Alert) error {
	var lastErr error
	for _, action := range t.Actions {
		for si := range slices {
			execCtx := notify.TriggerExecutionContext{Monitor: monitor, Trigger: t, Slice: &slices[si]}
			subject, err := r.template.Render(action.SubjectTemplate, execCtx)
			if err != nil {
				lastErr = err
				continue
			}
			body, err := r.template.Render(action.MessageTemplate, execCtx)
			if err != nil {
				lastErr = err
				continue
			}
			if body == "" {
				lastErr = errs.Validation("rendered notification message is empty", nil)
				continue
			}
			principal := notify.Principal{Name: monitor.Owner.Name, BackendRoles: monitor.Owner.BackendRoles, Roles: monitor.Owner.Roles}
			if err := r.notifier.Send(ctx, action.ID, subject, body, action.DestinationID, principal); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
