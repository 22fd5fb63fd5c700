// Package store persists monitors and alerts against the backing search
// cluster via github.com/olivere/elastic/v7, grounded on the teacher's
// ES client construction in pkg/core/config/elastic.go. It implements
// the Alert Store (spec §4.5) and the monitor/alert read paths the
// sweeper needs (spec §4.7).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"alertengine/internal/errorc"
	"alertengine/internal/monitor/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/olivere/elastic/v7"
	"go.uber.org/zap"
)

var errs = errorc.NewBuilder("store")

// schemaVersion is written into the _meta mapping field of each
// collection EnsureCollections creates. EnsureCollections does not read
// it back: an existing collection's mapping is neither compared against
// it nor upgraded.
const schemaVersion = 1

// Config names the three collections this store manages.
type Config struct {
	ActiveAlertIndex  string
	HistoryWriteAlias string
	MonitorIndex      string
	// BackoffMaxElapsed bounds the 429-retry policy for SaveAlerts.
	BackoffMaxElapsed time.Duration
}

// Store is the Alert Store plus the monitor document store.
type Store struct {
	es     *elastic.Client
	cfg    Config
	logger *zap.Logger
}

func New(es *elastic.Client, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffMaxElapsed == 0 {
		cfg.BackoffMaxElapsed = 30 * time.Second
	}
	return &Store{es: es, cfg: cfg, logger: logger.With(zap.String("component", "store"))}
}

// EnsureCollections idempotently creates the active alert and monitor
// collections if missing. Spec §4.6 step 2 also names the history
// collection, but its write-alias is provisioned and rolled over
// externally (spec §6) — this only confirms the alias resolves to
// something, it never creates the underlying index itself.
func (s *Store) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{s.cfg.ActiveAlertIndex, s.cfg.MonitorIndex} {
		exists, err := s.es.IndexExists(name).Do(ctx)
		if err != nil {
			return errs.Fatal("checking index existence", err)
		}
		if exists {
			continue
		}
		mapping := map[string]interface{}{
			"mappings": map[string]interface{}{
				"_meta": map[string]interface{}{"schema_version": schemaVersion},
			},
		}
		if _, err := s.es.CreateIndex(name).BodyJson(mapping).Do(ctx); err != nil {
			return errs.Fatal("creating index "+name, err)
		}
	}

	aliasExists, err := s.es.Aliases().Alias(s.cfg.HistoryWriteAlias).Do(ctx)
	if err != nil || aliasExists == nil {
		s.logger.Warn("history write-alias not verified; history rollover plumbing is external to this store",
			zap.String("alias", s.cfg.HistoryWriteAlias))
	}
	return nil
}

// SaveAlerts issues a single bulk write with refresh=wait_for, routed by
// monitor id, retrying only 429 items under an exponential backoff
// (spec §4.5).
func (s *Store) SaveAlerts(ctx context.Context, alerts []model.Alert, monitor *model.Monitor) error {
	if len(alerts) == 0 {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.cfg.BackoffMaxElapsed

	pending := alerts
	for {
		failed, err := s.bulkIndex(ctx, pending, monitor.ID)
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			return nil
		}
		pending = failed

		// bo is constructed once, outside the loop: NextBackOff tracks
		// elapsed time across the whole retry sequence, so a persistent
		// 429 eventually exhausts MaxElapsedTime and converts to Fatal
		// instead of retrying forever.
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return errs.Fatal("exhausted 429 retries saving alerts", nil)
		}
		select {
		case <-ctx.Done():
			return errs.Cancelled(ctx)
		case <-time.After(wait):
		}
	}
}

func (s *Store) bulkIndex(ctx context.Context, alerts []model.Alert, monitorID string) ([]model.Alert, error) {
	bulk := s.es.Bulk().Index(s.cfg.ActiveAlertIndex).Refresh("wait_for")
	for i := range alerts {
		if alerts[i].ID == "" {
			alerts[i].ID = uuid.NewString()
		}
		req := elastic.NewBulkIndexRequest().Id(alerts[i].ID).Routing(monitorID).Doc(alerts[i])
		bulk.Add(req)
	}

	resp, err := bulk.Do(ctx)
	if err != nil {
		return nil, errs.Fatal("bulk save alerts failed", err)
	}
	if !resp.Errors {
		return nil, nil
	}

	var retry []model.Alert
	for i, item := range resp.Items {
		res := firstBulkResult(item)
		if res == nil || res.Status < 300 {
			continue
		}
		if res.Status == 429 {
			retry = append(retry, alerts[i])
			continue
		}
		cause := "unknown cause"
		if res.Error != nil {
			cause = res.Error.Reason
		}
		return nil, errs.Fatal("bulk save alerts failed on item "+res.Id, errors.New(cause))
	}
	return retry, nil
}

func firstBulkResult(item map[string]*elastic.BulkResponseItem) *elastic.BulkResponseItem {
	for _, v := range item {
		return v
	}
	return nil
}

// UpdateMonitorLastFiredTimes persists lastFiredTime on each trigger by
// partial-updating the monitor document, never replacing it wholesale —
// the resolved Open Question from spec §9: a full-document replace
// reassigns trigger/action ids if the serializer treats them as
// transient, so this only ever touches the triggers field and carries
// the in-memory ids (never regenerated) straight onto the wire.
func (s *Store) UpdateMonitorLastFiredTimes(ctx context.Context, monitor *model.Monitor) error {
	partial := map[string]interface{}{"triggers": monitor.Triggers}
	_, err := s.es.Update().
		Index(s.cfg.MonitorIndex).
		Id(monitor.ID).
		Routing(monitor.ID).
		Doc(partial).
		Do(ctx)
	if err != nil {
		return errs.Fatal("persisting trigger lastFiredTime", err)
	}
	return nil
}

// ListActiveAlerts loads up to maxDocs active alerts with their
// versions, for the sweeper (spec §4.7 step 1).
func (s *Store) ListActiveAlerts(ctx context.Context, maxDocs int) ([]VersionedAlert, error) {
	result, err := s.es.Search().
		Index(s.cfg.ActiveAlertIndex).
		Query(elastic.NewMatchAllQuery()).
		Version(true).
		Size(maxDocs).
		Do(ctx)
	if err != nil {
		return nil, errs.Fatal("listing active alerts", err)
	}

	out := make([]VersionedAlert, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		var a model.Alert
		if err := unmarshalHit(hit, &a); err != nil {
			s.logger.Warn("skipping unparseable alert document", zap.String("id", hit.Id), zap.Error(err))
			continue
		}
		a.ID = hit.Id
		version := int64(1)
		if hit.Version != nil {
			version = *hit.Version
		}
		out = append(out, VersionedAlert{Alert: a, Version: version})
	}
	return out, nil
}

// ListMonitors loads up to maxDocs monitor documents, for the sweeper
// (spec §4.7 step 2).
func (s *Store) ListMonitors(ctx context.Context, maxDocs int) ([]model.Monitor, error) {
	result, err := s.es.Search().
		Index(s.cfg.MonitorIndex).
		Query(elastic.NewMatchAllQuery()).
		Size(maxDocs).
		Do(ctx)
	if err != nil {
		return nil, errs.Fatal("listing monitors", err)
	}

	out := make([]model.Monitor, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		var m model.Monitor
		if err := unmarshalHit(hit, &m); err != nil {
			s.logger.Warn("skipping unparseable monitor document", zap.String("id", hit.Id), zap.Error(err))
			continue
		}
		m.ID = hit.Id
		out = append(out, m)
	}
	return out, nil
}

// VersionedAlert pairs an alert with its document version, needed for
// the sweeper's external-gte versioned copy/delete.
type VersionedAlert struct {
	Alert   model.Alert
	Version int64
}

// DeleteExpiredAlerts bulk-deletes the given alerts from the active
// collection using external-gte versioning, so a concurrent write to
// the same alert id is never clobbered by a stale delete.
func (s *Store) DeleteExpiredAlerts(ctx context.Context, alerts []VersionedAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	bulk := s.es.Bulk().Index(s.cfg.ActiveAlertIndex).Refresh("wait_for")
	for _, a := range alerts {
		req := elastic.NewBulkDeleteRequest().
			Id(a.Alert.ID).
			Version(a.Version).
			VersionType("external_gte")
		bulk.Add(req)
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return errs.Fatal("bulk delete expired alerts failed", err)
	}
	return firstBulkError(resp)
}

// CopyToHistory bulk-copies alerts into the history write-alias,
// preserving id and version (external-gte), so the history copy's
// version is always >= the active copy's (spec invariant 9). It returns
// the subset that copied successfully — callers must only delete those
// from the active collection (spec §4.7 step 4).
func (s *Store) CopyToHistory(ctx context.Context, alerts []VersionedAlert) ([]VersionedAlert, error) {
	if len(alerts) == 0 {
		return nil, nil
	}
	bulk := s.es.Bulk().Index(s.cfg.HistoryWriteAlias).Refresh("wait_for")
	for _, a := range alerts {
		req := elastic.NewBulkIndexRequest().
			Id(a.Alert.ID).
			Version(a.Version).
			VersionType("external_gte").
			Doc(a.Alert)
		bulk.Add(req)
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return nil, errs.Fatal("bulk copy to history failed", err)
	}

	var copied []VersionedAlert
	for i, item := range resp.Items {
		res := firstBulkResult(item)
		if res != nil && res.Status >= 300 {
			s.logger.Warn("history copy failed for alert, skipping delete", zap.String("id", res.Id))
			continue
		}
		copied = append(copied, alerts[i])
	}
	return copied, nil
}

func firstBulkError(resp *elastic.BulkResponse) error {
	if !resp.Errors {
		return nil
	}
	for _, item := range resp.Items {
		res := firstBulkResult(item)
		if res == nil || res.Status < 300 {
			continue
		}
		cause := "unknown cause"
		if res.Error != nil {
			cause = res.Error.Reason
		}
		if res.Status == 429 {
			return errs.Transient("bulk operation rate limited", errors.New(cause))
		}
		return errs.Fatal("bulk operation failed on item "+res.Id, errors.New(cause))
	}
	return nil
}

func unmarshalHit(hit *elastic.SearchHit, v interface{}) error {
	return json.Unmarshal(hit.Source, v)
}
