package config

import (
	"sync"
	"time"
)

// ClusterSettings holds the nine dynamic cluster settings named in spec
// §6. ClusterSettingsStore holds the live copy: Set replaces it and every
// later Get returns the new values. cmd/alertingd reads one snapshot with
// Get at startup and copies it by value into the Runner's and Sweeper's
// settings, so a later Set does not reach a running Runner or Sweeper.
type ClusterSettings struct {
	HistoryEnabled            bool          `yaml:"alert_v2_history_enabled"`
	HistoryRolloverPeriod     time.Duration `yaml:"alert_v2_history_rollover_period"`
	HistoryIndexMaxAge        time.Duration `yaml:"alert_v2_history_index_max_age"`
	HistoryMaxDocs            int           `yaml:"alert_v2_history_max_docs"`
	HistoryRetentionPeriod    time.Duration `yaml:"alert_v2_history_retention_period"`
	QueryResultsMaxDatarows   int           `yaml:"alert_v2_query_results_max_datarows"`
	QueryResultsMaxSizeBytes  int           `yaml:"alert_v2_query_results_max_size"`
	PerResultTriggerMaxAlerts int           `yaml:"alert_v2_per_result_trigger_max_alerts"`
	FilterByBackendRoles      bool          `yaml:"alert_v2_filter_by_backend_roles"`
}

// DefaultClusterSettings mirrors the defaults a fresh cluster ships with.
func DefaultClusterSettings() ClusterSettings {
	return ClusterSettings{
		HistoryEnabled:            true,
		HistoryRolloverPeriod:     12 * time.Hour,
		HistoryIndexMaxAge:        30 * 24 * time.Hour,
		HistoryMaxDocs:            1000,
		HistoryRetentionPeriod:    60 * 24 * time.Hour,
		QueryResultsMaxDatarows:   10000,
		QueryResultsMaxSizeBytes:  1 << 20,
		PerResultTriggerMaxAlerts: 10,
		FilterByBackendRoles:      false,
	}
}

// ClusterSettingsStore is a mutex-guarded holder for ClusterSettings: Get
// returns a consistent snapshot, while an operator surface (outside this
// module's scope) calls Set as settings change.
type ClusterSettingsStore struct {
	mu       sync.RWMutex
	settings ClusterSettings
}

func NewClusterSettingsStore(initial ClusterSettings) *ClusterSettingsStore {
	return &ClusterSettingsStore{settings: initial}
}

func (s *ClusterSettingsStore) Get() ClusterSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *ClusterSettingsStore) Set(settings ClusterSettings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}
