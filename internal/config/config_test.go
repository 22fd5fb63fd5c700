package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alertingd.yaml")
	contents := `
node_id: node-1
lock_backend: redis
es:
  hosts: http://localhost:9200
  username: admin
  password: secret
etcd:
  endpoints:
    - http://localhost:2379
  dial_timeout: 5s
redis:
  addr: localhost:6379
  db: 2
cluster_settings:
  alert_v2_history_max_docs: 500
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.Equal(t, "http://localhost:9200", cfg.ES.Hosts)
	assert.Equal(t, "admin", cfg.ES.Username)
	assert.Equal(t, []string{"http://localhost:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, 5*time.Second, cfg.Etcd.DialTimeout)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 500, cfg.ClusterSettings.HistoryMaxDocs)
	// fields absent from the override file keep Default()'s values.
	assert.True(t, cfg.ClusterSettings.HistoryEnabled)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/alertingd.yaml")
	assert.Error(t, err)
}
