// Package config loads the static process configuration (cluster
// endpoints, credentials) and exposes the dynamic cluster settings (spec
// §6) that govern monitor execution and alert lifecycle behavior.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/olivere/elastic/v7"
	"gopkg.in/yaml.v3"
)

// ES holds the search cluster connection the Alert Store and Monitor
// Runner's query executor talk to.
type ES struct {
	Hosts    string `yaml:"hosts"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewESClient builds the shared elastic.Client, adapted from the teacher's
// InitES (pkg/core/config/elastic.go): sniffing disabled (clusters are
// usually fronted by a load balancer the client shouldn't try to bypass),
// basic auth applied when credentials are present.
func NewESClient(cfg ES) (*elastic.Client, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetSniff(false),
		elastic.SetURL(strings.Split(cfg.Hosts, ",")...),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}
	return elastic.NewClient(opts...)
}

// Etcd holds the coordination cluster endpoints used for the Sweeper's
// leader election and the optional etcd lock backend.
type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

// Redis holds the connection for the alternative redislock backend.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the top-level static process configuration, loaded once at
// startup (spec §9.3 resolves hot-reload to ClusterSettings only; this
// part restarts the process to change).
type Config struct {
	NodeID          string          `yaml:"node_id"`
	ES              ES              `yaml:"es"`
	Etcd            Etcd            `yaml:"etcd"`
	Redis           Redis           `yaml:"redis"`
	LockBackend     string          `yaml:"lock_backend"` // "etcd" or "redis"
	ClusterSettings ClusterSettings `yaml:"cluster_settings"`
}

// Load reads a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the cluster settings defaults from spec §6.
func Default() *Config {
	return &Config{
		LockBackend:     "etcd",
		ClusterSettings: DefaultClusterSettings(),
	}
}
