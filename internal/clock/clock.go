// Package clock resolves the cluster-absolute time source left open by
// the monitor runner's design (§5/§9): every run reads "now" once from a
// monotonic, cluster-consistent clock rather than the local node clock.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock returns the cluster-absolute time used to stamp a monitor run.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// System is the trivial local-clock fallback, used outside of production
// topologies where no cluster time probe is configured.
type System struct{}

func (System) Now(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Now().UTC(), nil
}

// Fixed is a test double returning a constant instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now(context.Context) (time.Time, error) { return f.T, nil }

// ProbeFunc reads the backing search cluster's own server time, e.g. via
// the PQL executor's health endpoint. It is intentionally decoupled from
// the query package so this package stays free of that dependency.
type ProbeFunc func(ctx context.Context) (time.Time, error)

// Cluster resolves "now" as the local clock plus a cached offset against
// the cluster's clock. The offset is refreshed at most once per
// probeInterval; between refreshes it applies the last observed skew
// rather than calling the cluster once per trigger evaluation.
type Cluster struct {
	probe         ProbeFunc
	probeInterval time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	offset    time.Duration
	lastProbe time.Time
}

func NewCluster(probe ProbeFunc, probeInterval time.Duration, logger *zap.Logger) *Cluster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cluster{
		probe:         probe,
		probeInterval: probeInterval,
		logger:        logger.With(zap.String("component", "clock")),
	}
}

func (c *Cluster) Now(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	stale := time.Since(c.lastProbe) >= c.probeInterval
	c.mu.Unlock()

	if stale {
		if clusterNow, err := c.probe(ctx); err != nil {
			c.logger.Warn("cluster time probe failed, using cached offset", zap.Error(err))
		} else {
			c.mu.Lock()
			c.offset = clusterNow.Sub(time.Now().UTC())
			c.lastProbe = time.Now()
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()
	return time.Now().UTC().Add(offset), ctx.Err()
}
