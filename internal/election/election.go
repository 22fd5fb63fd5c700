// Package election provides cluster-singleton leader election over
// etcd, adapted from the teacher's campaign-loop/session-renewal idiom
// (pkg/distributed/election) but stripped to the one thing the sweeper
// needs: a single named election with become/lose-leader callbacks. The
// teacher's multi-instance ElectionService registry (etcd-persisted
// per-name configs, a REST-manageable set of elections) has no
// SPEC_FULL.md consumer — this module runs exactly one election.
package election

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// EventType mirrors the teacher's ElectionEvent shape.
type EventType string

const (
	EventBecomeLeader   EventType = "become_leader"
	EventBecomeFollower EventType = "become_follower"
)

type Event struct {
	Type      EventType
	Leader    string
	Timestamp time.Time
}

type Handler func(Event)

// Config configures one election.
type Config struct {
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
	NodeID        string
	Logger        *zap.Logger
}

// Election campaigns for leadership on a single etcd key prefix and
// notifies registered handlers when leadership changes.
type Election struct {
	client *clientv3.Client
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	handlers []Handler
	isLeader bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(client *clientv3.Client, cfg Config) *Election {
	if cfg.TTL == 0 {
		cfg.TTL = 15 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Election{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "election"), zap.String("prefix", cfg.Prefix)),
	}
}

func (e *Election) AddHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Start begins the campaign loop in the background.
func (e *Election) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.campaignLoop()
}

// Stop resigns (if leading) and stops the campaign loop.
func (e *Election) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// campaignLoop mirrors electionImpl's session+Campaign loop: a session
// that auto-renews over TTL and a blocking Campaign call. Once elected it
// waits for the session to end (session.Done()), reports the loss of
// leadership, and then starts a fresh session/campaign.
func (e *Election) campaignLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		session, err := concurrency.NewSession(e.client, concurrency.WithTTL(int(e.cfg.TTL.Seconds())), concurrency.WithContext(e.ctx))
		if err != nil {
			e.logger.Warn("failed to create election session, retrying", zap.Error(err))
			e.sleep(e.cfg.RetryInterval)
			continue
		}

		elec := concurrency.NewElection(session, e.cfg.Prefix)
		if err := elec.Campaign(e.ctx, e.cfg.NodeID); err != nil {
			session.Close()
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Warn("campaign failed, retrying", zap.Error(err))
			e.sleep(e.cfg.RetryInterval)
			continue
		}

		e.setLeader(true)
		e.notify(Event{Type: EventBecomeLeader, Leader: e.cfg.NodeID, Timestamp: time.Now()})

		select {
		case <-e.ctx.Done():
			_ = elec.Resign(context.Background())
			session.Close()
			e.setLeader(false)
			return
		case <-session.Done():
			e.setLeader(false)
			e.notify(Event{Type: EventBecomeFollower, Timestamp: time.Now()})
		}
	}
}

func (e *Election) setLeader(v bool) {
	e.mu.Lock()
	e.isLeader = v
	e.mu.Unlock()
}

func (e *Election) notify(ev Event) {
	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (e *Election) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
	case <-timer.C:
	}
}
