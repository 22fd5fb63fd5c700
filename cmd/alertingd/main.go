// Command alertingd runs the monitor execution engine and alert lifecycle
// manager: a scheduler driving the Monitor Runner per monitor, and a
// leader-elected Sweeper expiring/archiving alerts. Composition follows
// the teacher's cmd/aio/main.go style: construct leaf clients, hand them
// to New(Config{...}) constructors, Start in dependency order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alertengine/internal/clock"
	"alertengine/internal/config"
	"alertengine/internal/election"
	"alertengine/internal/etcd"
	"alertengine/internal/lock"
	"alertengine/internal/monitor/notify"
	"alertengine/internal/monitor/query"
	"alertengine/internal/monitor/runner"
	"alertengine/internal/monitor/schedule"
	"alertengine/internal/monitor/store"
	"alertengine/internal/monitor/sweeper"
	"alertengine/internal/scheduler"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	version = "dev"
)

func main() {
	configPath := flag.String("config", "./conf/alertingd.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("alertingd %s\n", version)
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("alertingd exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	esClient, err := config.NewESClient(cfg.ES)
	if err != nil {
		return fmt.Errorf("connecting to search cluster: %w", err)
	}

	etcdClient, err := etcd.NewEtcdClient(&etcd.ClientConfig{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to etcd: %w", err)
	}
	defer etcdClient.Close()

	lockManager, err := newLockManager(cfg, etcdClient, logger)
	if err != nil {
		return fmt.Errorf("initializing lock manager: %w", err)
	}
	defer lockManager.Close()

	settingsStore := config.NewClusterSettingsStore(cfg.ClusterSettings)

	alertStore := store.New(esClient, store.Config{
		ActiveAlertIndex:  "alerts-active",
		HistoryWriteAlias: "alerts-history-write",
		MonitorIndex:      "monitors",
		BackoffMaxElapsed: time.Minute,
	}, logger)

	executor := query.NewPPLExecutor(esClient, "")
	clusterClock := clock.NewCluster(executor.ProbeFunc(), time.Minute, logger)
	templateEngine := notify.NewFastTemplateEngine()
	notifier := notify.NewWebhookNotifier(nil)

	settings := settingsStore.Get()
	monitorRunner := runner.New(runner.Config{
		Store:    alertStore,
		Executor: executor,
		Notifier: notifier,
		Template: templateEngine,
		Clock:    clusterClock,
		Settings: runner.Settings{
			MaxDataRows:        settings.QueryResultsMaxDatarows,
			MaxResultBytes:     settings.QueryResultsMaxSizeBytes,
			PerResultMaxAlerts: settings.PerResultTriggerMaxAlerts,
		},
		Logger: logger,
	})

	sweep := sweeper.New(sweeper.Config{
		Store: alertStore,
		Clock: clusterClockAdapter{ctx: ctx, clock: clusterClock, logger: logger},
		Settings: sweeper.Settings{
			HistoryEnabled: settings.HistoryEnabled,
		},
		Logger: logger,
	})

	elec := election.New(etcdClient.GetClient(), election.Config{
		Prefix: "/alertengine/sweeper-leader",
		NodeID: cfg.NodeID,
		Logger: logger,
	})
	elec.AddHandler(func(ev election.Event) {
		switch ev.Type {
		case election.EventBecomeLeader:
			logger.Info("became sweeper leader", zap.String("node_id", cfg.NodeID))
			sweep.BecomeLeader(ctx)
		case election.EventBecomeFollower:
			logger.Info("lost sweeper leadership", zap.String("node_id", cfg.NodeID))
			sweep.LoseLeadership()
		}
	})
	elec.Start(ctx)
	defer elec.Stop()

	sched := scheduler.NewScheduler(lockManager, &scheduler.SchedulerConfig{
		NodeID:        cfg.NodeID,
		LockKey:       "alertengine/scheduler/leader",
		LockTTL:       30 * time.Second,
		CheckInterval: time.Second,
		MaxWorkers:    10,
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	reconciler := schedule.New(schedule.Config{
		Store:        alertStore,
		Runner:       monitorRunner,
		Scheduler:    sched,
		PollInterval: 30 * time.Second,
		Logger:       logger,
	})
	go reconciler.Run(ctx)

	logger.Info("alertingd started", zap.String("node_id", cfg.NodeID))
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")
	return nil
}

// clusterClockAdapter bridges clock.Clock's (Now(ctx) (time.Time, error))
// onto sweeper.Clock's (Now() time.Time), so the Sweeper ages alerts off the
// same cluster-absolute clock the Monitor Runner uses rather than the node's
// local wall clock. clock.Cluster absorbs probe failures itself by applying
// its last cached offset; its Now returns an error only once c.ctx is done,
// and the adapter then falls back to time.Now().
type clusterClockAdapter struct {
	ctx    context.Context
	clock  *clock.Cluster
	logger *zap.Logger
}

func (c clusterClockAdapter) Now() time.Time {
	t, err := c.clock.Now(c.ctx)
	if err != nil {
		c.logger.Warn("cluster clock read failed, falling back to local time", zap.Error(err))
		return time.Now()
	}
	return t
}

func newLockManager(cfg *config.Config, etcdClient *etcd.EtcdClient, logger *zap.Logger) (lock.LockManager, error) {
	switch cfg.LockBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return lock.NewRedisLockManager(rdb, "alertengine", &lock.LockManagerOptions{Logger: logger}), nil
	case "etcd", "":
		return lock.NewEtcdLockManager(etcdClient, "alertengine", &lock.LockManagerOptions{TTL: 30 * time.Second, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}
