package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fleet-monitor/asset-tracking/internal/alerting"
	"fleet-monitor/asset-tracking/internal/auth"
	"fleet-monitor/asset-tracking/internal/broadcast"
	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/export"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/pipeline"
	"fleet-monitor/asset-tracking/internal/scheduler"
	"fleet-monitor/asset-tracking/internal/store"
	"fleet-monitor/asset-tracking/internal/supervisor"
	"fleet-monitor/asset-tracking/internal/tracking"
	transport "fleet-monitor/asset-tracking/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server stopped")
	}
	logging.Info().Msg("shutdown complete")
}

// backend bundles what differs between the postgres and memory deployments.
type backend struct {
	store      store.Store
	fixes      broadcast.FixSource
	suppressor alerting.Suppressor
	keys       auth.KeyLookup
	redis      *store.RedisStore
	cached     *store.CachedFixReader
	checks     map[string]transport.Pinger
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Store.Backend == config.BackendMemory {
		mem := store.NewMemoryStore()
		logging.Warn().Msg("using in-memory store; data is lost on exit")
		return &backend{
			store:      mem,
			fixes:      mem,
			suppressor: alerting.NewMemorySuppressor(),
			checks:     map[string]transport.Pinger{"store": mem},
		}, nil
	}

	ts, err := store.NewTimescaleStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		ts.Close()
		return nil, err
	}
	cached := store.NewCachedFixReader(rs, ts, store.WithStaleWindow(cfg.Redis.StateTTL))
	return &backend{
		store:      ts,
		fixes:      cached,
		suppressor: rs,
		keys:       rs,
		redis:      rs,
		cached:     cached,
		checks:     map[string]transport.Pinger{"database": ts, "redis": rs},
	}, nil
}

func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	b.store.Close()
}

func run(ctx context.Context, cfg *config.Config) error {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	policy, err := alerting.NewPolicy(cfg.Alerts.DedupPolicy, b.suppressor)
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	var (
		svcOpts  []tracking.Option
		notifier scheduler.AlertNotifier
	)
	if b.redis != nil {
		d := pipeline.NewDispatcher(cfg.Pipeline.StateChannelSize, cfg.Pipeline.AlertChannelSize)
		d.Stale = b.cached
		tree.AddPipelineService(pipeline.NewWorkers(d, b.redis, b.redis,
			cfg.Pipeline.StateWriterWorkers, cfg.Pipeline.AlertWorkers))
		svcOpts = append(svcOpts, tracking.WithDispatcher(d))
		notifier = d
	}

	svc := tracking.NewService(b.store, svcOpts...)

	engine := broadcast.NewEngine(b.fixes, broadcast.Config{
		PollInterval: cfg.Broadcast.PollInterval,
		SendTimeout:  cfg.Broadcast.SendTimeout,
	})
	tree.AddCoreService(engine)
	tree.AddCoreService(scheduler.New(b.store, policy, notifier, scheduler.Config{
		Interval:       cfg.Scheduler.Interval,
		StaleThreshold: cfg.Alerts.StaleThreshold,
	}))

	exports, err := export.New(cfg.Export, b.store)
	if err != nil {
		return err
	}
	defer exports.Close()

	authn := auth.NewAuthenticator(cfg.Auth, b.keys)

	handler := transport.NewHandler(transport.HandlerDeps{
		Service:     svc,
		Exports:     exports,
		Engine:      engine,
		Checks:      b.checks,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      transport.NewRouter(handler, authn, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("port", cfg.Server.Port).
		Str("store", cfg.Store.Backend).
		Str("dedup_policy", policy.Mode()).
		Dur("scheduler_interval", cfg.Scheduler.Interval).
		Dur("poll_interval", cfg.Broadcast.PollInterval).
		Msg("starting asset tracking server")

	return tree.Serve(ctx)
}
