// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/pubsub-bridge/internal/api"
	"github.com/ManuGH/pubsub-bridge/internal/broker"
	"github.com/ManuGH/pubsub-bridge/internal/cache"
	"github.com/ManuGH/pubsub-bridge/internal/config"
	"github.com/ManuGH/pubsub-bridge/internal/dispatch"
	"github.com/ManuGH/pubsub-bridge/internal/health"
	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/queue"
	"github.com/ManuGH/pubsub-bridge/internal/registry"
	"github.com/ManuGH/pubsub-bridge/internal/resource"
	"github.com/ManuGH/pubsub-bridge/internal/subscriber"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
	"github.com/ManuGH/pubsub-bridge/internal/telemetry"
)

// App is a fully wired daemon.
type App struct {
	Manager  *Manager
	Health   *health.Manager
	Queue    *queue.Queue
	Broker   broker.Client
	Registry *registry.CacheRegistry
	Resource *resource.Sub
}

// Bootstrap builds every component from cfg. Resources opened here are
// released by the manager's shutdown hooks; on error they are released
// before returning.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (app *App, err error) {
	logger := log.WithComponent("bootstrap")
	clk := clock.New()

	var closers []namedHook
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].hook(context.WithoutCancel(ctx))
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()
	onClose := func(name string, fn ShutdownHook) {
		closers = append(closers, namedHook{name: name, hook: fn})
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	onClose("telemetry", tp.Shutdown)

	hm := health.NewManager(cfg.Version)

	var rdb *redis.Client
	if cfg.Broker.Backend == config.BrokerRedis || cfg.Registry.Backend == config.RegistryRedis {
		rdb, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		onClose("redis", func(context.Context) error { return rdb.Close() })
		hm.RegisterChecker(health.NewRedisChecker(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
	}

	var c cache.Cache
	switch cfg.Registry.Backend {
	case config.RegistryRedis:
		c = cache.NewRedisCache(rdb, log.WithComponent("registry-cache"))
	case config.RegistryNone:
		c = cache.NewNoOpCache()
	default:
		c = cache.NewMemoryCacheWithClock(clk, cfg.Registry.LeaseTTL)
	}
	onClose("registry-cache", func(context.Context) error { return c.Close() })
	reg := registry.New(c, registry.Options{
		KeyPrefix: cfg.Registry.KeyPrefix,
		LeaseTTL:  cfg.Registry.LeaseTTL,
		Clock:     clk,
	})

	opts := broker.Options{
		Backend: cfg.Broker.Backend,
		Buffer:  cfg.Broker.Buffer,
		Kafka: broker.KafkaConfig{
			Brokers:       cfg.Broker.Kafka.Brokers,
			ConsumerGroup: cfg.Broker.Kafka.ConsumerGroup,
		},
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	bc, err := broker.New(opts)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	onClose("broker", func(context.Context) error { return bc.Close() })

	var store queue.Store
	switch cfg.Queue.Backend {
	case config.QueueSQLite:
		ss, err := queue.NewSqliteStore(ctx, cfg.Queue.Path)
		if err != nil {
			return nil, fmt.Errorf("queue store: %w", err)
		}
		hm.RegisterChecker(&health.SQLiteChecker{DB: ss.DB})
		store = ss
	default:
		store = queue.NewMemoryStore()
	}
	onClose("queue-store", func(context.Context) error { return store.Close() })
	q := queue.New(store, clk)

	policy, err := subscription.ParseConflictPolicy(cfg.Subscriber.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	sub := &resource.Sub{
		Registry: reg,
		Liveness: &registry.Liveness{
			Registry:     reg,
			Jobs:         q,
			Kind:         subscriber.Kind,
			PendingGrace: cfg.Queue.PendingGrace,
			Clock:        clk,
		},
		Queue:           q,
		Publisher:       bc,
		TerminatorTopic: cfg.Subscriber.TerminatorTopic,
		ConflictPolicy:  policy,
	}

	var runners []Runner
	if cfg.Queue.Worker {
		d, err := dispatch.NewHTTPDispatcher(dispatch.Config{
			BaseURL:      cfg.Dispatch.BaseURL,
			Timeout:      cfg.Dispatch.Timeout,
			Retries:      uint64(max(cfg.Dispatch.Retries, 0)),
			RetryBackoff: cfg.Dispatch.RetryBackoff,
			RateLimit:    cfg.Dispatch.RateLimit,
			Burst:        cfg.Dispatch.Burst,
			Headers:      cfg.Dispatch.Headers,

			BreakerThreshold: cfg.Dispatch.BreakerThreshold,
			BreakerReset:     cfg.Dispatch.BreakerReset,
		})
		if err != nil {
			return nil, fmt.Errorf("dispatcher: %w", err)
		}

		w := queue.NewWorker(q, queue.WorkerConfig{
			Owner:             cfg.Queue.Owner,
			Concurrency:       cfg.Queue.Concurrency,
			PollInterval:      cfg.Queue.PollInterval,
			HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		})
		w.Register(subscriber.Kind, subscriber.NewHandler(subscriber.Deps{
			Broker:          bc,
			Registry:        reg,
			Dispatcher:      d,
			TerminatorTopic: cfg.Subscriber.TerminatorTopic,
			ConflictPolicy:  policy,
			RenewInterval:   cfg.Subscriber.RenewInterval,
			Owner:           w.Owner(),
			Clock:           clk,
		}))
		hm.RegisterChecker(&health.WorkerChecker{
			LastPoll: w.LastPoll,
			MaxAge:   3 * cfg.Queue.PollInterval,
			Clock:    clk,
		})

		sweeper := &queue.Sweeper{
			Store:      store,
			Clock:      clk,
			Interval:   cfg.Queue.SweepInterval,
			StaleAfter: cfg.Queue.StaleAfter,
		}
		runners = append(runners,
			Runner{Name: "queue-worker", Run: w.Run},
			Runner{Name: "queue-sweeper", Run: sweeper.Run},
		)
	} else {
		logger.Warn().Msg("queue worker disabled; subscribe requests wait for an external worker")
	}

	apiServer := api.New(api.Config{
		RateLimit:    cfg.API.RateLimit,
		RateWindow:   cfg.API.RateWindow,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		Tracing:      cfg.Telemetry.Enabled,
	}, sub, hm)

	var metricsHandler http.Handler
	metricsAddr := ""
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.Handler()
		metricsAddr = cfg.Metrics.ListenAddr
	}

	mgr, err := NewManager(ServerConfig{
		ListenAddr:      cfg.API.ListenAddr,
		MetricsAddr:     metricsAddr,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		IdleTimeout:     cfg.API.IdleTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, Deps{
		Logger:         log.Base(),
		APIHandler:     apiServer.Handler(),
		MetricsHandler: metricsHandler,
		Runners:        runners,
	})
	if err != nil {
		return nil, err
	}
	for _, h := range closers {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}

	logger.Info().
		Str("broker", cfg.Broker.Backend).
		Str("registry", cfg.Registry.Backend).
		Str("queue", cfg.Queue.Backend).
		Bool("worker", cfg.Queue.Worker).
		Str("conflict_policy", string(policy)).
		Msg("daemon wired")

	return &App{
		Manager:  mgr,
		Health:   hm,
		Queue:    q,
		Broker:   bc,
		Registry: reg,
		Resource: sub,
	}, nil
}
