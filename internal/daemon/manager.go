// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs the bridge's servers and background runners and
// tears them down in order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/pubsub-bridge/internal/log"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Runner is a background loop that runs until its context is cancelled.
// Returning an error before that stops the daemon.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string // empty disables the metrics listener
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the handlers and runners the manager drives.
type Deps struct {
	Logger         zerolog.Logger
	APIHandler     http.Handler
	MetricsHandler http.Handler
	Runners        []Runner
}

// Manager manages the daemon lifecycle: starting servers and runners, and
// shutting them down.
type Manager struct {
	cfg    ServerConfig
	deps   Deps
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	hooks   []namedHook

	ready   chan struct{}
	apiAddr net.Addr
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a daemon manager.
func NewManager(cfg ServerConfig, deps Deps) (*Manager, error) {
	if deps.APIHandler == nil {
		return nil, ErrMissingAPIHandler
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
		ready:  make(chan struct{}),
	}, nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Ready is closed once the listeners are bound.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// APIAddr returns the bound API address; valid after Ready.
func (m *Manager) APIAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiAddr
}

// Start binds the listeners, starts every runner and blocks until ctx is
// cancelled or a component fails. Shutdown hooks run before it returns.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.cfg.ListenAddr).
		Str("metrics_listen", m.cfg.MetricsAddr).
		Int("runners", len(m.deps.Runners)).
		Msg("starting daemon")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	apiLn, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return errors.Join(fmt.Errorf("API listener: %w", err), m.runHooks(ctx))
	}
	m.mu.Lock()
	m.apiAddr = apiLn.Addr()
	m.mu.Unlock()
	m.serve(g, gctx, "api", apiLn, &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.cfg.ReadTimeout,
		ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
		WriteTimeout:      m.cfg.WriteTimeout,
		IdleTimeout:       m.cfg.IdleTimeout,
	})

	if m.cfg.MetricsAddr != "" && m.deps.MetricsHandler != nil {
		metricsLn, err := net.Listen("tcp", m.cfg.MetricsAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return errors.Join(fmt.Errorf("metrics listener: %w", err), m.runHooks(ctx))
		}
		m.serve(g, gctx, "metrics", metricsLn, &http.Server{
			Handler:           m.deps.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	for _, r := range m.deps.Runners {
		r := r
		g.Go(func() error {
			m.logger.Debug().Str("runner", r.Name).Msg("runner started")
			if err := r.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error().Err(err).Str("runner", r.Name).Msg("runner failed")
				return fmt.Errorf("%s: %w", r.Name, err)
			}
			m.logger.Debug().Str("runner", r.Name).Msg("runner stopped")
			return nil
		})
	}
	close(m.ready)

	runErr := g.Wait()
	if runErr != nil {
		m.logger.Error().Err(runErr).Msg("component failed, daemon shut down")
	} else {
		m.logger.Info().Msg("shutdown signal received")
	}
	if err := m.runHooks(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr == nil {
		m.logger.Info().Msg("daemon stopped cleanly")
	}
	return runErr
}

// serve runs srv on ln until gctx is done, then shuts it down within the
// configured timeout.
func (m *Manager) serve(g *errgroup.Group, gctx context.Context, name string, ln net.Listener, srv *http.Server) {
	g.Go(func() error {
		m.logger.Info().Str("server", name).Str("addr", ln.Addr().String()).Msg("server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), m.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("%s server shutdown: %w", name, err)
		}
		return nil
	})
}

func (m *Manager) runHooks(ctx context.Context) error {
	m.mu.Lock()
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	return errors.Join(errs...)
}
