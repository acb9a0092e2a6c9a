// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the subscription resource over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/pubsub-bridge/internal/health"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

// DefaultMaxBodyBytes caps POST /sub bodies.
const DefaultMaxBodyBytes = 1 << 20

// Subscriptions is the resource served under /sub.
type Subscriptions interface {
	List(ctx context.Context) ([]subscription.Request, error)
	Create(ctx context.Context, raw any) (string, error)
	Delete(ctx context.Context, jobID string) error
	Status(ctx context.Context, topic string) (bool, error)
}

// Config tunes the router.
type Config struct {
	RateLimit    int           // requests per RateWindow and client IP; 0 disables
	RateWindow   time.Duration // default 1m
	MaxBodyBytes int64         // default DefaultMaxBodyBytes
	Tracing      bool          // wrap requests in OpenTelemetry server spans
}

// Server routes API requests to the subscription resource.
type Server struct {
	cfg    Config
	subs   Subscriptions
	health *health.Manager
}

// New creates the API server. hm may be nil, then only liveness is served.
func New(cfg Config, subs Subscriptions, hm *health.Manager) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if hm == nil {
		hm = health.NewManager("")
	}
	return &Server{cfg: cfg, subs: subs, health: hm}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	if s.cfg.Tracing {
		r.Use(otelhttp.NewMiddleware("pubsub-bridge-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		))
	}
	r.Use(accessLog)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/sub", func(r chi.Router) {
		r.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateWindow))
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Delete("/", s.handleDelete)
		r.Get("/status", s.handleStatus)
		r.Delete("/{jobID}", s.handleDelete)
	})
	return r
}
