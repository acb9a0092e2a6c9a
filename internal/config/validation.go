// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

// Validate checks cfg for values the daemon cannot run with. All problems
// are reported together.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		add("logLevel: %w", err)
	}

	if err := validateListenAddr(cfg.API.ListenAddr); err != nil {
		add("api.listenAddr: %w", err)
	}
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit must be >= 0")
	}
	if cfg.API.MaxBodyBytes <= 0 {
		add("api.maxBodyBytes must be > 0")
	}
	if cfg.Metrics.Enabled {
		if err := validateListenAddr(cfg.Metrics.ListenAddr); err != nil {
			add("metrics.listenAddr: %w", err)
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporterType must be grpc or http, got %q", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint is required when telemetry is enabled")
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate must be within [0,1]")
		}
	}

	usesRedis := false
	switch cfg.Broker.Backend {
	case BrokerMemory:
	case BrokerRedis:
		usesRedis = true
	case BrokerKafka:
		if len(cfg.Broker.Kafka.Brokers) == 0 {
			add("broker.kafka.brokers is required for the kafka backend")
		}
	default:
		add("broker.backend must be memory, redis or kafka, got %q", cfg.Broker.Backend)
	}

	switch cfg.Registry.Backend {
	case RegistryMemory, RegistryNone:
	case RegistryRedis:
		usesRedis = true
	default:
		add("registry.backend must be memory, redis or none, got %q", cfg.Registry.Backend)
	}
	if cfg.Registry.LeaseTTL <= 0 {
		add("registry.leaseTTL must be > 0")
	}
	if usesRedis && cfg.Redis.Addr == "" {
		add("redis.addr is required by the redis backends")
	}

	switch cfg.Queue.Backend {
	case QueueMemory:
	case QueueSQLite:
		if cfg.Queue.Path == "" {
			add("queue.path is required for the sqlite backend")
		}
	default:
		add("queue.backend must be memory or sqlite, got %q", cfg.Queue.Backend)
	}
	if cfg.Queue.Concurrency < 1 {
		add("queue.concurrency must be >= 1")
	}
	if cfg.Queue.StaleAfter <= cfg.Queue.HeartbeatInterval {
		add("queue.staleAfter (%s) must exceed queue.heartbeatInterval (%s)", cfg.Queue.StaleAfter, cfg.Queue.HeartbeatInterval)
	}
	if cfg.Queue.PendingGrace < 0 {
		add("queue.pendingGrace must be >= 0")
	}

	if u, err := url.Parse(cfg.Dispatch.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("dispatch.baseURL must be an absolute http(s) URL, got %q", cfg.Dispatch.BaseURL)
	}
	if cfg.Dispatch.Retries < 0 {
		add("dispatch.retries must be >= 0")
	}
	if cfg.Dispatch.RateLimit < 0 {
		add("dispatch.rateLimit must be >= 0")
	}
	if cfg.Dispatch.BreakerThreshold < 0 {
		add("dispatch.breakerThreshold must be >= 0")
	}

	if cfg.Subscriber.TerminatorTopic == "" {
		add("subscriber.terminatorTopic is required")
	}
	if _, err := subscription.ParseConflictPolicy(cfg.Subscriber.ConflictPolicy); err != nil {
		add("subscriber.conflictPolicy: %w", err)
	}
	if cfg.Subscriber.RenewInterval <= 0 || cfg.Subscriber.RenewInterval >= cfg.Registry.LeaseTTL {
		add("subscriber.renewInterval (%s) must be > 0 and below registry.leaseTTL (%s)", cfg.Subscriber.RenewInterval, cfg.Registry.LeaseTTL)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateListenAddr(addr string) error {
	if addr == "" {
		return errors.New("is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}
