// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BRIDGE_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every environment key the loader consulted.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, def string) string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseString(EnvPrefix+key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseBool(EnvPrefix+key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseInt(EnvPrefix+key, def)
}

func (l *Loader) envInt64(key string, def int64) int64 {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseInt64(EnvPrefix+key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseDuration(EnvPrefix+key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseFloat(EnvPrefix+key, def)
}

func (l *Loader) envList(key string, def []string) []string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseList(EnvPrefix+key, def)
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if cfg.Queue.Backend == QueueSQLite && cfg.Queue.Path != "" {
		if abs, err := filepath.Abs(cfg.Queue.Path); err == nil {
			cfg.Queue.Path = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file onto cfg with STRICT parsing. Keys absent from
// the file keep their current (default) value.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies BRIDGE_* overrides. Every key defaults to the value
// already in cfg.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LOG_SERVICE", cfg.LogService)

	cfg.API.ListenAddr = l.envString("API_LISTEN", cfg.API.ListenAddr)
	cfg.API.ReadTimeout = l.envDuration("API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = l.envDuration("API_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.IdleTimeout = l.envDuration("API_IDLE_TIMEOUT", cfg.API.IdleTimeout)
	cfg.API.ShutdownTimeout = l.envDuration("API_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.RateLimit = l.envInt("API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.RateWindow = l.envDuration("API_RATE_WINDOW", cfg.API.RateWindow)
	cfg.API.MaxBodyBytes = l.envInt64("API_MAX_BODY_BYTES", cfg.API.MaxBodyBytes)

	cfg.Metrics.Enabled = l.envBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString("METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = l.envString("TELEMETRY_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Environment = l.envString("TELEMETRY_ENVIRONMENT", cfg.Telemetry.Environment)
	cfg.Telemetry.ExporterType = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Redis.Addr = l.envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("REDIS_DB", cfg.Redis.DB)

	cfg.Broker.Backend = l.envString("BROKER_BACKEND", cfg.Broker.Backend)
	cfg.Broker.Buffer = l.envInt("BROKER_BUFFER", cfg.Broker.Buffer)
	cfg.Broker.Kafka.Brokers = l.envList("KAFKA_BROKERS", cfg.Broker.Kafka.Brokers)
	cfg.Broker.Kafka.ConsumerGroup = l.envString("KAFKA_CONSUMER_GROUP", cfg.Broker.Kafka.ConsumerGroup)

	cfg.Registry.Backend = l.envString("REGISTRY_BACKEND", cfg.Registry.Backend)
	cfg.Registry.KeyPrefix = l.envString("REGISTRY_KEY_PREFIX", cfg.Registry.KeyPrefix)
	cfg.Registry.LeaseTTL = l.envDuration("REGISTRY_LEASE_TTL", cfg.Registry.LeaseTTL)

	cfg.Queue.Backend = l.envString("QUEUE_BACKEND", cfg.Queue.Backend)
	cfg.Queue.Path = l.envString("QUEUE_PATH", cfg.Queue.Path)
	cfg.Queue.Worker = l.envBool("QUEUE_WORKER", cfg.Queue.Worker)
	cfg.Queue.Owner = l.envString("QUEUE_OWNER", cfg.Queue.Owner)
	cfg.Queue.Concurrency = l.envInt("QUEUE_CONCURRENCY", cfg.Queue.Concurrency)
	cfg.Queue.PollInterval = l.envDuration("QUEUE_POLL_INTERVAL", cfg.Queue.PollInterval)
	cfg.Queue.HeartbeatInterval = l.envDuration("QUEUE_HEARTBEAT_INTERVAL", cfg.Queue.HeartbeatInterval)
	cfg.Queue.StaleAfter = l.envDuration("QUEUE_STALE_AFTER", cfg.Queue.StaleAfter)
	cfg.Queue.SweepInterval = l.envDuration("QUEUE_SWEEP_INTERVAL", cfg.Queue.SweepInterval)
	cfg.Queue.PendingGrace = l.envDuration("QUEUE_PENDING_GRACE", cfg.Queue.PendingGrace)

	cfg.Dispatch.BaseURL = l.envString("DISPATCH_BASE_URL", cfg.Dispatch.BaseURL)
	cfg.Dispatch.Timeout = l.envDuration("DISPATCH_TIMEOUT", cfg.Dispatch.Timeout)
	cfg.Dispatch.Retries = l.envInt("DISPATCH_RETRIES", cfg.Dispatch.Retries)
	cfg.Dispatch.RetryBackoff = l.envDuration("DISPATCH_RETRY_BACKOFF", cfg.Dispatch.RetryBackoff)
	cfg.Dispatch.RateLimit = l.envFloat("DISPATCH_RATE_LIMIT", cfg.Dispatch.RateLimit)
	cfg.Dispatch.Burst = l.envInt("DISPATCH_BURST", cfg.Dispatch.Burst)
	cfg.Dispatch.BreakerThreshold = l.envInt("DISPATCH_BREAKER_THRESHOLD", cfg.Dispatch.BreakerThreshold)
	cfg.Dispatch.BreakerReset = l.envDuration("DISPATCH_BREAKER_RESET", cfg.Dispatch.BreakerReset)
	if token := l.envString("DISPATCH_API_TOKEN", ""); token != "" {
		if cfg.Dispatch.Headers == nil {
			cfg.Dispatch.Headers = make(map[string]string)
		}
		cfg.Dispatch.Headers["Authorization"] = "Bearer " + token
	}

	cfg.Subscriber.TerminatorTopic = l.envString("SUBSCRIBER_TERMINATOR_TOPIC", cfg.Subscriber.TerminatorTopic)
	cfg.Subscriber.ConflictPolicy = l.envString("SUBSCRIBER_CONFLICT_POLICY", cfg.Subscriber.ConflictPolicy)
	cfg.Subscriber.RenewInterval = l.envDuration("SUBSCRIBER_RENEW_INTERVAL", cfg.Subscriber.RenewInterval)
}
