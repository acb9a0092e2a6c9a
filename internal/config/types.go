// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is environment (BRIDGE_*) over the YAML file over defaults.
// The file is parsed strictly: unknown keys are an error.
package config

import "time"

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Redis      RedisConfig      `yaml:"redis"`
	Broker     BrokerConfig     `yaml:"broker"`
	Registry   RegistryConfig   `yaml:"registry"`
	Queue      QueueConfig      `yaml:"queue"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
}

// APIConfig configures the REST listener.
type APIConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       int           `yaml:"rateLimit"` // requests per rateWindow and client IP; 0 disables
	RateWindow      time.Duration `yaml:"rateWindow"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Environment  string  `yaml:"environment"`
	ExporterType string  `yaml:"exporterType"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RedisConfig is shared by the Redis registry and the Redis broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BrokerConfig selects the message broker.
type BrokerConfig struct {
	Backend string      `yaml:"backend"` // memory, redis or kafka
	Buffer  int         `yaml:"buffer"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the Kafka broker backend.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
}

// RegistryConfig selects where subscription records live.
type RegistryConfig struct {
	Backend   string        `yaml:"backend"` // memory, redis or none
	KeyPrefix string        `yaml:"keyPrefix"`
	LeaseTTL  time.Duration `yaml:"leaseTTL"`
}

// QueueConfig configures the job queue and its worker.
type QueueConfig struct {
	Backend           string        `yaml:"backend"` // memory or sqlite
	Path              string        `yaml:"path"`
	Worker            bool          `yaml:"worker"` // run a worker in this process
	Owner             string        `yaml:"owner"`
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	StaleAfter        time.Duration `yaml:"staleAfter"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	PendingGrace      time.Duration `yaml:"pendingGrace"`
}

// DispatchConfig configures outbound calls to the internal API.
type DispatchConfig struct {
	BaseURL      string            `yaml:"baseURL"`
	Timeout      time.Duration     `yaml:"timeout"`
	Retries      int               `yaml:"retries"`
	RetryBackoff time.Duration     `yaml:"retryBackoff"`
	RateLimit    float64           `yaml:"rateLimit"`
	Burst        int               `yaml:"burst"`
	Headers      map[string]string `yaml:"headers"`

	BreakerThreshold int           `yaml:"breakerThreshold"` // 0 disables the circuit breaker
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// SubscriberConfig tunes subscriber jobs.
type SubscriberConfig struct {
	TerminatorTopic string        `yaml:"terminatorTopic"`
	ConflictPolicy  string        `yaml:"conflictPolicy"` // reject or parallel
	RenewInterval   time.Duration `yaml:"renewInterval"`
}
