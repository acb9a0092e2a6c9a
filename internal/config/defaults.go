// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Backend names.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerKafka  = "kafka"

	RegistryMemory = "memory"
	RegistryRedis  = "redis"
	RegistryNone   = "none"

	QueueMemory = "memory"
	QueueSQLite = "sqlite"
)

// Defaults returns a configuration that runs a single self-contained
// process: in-memory broker, registry and queue with a local worker.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "pubsub-bridge",
		API: APIConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Minute,
			MaxBodyBytes:    1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "pubsub-bridge",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Broker: BrokerConfig{
			Backend: BrokerMemory,
			Buffer:  64,
			Kafka: KafkaConfig{
				ConsumerGroup: "pubsub-bridge",
			},
		},
		Registry: RegistryConfig{
			Backend:   RegistryMemory,
			KeyPrefix: "bridge:subscription:",
			LeaseTTL:  30 * time.Second,
		},
		Queue: QueueConfig{
			Backend:           QueueMemory,
			Path:              "data/queue.db",
			Worker:            true,
			Concurrency:       1,
			PollInterval:      time.Second,
			HeartbeatInterval: 5 * time.Second,
			StaleAfter:        30 * time.Second,
			SweepInterval:     10 * time.Second,
			PendingGrace:      5 * time.Second,
		},
		Dispatch: DispatchConfig{
			BaseURL:      "http://localhost:8000/api/v2/",
			Timeout:      10 * time.Second,
			RetryBackoff: 200 * time.Millisecond,
			Burst:        1,
			BreakerReset: 30 * time.Second,
		},
		Subscriber: SubscriberConfig{
			TerminatorTopic: "bridge.subscriber.terminate",
			ConflictPolicy:  "reject",
			RenewInterval:   10 * time.Second,
		},
	}
}
