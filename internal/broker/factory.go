// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/pubsub-bridge/internal/log"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Buffer  int
	Kafka   KafkaConfig
	Redis   redis.UniversalClient
}

// New creates the configured broker client.
func New(opts Options) (Client, error) {
	logger := log.WithComponent("broker")
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		logger.Info().Str(log.FieldBackend, BackendMemory).Msg("using in-memory broker")
		return NewMemoryBroker(opts.Buffer), nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis broker requires a redis client")
		}
		logger.Info().Str(log.FieldBackend, BackendRedis).Msg("using redis pub/sub broker")
		return NewRedisBroker(opts.Redis), nil
	case BackendKafka:
		b, err := NewKafkaBroker(opts.Kafka)
		if err != nil {
			return nil, fmt.Errorf("create kafka broker: %w", err)
		}
		logger.Info().
			Str(log.FieldBackend, BackendKafka).
			Strs("brokers", opts.Kafka.Brokers).
			Msg("using kafka broker")
		return b, nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", opts.Backend)
	}
}
