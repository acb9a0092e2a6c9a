// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, c)
	require.NoError(t, c.Close())

	_, err = New(Options{Backend: BackendRedis})
	assert.Error(t, err, "redis backend needs a client")

	_, err = New(Options{Backend: BackendKafka})
	assert.Error(t, err, "kafka backend needs brokers")

	c, err = New(Options{Backend: "KAFKA", Kafka: KafkaConfig{Brokers: []string{"k:9092"}}})
	require.NoError(t, err)
	assert.IsType(t, &KafkaBroker{}, c)
	require.NoError(t, c.Close())

	_, err = New(Options{Backend: "mqtt"})
	assert.Error(t, err)
}
