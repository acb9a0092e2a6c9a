// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaBroker_NoBrokers(t *testing.T) {
	_, err := NewKafkaBroker(KafkaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one Kafka broker")
}

func TestNewKafkaBroker_DefaultConsumerGroup(t *testing.T) {
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, defaultConsumerGroup, b.config.ConsumerGroup)
}

func TestKafkaBroker_ReaderConfig(t *testing.T) {
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"k1:9092"}, ConsumerGroup: "bridge"})
	require.NoError(t, err)
	defer b.Close()

	rc := b.readerConfig("orders.created", SubscribeOptions{})
	assert.Equal(t, "bridge", rc.GroupID)
	assert.Equal(t, "orders.created", rc.Topic)
	assert.Zero(t, rc.StartOffset)

	bc1 := b.readerConfig("ctl", SubscribeOptions{Broadcast: true})
	bc2 := b.readerConfig("ctl", SubscribeOptions{Broadcast: true})
	assert.True(t, strings.HasPrefix(bc1.GroupID, "bridge."))
	assert.NotEqual(t, bc1.GroupID, bc2.GroupID, "broadcast subscribers need private groups")
	assert.Equal(t, kafka.LastOffset, bc1.StartOffset)
}

type fakeReader struct {
	msgs   chan kafka.Message
	closed chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 8), closed: make(chan struct{})}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closed:
		return kafka.Message{}, context.Canceled
	}
}

func (r *fakeReader) Close() error {
	close(r.closed)
	return nil
}

func TestKafkaBroker_SubscribeDeliversAndCloses(t *testing.T) {
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"k1:9092"}})
	require.NoError(t, err)

	fr := newFakeReader()
	b.newReader = func(kafka.ReaderConfig) kafkaReader { return fr }

	sub, err := b.Subscribe(context.Background(), "orders.created")
	require.NoError(t, err)

	fr.msgs <- kafka.Message{Topic: "orders.created", Value: []byte(`{"a":1}`)}
	msg := recv(t, sub)
	assert.Equal(t, "orders.created", msg.Topic)
	assert.Equal(t, `{"a":1}`, string(msg.Payload))

	require.NoError(t, sub.Close())
	_, ok := <-sub.C()
	assert.False(t, ok)

	require.NoError(t, b.Close())
	_, err = b.Subscribe(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}
