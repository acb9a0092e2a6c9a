// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
)

const defaultConsumerGroup = "pubsub-bridge"

// KafkaConfig holds configuration for the Kafka broker.
type KafkaConfig struct {
	Brokers       []string // list of broker addresses
	ConsumerGroup string   // consumer group ID shared by regular subscriptions
}

// KafkaBroker implements Client using Apache Kafka via segmentio/kafka-go.
// Regular subscriptions join the shared consumer group; broadcast
// subscriptions get a private group starting at the newest offset so every
// instance sees control messages.
type KafkaBroker struct {
	config KafkaConfig
	writer *kafka.Writer

	mu     sync.Mutex
	subs   map[string]*kafkaSubscription
	closed bool
	ctx    context.Context
	cancel context.CancelFunc

	newReader func(kafka.ReaderConfig) kafkaReader
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaBroker creates a broker with a shared producer. Consumers are
// created per subscription. Call Close to stop all of them.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaultConsumerGroup
	}

	ctx, cancel := context.WithCancel(context.Background())

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBroker{
		config: config,
		writer: writer,
		subs:   make(map[string]*kafkaSubscription),
		ctx:    ctx,
		cancel: cancel,
		newReader: func(c kafka.ReaderConfig) kafkaReader {
			return kafka.NewReader(c)
		},
	}, nil
}

// readerConfig builds the consumer configuration for one subscription.
func (b *KafkaBroker) readerConfig(topic string, o SubscribeOptions) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		GroupID:  b.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	}
	if o.Broadcast {
		rc.GroupID = fmt.Sprintf("%s.%s", b.config.ConsumerGroup, uuid.NewString())
		rc.StartOffset = kafka.LastOffset
	}
	return rc
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := kafka.Message{Topic: topic, Value: payload}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	rc := b.readerConfig(topic, applyOptions(opts))
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("kafka reader config: %w", err)
	}

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{
		id:     uuid.NewString(),
		topic:  topic,
		reader: b.newReader(rc),
		ch:     make(chan Message, defaultMemoryBuffer),
		cancel: subCancel,
		done:   make(chan struct{}),
		parent: b,
	}
	b.subs[sub.id] = sub

	go sub.consumeLoop(subCtx)
	return sub, nil
}

// Close shuts down all consumers and the producer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[string]*kafkaSubscription{}
	b.mu.Unlock()

	b.cancel()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.stop())
	}
	errs = append(errs, b.writer.Close())
	return errors.Join(errs...)
}

type kafkaSubscription struct {
	id     string
	topic  string
	reader kafkaReader
	ch     chan Message
	cancel context.CancelFunc
	done   chan struct{}
	parent *KafkaBroker
	once   sync.Once
	err    error
}

func (s *kafkaSubscription) Topic() string { return s.topic }

func (s *kafkaSubscription) C() <-chan Message { return s.ch }

func (s *kafkaSubscription) Close() error {
	s.parent.mu.Lock()
	delete(s.parent.subs, s.id)
	s.parent.mu.Unlock()
	return s.stop()
}

func (s *kafkaSubscription) stop() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.reader.Close()
		<-s.done
	})
	return s.err
}

func (s *kafkaSubscription) consumeLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	logger := log.WithComponent("broker").With().
		Str(log.FieldTopic, s.topic).
		Str("subscription", s.id).
		Logger()

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn().Err(err).Msg("kafka consumer error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case s.ch <- Message{Topic: msg.Topic, Payload: msg.Value}:
			metrics.IncBrokerReceived("kafka")
		case <-ctx.Done():
			metrics.IncBrokerDrop(s.topic, "canceled")
			return
		}
	}
}

var _ Client = (*KafkaBroker)(nil)
