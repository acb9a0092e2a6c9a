// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
)

// MemoryBroker is an in-memory pub/sub used for unit tests and single-node
// deployments. It is not durable; Publish blocks until every current
// subscriber accepted the message or ctx is done.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool
	buffer int
}

const (
	dropLogEvery        = 100
	defaultMemoryBuffer = 64
)

var dropCount atomic.Uint64

// NewMemoryBroker creates a broker whose subscriptions buffer up to buffer
// messages (64 when buffer <= 0).
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryBroker{subs: make(map[string][]*memSub), buffer: buffer}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*memSub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, s := range subs {
		if err := s.deliver(ctx, msg); err != nil {
			reason := publishDropReason(err)
			metrics.IncBrokerDrop(topic, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				log.L().Warn().
					Str(log.FieldTopic, topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory broker failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, err)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, _ ...SubscribeOption) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memSub{
		b:     b,
		topic: topic,
		ch:    make(chan Message, b.buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

// Close closes every open subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memSub
	for _, lst := range b.subs {
		all = append(all, lst...)
	}
	b.subs = make(map[string][]*memSub)
	b.mu.Unlock()

	for _, s := range all {
		s.shutdown()
	}
	return nil
}

// Subscribers returns the number of open subscriptions for topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type memSub struct {
	b     *MemoryBroker
	topic string
	ch    chan Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (s *memSub) Topic() string { return s.topic }

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) deliver(ctx context.Context, msg Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- msg:
		metrics.IncBrokerReceived("memory")
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	s.b.mu.Unlock()

	s.shutdown()
	return nil
}

// shutdown unblocks pending deliveries, then closes the channel once no
// delivery holds the read lock.
func (s *memSub) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Ensure compliance
var _ Client = (*MemoryBroker)(nil)
