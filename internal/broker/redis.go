// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/pubsub-bridge/internal/metrics"
)

// RedisBroker implements Client on Redis pub/sub. Redis pub/sub already fans
// out to every subscriber, so Broadcast needs no special handling.
type RedisBroker struct {
	client redis.UniversalClient

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisBroker wraps an existing client. The client stays owned by the
// caller; Close only tears down subscriptions.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client, subs: make(map[*redisSubscription]struct{})}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string, _ ...SubscribeOption) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", topic, err)
	}

	s := &redisSubscription{
		parent: b,
		topic:  topic,
		ps:     ps,
		ch:     make(chan Message, defaultMemoryBuffer),
		done:   make(chan struct{}),
	}
	go s.forward(ps.Channel())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = s.stop()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Close closes all open subscriptions.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = map[*redisSubscription]struct{}{}
	b.mu.Unlock()

	var firstErr error
	for s := range subs {
		if err := s.stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type redisSubscription struct {
	parent *RedisBroker
	topic  string
	ps     *redis.PubSub
	ch     chan Message
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Topic() string { return s.topic }

func (s *redisSubscription) C() <-chan Message { return s.ch }

func (s *redisSubscription) Close() error {
	s.parent.mu.Lock()
	delete(s.parent.subs, s)
	s.parent.mu.Unlock()
	return s.stop()
}

func (s *redisSubscription) stop() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}

// forward copies messages until the pubsub channel closes or the
// subscription is stopped.
func (s *redisSubscription) forward(in <-chan *redis.Message) {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Message{Topic: m.Channel, Payload: []byte(m.Payload)}:
				metrics.IncBrokerReceived("redis")
			case <-s.done:
				metrics.IncBrokerDrop(s.topic, "closed")
				return
			}
		}
	}
}

var _ Client = (*RedisBroker)(nil)
