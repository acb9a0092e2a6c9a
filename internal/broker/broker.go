// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package broker adapts message brokers to a narrow subscribe/publish interface.
//
// Implementations: MemoryBroker (single process, tests), RedisBroker (Redis
// pub/sub) and KafkaBroker (segmentio/kafka-go). A Subscription delivers
// messages for one topic in broker order on C(); C() is closed after Close or
// when the underlying connection goes away.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker is closed")

// Message is a single delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live subscription to one topic.
type Subscription interface {
	Topic() string
	C() <-chan Message
	Close() error
}

// Publisher publishes raw payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Client is the capability the subscriber job consumes.
type Client interface {
	Publisher
	Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) (Subscription, error)
	Close() error
}

// SubscribeOptions tune a subscription.
type SubscribeOptions struct {
	// Broadcast requests that this subscriber sees every message published
	// after it subscribed, even when other subscribers share the topic.
	Broadcast bool
}

// SubscribeOption mutates SubscribeOptions.
type SubscribeOption func(*SubscribeOptions)

// Broadcast marks a subscription as fan-out (used for control topics).
func Broadcast() SubscribeOption {
	return func(o *SubscribeOptions) { o.Broadcast = true }
}

func applyOptions(opts []SubscribeOption) SubscribeOptions {
	var o SubscribeOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
