// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Queue is the producer-side facade over a Store. Enqueue wakes local
// workers so a new job does not wait for the next poll.
type Queue struct {
	store Store
	clock clock.Clock
	wake  chan struct{}
}

// New wraps store. A nil clock uses the wall clock.
func New(store Store, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	return &Queue{store: store, clock: clk, wake: make(chan struct{}, 1)}
}

// Store returns the underlying store.
func (q *Queue) Store() Store { return q.store }

// Clock returns the queue's time source.
func (q *Queue) Clock() clock.Clock { return q.clock }

// Enqueue creates a queued job and returns its record.
func (q *Queue) Enqueue(ctx context.Context, nj NewJob) (*Job, error) {
	if nj.Kind == "" {
		return nil, fmt.Errorf("enqueue: job kind is required")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("enqueue: generate id: %w", err)
	}
	maxAttempts := nj.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	job := &Job{
		ID:          id.String(),
		Kind:        nj.Kind,
		Payload:     nj.Payload,
		Topics:      nj.Topics,
		MaxAttempts: maxAttempts,
		Timeout:     nj.Timeout,
		Status:      StatusQueued,
		CreatedAt:   q.clock.Now().UTC(),
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", nj.Kind, err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job.Clone(), nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// FindByTopic lists non-terminal jobs of kind indexed under topic.
func (q *Queue) FindByTopic(ctx context.Context, kind, topic string) ([]*Job, error) {
	return q.store.FindByTopic(ctx, kind, topic)
}

// CancelQueued fails queued jobs of kind that no worker has claimed yet. An
// empty id cancels all of them.
func (q *Queue) CancelQueued(ctx context.Context, kind, id, reason string) ([]*Job, error) {
	return q.store.CancelQueued(ctx, kind, id, reason, q.clock.Now().UTC())
}
