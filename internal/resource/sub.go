// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resource implements the subscription resource behind /sub.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuGH/pubsub-bridge/internal/broker"
	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
	"github.com/ManuGH/pubsub-bridge/internal/queue"
	"github.com/ManuGH/pubsub-bridge/internal/registry"
	"github.com/ManuGH/pubsub-bridge/internal/subscriber"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

// JobQueue accepts new queue jobs and cancels ones no worker has claimed.
type JobQueue interface {
	Enqueue(ctx context.Context, nj queue.NewJob) (*queue.Job, error)
	CancelQueued(ctx context.Context, kind, id, reason string) ([]*queue.Job, error)
}

// Sub lists, creates and terminates subscription sets.
type Sub struct {
	Registry        registry.Registry
	Liveness        *registry.Liveness
	Queue           JobQueue
	Publisher       broker.Publisher
	TerminatorTopic string
	ConflictPolicy  subscription.ConflictPolicy
}

// List returns the requests of every live subscription set, oldest set
// first and in batch order within a set.
func (s *Sub) List(ctx context.Context) ([]subscription.Request, error) {
	recs, err := s.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []subscription.Request
	for _, r := range recs {
		out = append(out, r.Requests...)
	}
	if len(out) == 0 {
		return nil, subscription.ErrNotFound
	}
	return out, nil
}

// Create validates raw (a decoded JSON body) and enqueues a subscriber job.
// It returns once the job is queued.
func (s *Sub) Create(ctx context.Context, raw any) (string, error) {
	batch, err := subscription.ParseBatch(raw)
	if err != nil {
		return "", err
	}
	if s.policy() == subscription.PolicyReject {
		if err := s.checkConflict(ctx, batch); err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode subscription batch: %w", err)
	}
	job, err := s.Queue.Enqueue(ctx, queue.NewJob{
		Kind:        subscriber.Kind,
		Payload:     payload,
		Topics:      batch.Topics(),
		MaxAttempts: 1,
		Timeout:     0,
	})
	if err != nil {
		return "", err
	}

	logger := log.WithComponentFromContext(ctx, "resource")
	logger.Info().
		Str(log.FieldJobID, job.ID).
		Strs(log.FieldTopics, job.Topics).
		Msg("subscriber job enqueued")
	return job.ID, nil
}

func (s *Sub) policy() subscription.ConflictPolicy {
	if s.ConflictPolicy == "" {
		return subscription.PolicyReject
	}
	return s.ConflictPolicy
}

func (s *Sub) checkConflict(ctx context.Context, batch subscription.Batch) error {
	recs, err := s.Registry.List(ctx)
	switch {
	case err == nil:
		if len(recs) > 0 {
			return fmt.Errorf("%w (job %s)", subscription.ErrConflict, recs[0].JobID)
		}
	case errors.Is(err, subscription.ErrUnsupported):
	default:
		return err
	}

	if s.Liveness == nil {
		return nil
	}
	for _, topic := range batch.Topics() {
		running, err := s.Liveness.IsRunning(ctx, topic)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("%w (topic %s)", subscription.ErrConflict, topic)
		}
	}
	return nil
}

// Delete stops jobID (every subscriber job when empty). Jobs still waiting
// in the queue are failed in place; running ones get a terminator. It does
// not wait for a running job to stop.
func (s *Sub) Delete(ctx context.Context, jobID string) error {
	logger := log.WithComponentFromContext(ctx, "resource")

	cancelled, err := s.Queue.CancelQueued(ctx, subscriber.Kind, jobID, errTerminatedBeforeStart)
	if err != nil {
		return fmt.Errorf("cancel queued subscriber jobs: %w", err)
	}
	for _, j := range cancelled {
		metrics.IncJobFinished(j.Kind, string(queue.StatusFailed))
		logger.Info().Str(log.FieldJobID, j.ID).Msg("queued subscriber job cancelled")
	}

	msg := subscription.Terminator{JobID: jobID}
	if err := s.Publisher.Publish(ctx, s.TerminatorTopic, msg.Encode()); err != nil {
		return fmt.Errorf("publish terminator: %w", err)
	}
	logger.Info().Str("target_job_id", jobID).Msg("terminator published")
	return nil
}

const errTerminatedBeforeStart = "terminated before a worker picked it up"

// Status reports whether a subscriber job is serving topic.
func (s *Sub) Status(ctx context.Context, topic string) (bool, error) {
	if topic == "" {
		return false, &subscription.ValidationError{Index: -1, Field: "topic", Reason: "query parameter is required"}
	}
	return s.Liveness.IsRunning(ctx, topic)
}
