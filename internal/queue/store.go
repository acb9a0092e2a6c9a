// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"time"
)

// Store is the system of record for jobs.
type Store interface {
	// Enqueue inserts a new job record.
	Enqueue(ctx context.Context, job *Job) error
	// ClaimNext marks the oldest queued job of one of kinds as running for
	// owner and returns it. It returns (nil, nil) when nothing is queued.
	// An empty kinds slice matches every kind.
	ClaimNext(ctx context.Context, owner string, kinds []string, now time.Time) (*Job, error)
	// Heartbeat refreshes the lease of a running job owned by owner.
	Heartbeat(ctx context.Context, id, owner string, now time.Time) error
	// Finish records a terminal status.
	Finish(ctx context.Context, id string, status Status, errMsg string, now time.Time) error
	// Requeue puts a running job back into the queue, keeping its attempts.
	Requeue(ctx context.Context, id, errMsg string) error
	Get(ctx context.Context, id string) (*Job, error)
	// FindByTopic returns the non-terminal jobs of kind whose topic index
	// contains topic, oldest first.
	FindByTopic(ctx context.Context, kind, topic string) ([]*Job, error)
	// ExpireStale fails running jobs whose heartbeat is older than before
	// and returns them.
	ExpireStale(ctx context.Context, before, now time.Time) ([]*Job, error)
	// CancelQueued fails the queued jobs of kind with reason and returns
	// them. An empty id matches every queued job of kind. Claimed jobs are
	// left alone.
	CancelQueued(ctx context.Context, kind, id, reason string, now time.Time) ([]*Job, error)
	Close() error
}
