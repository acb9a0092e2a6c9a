// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/queue"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

// JobFinder looks up non-terminal queue jobs by topic.
type JobFinder interface {
	FindByTopic(ctx context.Context, kind, topic string) ([]*queue.Job, error)
}

// Liveness answers "is a subscriber job serving this topic?".
type Liveness struct {
	Registry Registry
	Jobs     JobFinder
	Kind     string // job kind of subscriber jobs
	// PendingGrace is how long a queued, unclaimed job counts as starting
	// before it is reported as an inconsistent state.
	PendingGrace time.Duration
	Clock        clock.Clock
}

// IsRunning checks the registry first, then falls back to the job index:
// attempts==1 counts as running, attempts==0 means no worker picked the job
// up (ErrInconsistentState once older than PendingGrace) and attempts>1
// means it failed and was retried, which counts as not running.
func (l *Liveness) IsRunning(ctx context.Context, topic string) (bool, error) {
	if l.Registry != nil {
		recs, err := l.Registry.List(ctx)
		switch {
		case err == nil:
			for _, r := range recs {
				if r.HasTopic(topic) {
					return true, nil
				}
			}
		case errors.Is(err, subscription.ErrUnsupported):
		default:
			return false, err
		}
	}

	if l.Jobs == nil {
		return false, nil
	}
	jobs, err := l.Jobs.FindByTopic(ctx, l.Kind, topic)
	if err != nil {
		return false, fmt.Errorf("liveness lookup for topic %q: %w", topic, err)
	}

	clk := l.Clock
	if clk == nil {
		clk = clock.New()
	}
	// A running job wins over any stale queued one for the same topic.
	if slices.ContainsFunc(jobs, func(j *queue.Job) bool { return j.Attempts == 1 }) {
		return true, nil
	}
	now := clk.Now()
	for _, j := range jobs {
		if j.Attempts != 0 {
			continue
		}
		if l.PendingGrace > 0 && now.Sub(j.CreatedAt) < l.PendingGrace {
			return true, nil
		}
		logger := log.WithComponent("registry")
		logger.Warn().
			Str(log.FieldJobID, j.ID).
			Str(log.FieldTopic, topic).
			Time("created_at", j.CreatedAt).
			Msg("subscriber job was never picked up")
		return false, subscription.ErrInconsistentState
	}
	return false, nil
}
