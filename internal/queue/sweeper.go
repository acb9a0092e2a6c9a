// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
)

// Sweeper fails running jobs whose worker stopped heartbeating.
type Sweeper struct {
	Store      Store
	Clock      clock.Clock
	Interval   time.Duration // default 10s
	StaleAfter time.Duration // default 30s
}

// Run starts the sweep loop.
func (s *Sweeper) Run(ctx context.Context) error {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("queue-sweeper")
	logger.Info().
		Dur("interval", interval).
		Dur("stale_after", s.staleAfter()).
		Msg("stale job sweeper started")

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx, clk.Now().UTC())
		case <-ctx.Done():
			logger.Info().Msg("stale job sweeper stopped")
			return nil
		}
	}
}

func (s *Sweeper) staleAfter() time.Duration {
	if s.StaleAfter <= 0 {
		return 30 * time.Second
	}
	return s.StaleAfter
}

// Sweep runs one pass and returns the number of expired jobs.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	logger := log.WithComponent("queue-sweeper")
	jobs, err := s.Store.ExpireStale(ctx, now.Add(-s.staleAfter()), now)
	if err != nil {
		logger.Error().Err(err).Msg("failed to expire stale jobs")
		return 0
	}
	for _, j := range jobs {
		metrics.JobsExpiredTotal.Inc()
		metrics.IncJobFinished(j.Kind, string(StatusFailed))
		logger.Warn().
			Str(log.FieldJobID, j.ID).
			Str(log.FieldKind, j.Kind).
			Str(log.FieldOwner, j.Owner).
			Time("heartbeat_at", j.HeartbeatAt).
			Msg("job lease expired")
	}
	if len(jobs) > 0 {
		logger.Info().Int("expired", len(jobs)).Msg("expired jobs by lease timeout")
	}
	return len(jobs)
}
