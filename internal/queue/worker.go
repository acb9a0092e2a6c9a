// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
)

// Handler runs one job. Returning an error wrapped with Permanent fails the
// job without retry; other errors requeue it while attempts remain.
type Handler interface {
	Run(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Run(ctx context.Context, job *Job) error { return f(ctx, job) }

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Owner             string        // worker identity; defaults to hostname-pid
	Concurrency       int           // max jobs in flight; default 1
	PollInterval      time.Duration // default 1s
	HeartbeatInterval time.Duration // default 5s
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	return c
}

// Worker claims and runs jobs.
type Worker struct {
	q        *Queue
	cfg      WorkerConfig
	clock    clock.Clock
	logger   zerolog.Logger
	handlers map[string]Handler

	sem      chan struct{}
	wg       sync.WaitGroup
	lastPoll atomic.Int64 // unix nanos
}

// NewWorker creates a worker consuming q.
func NewWorker(q *Queue, cfg WorkerConfig) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		q:        q,
		cfg:      cfg,
		clock:    q.clock,
		logger:   log.WithComponent("queue-worker").With().Str(log.FieldOwner, cfg.Owner).Logger(),
		handlers: make(map[string]Handler),
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Owner returns the worker identity written to claimed jobs.
func (w *Worker) Owner() string { return w.cfg.Owner }

// Register binds a handler to a job kind. Call before Run.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// LastPoll returns when the worker last looked for work, zero before Run.
func (w *Worker) LastPoll() time.Time {
	n := w.lastPoll.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (w *Worker) kinds() []string {
	kinds := make([]string, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Run polls for jobs until ctx is done, then waits for in-flight jobs.
// In-flight jobs see ctx cancellation.
func (w *Worker) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info().
		Int("concurrency", w.cfg.Concurrency).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("queue worker started")

	for {
		w.lastPoll.Store(w.clock.Now().UnixNano())
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info().Msg("queue worker stopped")
			return nil
		case <-ticker.C:
		case <-w.q.wake:
		}
	}
}

// drain claims jobs while a slot is free.
func (w *Worker) drain(ctx context.Context) {
	kinds := w.kinds()
	if len(kinds) == 0 {
		return
	}
	for ctx.Err() == nil {
		select {
		case w.sem <- struct{}{}:
		default:
			return
		}
		job, err := w.q.store.ClaimNext(ctx, w.cfg.Owner, kinds, w.clock.Now().UTC())
		if err != nil || job == nil {
			<-w.sem
			if err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("claim job failed")
			}
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() {
				<-w.sem
				// A slot is free again; look for more work without waiting a poll.
				select {
				case w.q.wake <- struct{}{}:
				default:
				}
			}()
			w.execute(ctx, job)
		}()
	}
}

func (w *Worker) execute(ctx context.Context, job *Job) {
	logger := w.logger.With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldKind, job.Kind).
		Int(log.FieldAttempts, job.Attempts).
		Logger()
	ctx = log.ContextWithJobID(ctx, job.ID)

	jobCtx, cancel := context.WithCancel(ctx)
	if job.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	hbDone := make(chan struct{})
	hbStopped := make(chan struct{})
	go func() {
		defer close(hbStopped)
		w.heartbeat(jobCtx, job, hbDone, logger)
	}()

	logger.Info().Msg("job started")
	err := w.runHandler(jobCtx, job)
	close(hbDone)
	<-hbStopped

	// Record the outcome even when shutdown cancelled ctx.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer finishCancel()
	now := w.clock.Now().UTC()

	switch {
	case err == nil:
		if ferr := w.q.store.Finish(finishCtx, job.ID, StatusDone, "", now); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record job completion")
		}
		metrics.IncJobFinished(job.Kind, string(StatusDone))
		logger.Info().Msg("job done")
	case IsPermanent(err) || job.Attempts >= job.MaxAttempts:
		if ferr := w.q.store.Finish(finishCtx, job.ID, StatusFailed, err.Error(), now); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record job failure")
		}
		metrics.IncJobFinished(job.Kind, string(StatusFailed))
		logger.Error().Err(err).Bool("permanent", IsPermanent(err)).Msg("job failed")
	default:
		if rerr := w.q.store.Requeue(finishCtx, job.ID, err.Error()); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to requeue job")
		}
		metrics.IncJobFinished(job.Kind, string(StatusQueued))
		logger.Warn().Err(err).Msg("job failed, requeued")
	}
}

func (w *Worker) runHandler(ctx context.Context, job *Job) (err error) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		return Permanent(fmt.Errorf("no handler for job kind %q", job.Kind))
	}
	defer func() {
		if r := recover(); r != nil {
			log.L().Error().
				Str(log.FieldJobID, job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job handler panicked")
			err = Permanent(fmt.Errorf("job handler panicked: %v", r))
		}
	}()
	return h.Run(ctx, job)
}

func (w *Worker) heartbeat(ctx context.Context, job *Job, done <-chan struct{}, logger zerolog.Logger) {
	ticker := w.clock.Ticker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.q.store.Heartbeat(ctx, job.ID, w.cfg.Owner, w.clock.Now().UTC())
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("job heartbeat failed")
			}
		}
	}
}
