// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subscriber implements the long-running job that holds broker
// subscriptions open and forwards every delivered message to the internal
// API.
//
// Lifecycle: created -> validating -> subscribing -> running -> terminating
// -> stopped, with failed reachable from validating and subscribing. While
// running, each topic has its own delivery lane so messages of one topic
// are dispatched in broker order while topics progress independently. The
// job stops on a matching terminator message or when its context is
// cancelled.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/ManuGH/pubsub-bridge/internal/broker"
	"github.com/ManuGH/pubsub-bridge/internal/dispatch"
	"github.com/ManuGH/pubsub-bridge/internal/fsm"
	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
	"github.com/ManuGH/pubsub-bridge/internal/queue"
	"github.com/ManuGH/pubsub-bridge/internal/registry"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

// Kind is the queue job kind of subscriber jobs.
const Kind = "subscriber"

const (
	DefaultTerminatorTopic = "bridge.subscriber.terminate"
	defaultRenewInterval   = 10 * time.Second
	cleanupTimeout         = 5 * time.Second
)

// Deps are the collaborators of a job.
type Deps struct {
	Broker          broker.Client
	Registry        registry.Registry
	Dispatcher      dispatch.Dispatcher
	TerminatorTopic string
	ConflictPolicy  subscription.ConflictPolicy
	// RenewInterval is how often the registry lease is renewed.
	RenewInterval time.Duration
	Owner         string
	Clock         clock.Clock
}

func (d Deps) withDefaults() Deps {
	if d.TerminatorTopic == "" {
		d.TerminatorTopic = DefaultTerminatorTopic
	}
	if d.ConflictPolicy == "" {
		d.ConflictPolicy = subscription.PolicyReject
	}
	if d.RenewInterval <= 0 {
		d.RenewInterval = defaultRenewInterval
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return d
}

// Job is one subscriber job execution.
type Job struct {
	id      string
	payload []byte
	deps    Deps
	machine *fsm.Machine[State, Event]
	logger  zerolog.Logger

	batch     subscription.Batch
	term      broker.Subscription
	subs      []broker.Subscription
	startedAt time.Time
}

// New creates a job in state created.
func New(id string, payload []byte, deps Deps) (*Job, error) {
	m, err := fsm.New(StateCreated, transitions())
	if err != nil {
		return nil, err
	}
	j := &Job{
		id:      id,
		payload: payload,
		deps:    deps.withDefaults(),
		machine: m,
		logger:  log.WithComponent("subscriber").With().Str(log.FieldJobID, id).Logger(),
	}
	m.OnTransition(func(from, to State, ev Event) {
		metrics.IncSubscriberTransition(string(to))
		j.logger.Debug().
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Str(log.FieldEvent, string(ev)).
			Msg("subscriber job state changed")
	})
	return j, nil
}

func (j *Job) ID() string { return j.id }

// State returns the current lifecycle state.
func (j *Job) State() State { return j.machine.State() }

func (j *Job) fire(ctx context.Context, ev Event) {
	if _, err := j.machine.Fire(ctx, ev); err != nil {
		j.logger.Error().Err(err).Str(log.FieldEvent, string(ev)).Msg("invalid subscriber job transition")
	}
}

// Run executes the job until it is terminated. It returns nil after a
// regular stop, subscription.ErrSubscriptionLost if a broker subscription
// closed underneath it, and a queue.Permanent error when the job failed
// before reaching running.
func (j *Job) Run(ctx context.Context) error {
	j.fire(ctx, EventStart)

	batch, err := subscription.DecodeBatch(j.payload)
	if err != nil {
		return j.fail(ctx, queue.Permanent(err))
	}
	j.batch = batch
	j.fire(ctx, EventValidated)

	if err := j.subscribe(ctx); err != nil {
		j.unsubscribe()
		return j.fail(ctx, err)
	}
	j.fire(ctx, EventSubscribed)
	j.logger.Info().
		Strs(log.FieldTopics, j.batch.Topics()).
		Str("terminator_topic", j.deps.TerminatorTopic).
		Msg("subscriber job running")

	return j.run(ctx)
}

func (j *Job) fail(ctx context.Context, err error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if derr := j.deps.Registry.Delete(cleanupCtx, j.id); derr != nil {
		j.logger.Warn().Err(derr).Msg("failed to clear registry record")
	}
	j.fire(ctx, EventFail)
	j.logger.Error().Err(err).Msg("subscriber job failed")
	return err
}

// subscribe checks the conflict policy, subscribes to the terminator and to
// every topic, then records the job in the registry. The caller unwinds
// established subscriptions on error.
func (j *Job) subscribe(ctx context.Context) error {
	if j.deps.ConflictPolicy == subscription.PolicyReject {
		if err := j.checkConflict(ctx); err != nil {
			return queue.Permanent(err)
		}
	}

	term, err := j.deps.Broker.Subscribe(ctx, j.deps.TerminatorTopic, broker.Broadcast())
	if err != nil {
		return queue.Permanent(&subscription.BrokerSubscribeError{Topic: j.deps.TerminatorTopic, Err: err})
	}
	j.term = term

	for _, topic := range j.batch.Topics() {
		sub, err := j.deps.Broker.Subscribe(ctx, topic)
		if err != nil {
			return queue.Permanent(&subscription.BrokerSubscribeError{Topic: topic, Err: err})
		}
		j.subs = append(j.subs, sub)
	}

	j.startedAt = j.deps.Clock.Now().UTC()
	rec := &registry.Record{
		JobID:     j.id,
		Topics:    j.batch.Topics(),
		Requests:  j.batch,
		Owner:     j.deps.Owner,
		StartedAt: j.startedAt,
	}
	if err := j.deps.Registry.Put(ctx, rec); err != nil {
		return fmt.Errorf("record subscription: %w", err)
	}
	metrics.SubscriptionsActive.Add(float64(len(j.subs)))
	return nil
}

func (j *Job) checkConflict(ctx context.Context) error {
	recs, err := j.deps.Registry.List(ctx)
	if errors.Is(err, subscription.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("conflict check: %w", err)
	}
	for _, r := range recs {
		if r.JobID != j.id {
			return fmt.Errorf("%w (job %s)", subscription.ErrConflict, r.JobID)
		}
	}
	return nil
}

// unsubscribe closes every broker subscription. Safe to call twice.
func (j *Job) unsubscribe() {
	var errs []error
	for _, s := range j.subs {
		errs = append(errs, s.Close())
	}
	if j.term != nil {
		errs = append(errs, j.term.Close())
	}
	if err := errors.Join(errs...); err != nil {
		j.logger.Warn().Err(err).Msg("error while closing broker subscriptions")
	}
}

func (j *Job) run(ctx context.Context) error {
	laneCtx, cancelLanes := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelLanes()

	lost := make(chan string, len(j.subs))
	var wg sync.WaitGroup
	for _, sub := range j.subs {
		wg.Add(1)
		go func(sub broker.Subscription) {
			defer wg.Done()
			j.lane(laneCtx, sub)
			lost <- sub.Topic()
		}(sub)
	}

	renew := j.deps.Clock.Ticker(j.deps.RenewInterval)
	defer renew.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("context cancelled, stopping subscriber job")
			break loop
		case msg, ok := <-j.term.C():
			if !ok {
				j.logger.Error().Str(log.FieldTopic, j.deps.TerminatorTopic).Msg("terminator subscription closed")
				runErr = subscription.ErrSubscriptionLost
				break loop
			}
			if j.isTerminator(msg) {
				break loop
			}
		case topic := <-lost:
			j.logger.Error().Str(log.FieldTopic, topic).Msg("broker subscription closed unexpectedly")
			runErr = subscription.ErrSubscriptionLost
			break loop
		case <-renew.C:
			j.renew(ctx)
		}
	}

	j.fire(ctx, EventTerminate)
	cancelLanes()
	j.unsubscribe()
	wg.Wait()
	metrics.SubscriptionsActive.Sub(float64(len(j.subs)))

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := j.deps.Registry.Delete(cleanupCtx, j.id); err != nil {
		j.logger.Warn().Err(err).Msg("failed to clear registry record")
	}

	j.fire(ctx, EventUnsubscribed)
	j.logger.Info().Err(runErr).Msg("subscriber job stopped")
	return runErr
}

func (j *Job) isTerminator(msg broker.Message) bool {
	t, err := subscription.DecodeTerminator(msg.Payload)
	if err != nil {
		j.logger.Warn().Err(err).Msg("ignoring malformed terminator message")
		return false
	}
	if !t.Matches(j.id) {
		j.logger.Debug().Str("target_job_id", t.JobID).Msg("terminator addressed to another job")
		return false
	}
	j.logger.Info().Str("target_job_id", t.JobID).Msg("terminator received")
	return true
}

func (j *Job) renew(ctx context.Context) {
	err := j.deps.Registry.Renew(ctx, j.id)
	if errors.Is(err, subscription.ErrNotFound) {
		// The lease lapsed (e.g. registry restart); write the record again.
		err = j.deps.Registry.Put(ctx, &registry.Record{
			JobID:     j.id,
			Topics:    j.batch.Topics(),
			Requests:  j.batch,
			Owner:     j.deps.Owner,
			StartedAt: j.startedAt,
		})
	}
	if err != nil && ctx.Err() == nil {
		j.logger.Warn().Err(err).Msg("failed to renew subscription lease")
	}
}

// lane dispatches the messages of one subscription in order until the
// subscription channel closes.
func (j *Job) lane(ctx context.Context, sub broker.Subscription) {
	topic := sub.Topic()
	req, _ := j.batch.ForTopic(topic)
	logger := j.logger.With().Str(log.FieldTopic, topic).Logger()

	for msg := range sub.C() {
		if ctx.Err() != nil {
			continue // draining after terminate
		}
		call := dispatch.BuildCall(j.id, topic, req, msg.Payload)
		if err := j.deps.Dispatcher.Dispatch(ctx, call); err != nil {
			var de *subscription.DeliveryDispatchError
			ev := logger.Warn().Err(err).
				Str(log.FieldVerb, string(call.Verb)).
				Str(log.FieldEndpoint, call.Endpoint)
			if errors.As(err, &de) && de.Status != 0 {
				ev = ev.Int(log.FieldStatus, de.Status)
			}
			ev.Msg("message dispatch failed")
			continue
		}
		logger.Debug().
			Str(log.FieldVerb, string(call.Verb)).
			Str(log.FieldEndpoint, call.Endpoint).
			Msg("message dispatched")
	}
}
