// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/pubsub-bridge/internal/broker"
	"github.com/ManuGH/pubsub-bridge/internal/cache"
	"github.com/ManuGH/pubsub-bridge/internal/dispatch"
	"github.com/ManuGH/pubsub-bridge/internal/queue"
	"github.com/ManuGH/pubsub-bridge/internal/registry"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const terminatorTopic = "test.terminate"

// recorder is a Dispatcher that records calls and can fail selected ones.
type recorder struct {
	mu    sync.Mutex
	calls []dispatch.Call
	ch    chan dispatch.Call
	fail  func(dispatch.Call) bool
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan dispatch.Call, 64)}
}

func (r *recorder) Dispatch(_ context.Context, c dispatch.Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	fail := r.fail
	r.mu.Unlock()
	r.ch <- c
	if fail != nil && fail(c) {
		return &subscription.DeliveryDispatchError{Topic: c.Topic, Verb: c.Verb, Endpoint: c.Endpoint, Status: 502, Err: errors.New("bad gateway")}
	}
	return nil
}

func (r *recorder) next(t *testing.T) dispatch.Call {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
	return dispatch.Call{}
}

type env struct {
	broker   *broker.MemoryBroker
	registry *registry.CacheRegistry
	disp     *recorder
	clock    *clock.Mock
	deps     Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := cache.NewMemoryCacheWithClock(mock, 0)
	b := broker.NewMemoryBroker(0)
	t.Cleanup(func() {
		_ = b.Close()
		_ = c.Close()
	})
	e := &env{
		broker:   b,
		registry: registry.New(c, registry.Options{LeaseTTL: 30 * time.Second, Clock: mock}),
		disp:     newRecorder(),
		clock:    mock,
	}
	e.deps = Deps{
		Broker:          b,
		Registry:        e.registry,
		Dispatcher:      e.disp,
		TerminatorTopic: terminatorTopic,
		RenewInterval:   10 * time.Second,
		Owner:           "test-worker",
		Clock:           mock,
	}
	return e
}

// start runs a job in the background and waits until it is running.
func (e *env) start(t *testing.T, ctx context.Context, id, payload string) (*Job, <-chan error) {
	t.Helper()
	j, err := New(id, []byte(payload), e.deps)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, j.State())

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	require.Eventually(t, func() bool { return j.State() == StateRunning }, 2*time.Second, time.Millisecond)
	return j, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
	return nil
}

func (e *env) publish(t *testing.T, topic, payload string) {
	t.Helper()
	require.NoError(t, e.broker.Publish(context.Background(), topic, []byte(payload)))
}

func TestJob_OrdersCreatedScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	j, done := e.start(t, ctx, "job-1", `[{"topic":"orders.created","service":{"endpoint":"system/role"}}]`)

	rec, err := e.registry.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.created"}, rec.Topics)
	assert.Equal(t, "test-worker", rec.Owner)

	e.publish(t, "orders.created", `{"roleId":5}`)
	call := e.disp.next(t)
	assert.Equal(t, subscription.VerbPost, call.Verb)
	assert.Equal(t, "system/role", call.Endpoint)
	assert.Equal(t, "orders.created", call.Topic)
	assert.Equal(t, "job-1", call.JobID)
	assert.Equal(t, json.Number("5"), call.Body["roleId"])

	e.publish(t, terminatorTopic, `{"job_id":""}`)
	require.NoError(t, wait(t, done))
	assert.Equal(t, StateStopped, j.State())

	_, err = e.registry.Get(ctx, "job-1")
	assert.ErrorIs(t, err, subscription.ErrNotFound)
	assert.Equal(t, 0, e.broker.Subscribers("orders.created"))
	assert.Equal(t, 0, e.broker.Subscribers(terminatorTopic))
}

func TestJob_TerminatorForOtherJobIgnored(t *testing.T) {
	e := newEnv(t)
	j, done := e.start(t, context.Background(), "job-1", `[{"topic":"a","service":{"endpoint":"x"}}]`)

	e.publish(t, terminatorTopic, `{"job_id":"job-2"}`)
	e.publish(t, terminatorTopic, `garbage`)
	e.publish(t, "a", `{}`)
	e.disp.next(t)
	assert.Equal(t, StateRunning, j.State())

	e.publish(t, terminatorTopic, `{"job_id":"job-1"}`)
	require.NoError(t, wait(t, done))
	assert.Equal(t, StateStopped, j.State())
}

func TestJob_ContextCancelActsAsTerminator(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	j, done := e.start(t, ctx, "job-1", `[{"topic":"a","service":{"endpoint":"x"}}]`)

	cancel()
	require.NoError(t, wait(t, done))
	assert.Equal(t, StateStopped, j.State())

	_, err := e.registry.Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestJob_PerTopicOrderAndRouting(t *testing.T) {
	e := newEnv(t)
	_, done := e.start(t, context.Background(), "job-1", `[
		{"topic":"a","service":{"endpoint":"first","verb":"put"}},
		{"topic":"b","service":{"endpoint":"other","verb":"GET"}},
		{"topic":"a","service":{"endpoint":"shadowed"}}
	]`)

	for _, p := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		e.publish(t, "a", p)
	}
	e.publish(t, "b", `{"n":9}`)

	var seqA []json.Number
	for i := 0; i < 4; i++ {
		c := e.disp.next(t)
		switch c.Topic {
		case "a":
			assert.Equal(t, "first", c.Endpoint, "first request for a topic wins")
			assert.Equal(t, subscription.VerbPut, c.Verb)
			seqA = append(seqA, c.Body["n"].(json.Number))
		case "b":
			assert.Equal(t, subscription.VerbGet, c.Verb)
			assert.Nil(t, c.Body)
		}
	}
	assert.Equal(t, []json.Number{"1", "2", "3"}, seqA)

	e.publish(t, terminatorTopic, `{"job_id":""}`)
	require.NoError(t, wait(t, done))
}

func TestJob_DispatchFailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	e.disp.fail = func(c dispatch.Call) bool { return c.Body["fail"] == true }
	j, done := e.start(t, context.Background(), "job-1", `[{"topic":"a","service":{"endpoint":"x"}}]`)

	e.publish(t, "a", `{"fail":true}`)
	e.publish(t, "a", `{"fail":false}`)
	e.disp.next(t)
	second := e.disp.next(t)
	assert.Equal(t, false, second.Body["fail"])
	assert.Equal(t, StateRunning, j.State())

	e.publish(t, terminatorTopic, `{"job_id":""}`)
	require.NoError(t, wait(t, done))
}

func TestJob_InvalidPayloadFails(t *testing.T) {
	e := newEnv(t)
	j, err := New("job-1", []byte(`[{"topic":"a"}]`), e.deps)
	require.NoError(t, err)

	err = j.Run(context.Background())
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.True(t, subscription.IsValidation(err))
	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, 0, e.broker.Subscribers(terminatorTopic))
}

// failingBroker fails Subscribe for one topic.
type failingBroker struct {
	broker.Client
	failTopic string
}

func (f *failingBroker) Subscribe(ctx context.Context, topic string, opts ...broker.SubscribeOption) (broker.Subscription, error) {
	if topic == f.failTopic {
		return nil, errors.New("connection refused")
	}
	return f.Client.Subscribe(ctx, topic, opts...)
}

func TestJob_SubscribeFailureUnwinds(t *testing.T) {
	e := newEnv(t)
	e.deps.Broker = &failingBroker{Client: e.broker, failTopic: "b"}

	j, err := New("job-1", []byte(`[{"topic":"a","service":{"endpoint":"x"}},{"topic":"b","service":{"endpoint":"y"}}]`), e.deps)
	require.NoError(t, err)

	err = j.Run(context.Background())
	var be *subscription.BrokerSubscribeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "b", be.Topic)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, StateFailed, j.State())

	assert.Equal(t, 0, e.broker.Subscribers("a"), "earlier subscriptions are closed")
	assert.Equal(t, 0, e.broker.Subscribers(terminatorTopic))
	_, err = e.registry.Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestJob_ConflictPolicy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.registry.Put(ctx, &registry.Record{JobID: "existing", Topics: []string{"z"}}))

	j, err := New("job-1", []byte(`[{"topic":"a","service":{"endpoint":"x"}}]`), e.deps)
	require.NoError(t, err)
	err = j.Run(ctx)
	require.ErrorIs(t, err, subscription.ErrConflict)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, StateFailed, j.State())

	_, err = e.registry.Get(ctx, "existing")
	require.NoError(t, err, "a rejected job must not clear other records")

	e.deps.ConflictPolicy = subscription.PolicyParallel
	_, done := e.start(t, ctx, "job-2", `[{"topic":"a","service":{"endpoint":"x"}}]`)
	recs, err := e.registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	e.publish(t, terminatorTopic, `{"job_id":"job-2"}`)
	require.NoError(t, wait(t, done))
}

func TestJob_SubscriptionLost(t *testing.T) {
	e := newEnv(t)
	j, done := e.start(t, context.Background(), "job-1", `[{"topic":"a","service":{"endpoint":"x"}}]`)

	require.NoError(t, e.broker.Close())
	err := wait(t, done)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionLost)
	assert.Equal(t, StateStopped, j.State())
}

func TestJob_RenewsLease(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, done := e.start(t, ctx, "job-1", `[{"topic":"a","service":{"endpoint":"x"}}]`)

	first, err := e.registry.Get(ctx, "job-1")
	require.NoError(t, err)

	// Advance the clock in lease-sized steps; renewals keep the record alive.
	require.Eventually(t, func() bool {
		e.clock.Add(10 * time.Second)
		rec, err := e.registry.Get(ctx, "job-1")
		return err == nil && rec.RenewedAt.After(first.RenewedAt)
	}, 2*time.Second, 5*time.Millisecond)

	e.publish(t, terminatorTopic, `{"job_id":""}`)
	require.NoError(t, wait(t, done))
}

func TestJob_RenewRecreatesLapsedRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, done := e.start(t, ctx, "job-1", `[{"topic":"a","service":{"endpoint":"x"}}]`)

	orig, err := e.registry.Get(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, e.registry.Delete(ctx, "job-1"))
	var rec *registry.Record
	require.Eventually(t, func() bool {
		e.clock.Add(10 * time.Second)
		var err error
		rec, err = e.registry.Get(ctx, "job-1")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, rec.StartedAt.Equal(orig.StartedAt), "recreated record keeps the original start time")

	e.publish(t, terminatorTopic, `{"job_id":""}`)
	require.NoError(t, wait(t, done))
}

func TestHandler_RunsQueueJob(t *testing.T) {
	e := newEnv(t)
	h := NewHandler(e.deps)

	done := make(chan error, 1)
	qj := &queue.Job{ID: "job-9", Kind: Kind, Payload: []byte(`[{"topic":"a","service":{"endpoint":"x"}}]`)}
	go func() { done <- h.Run(context.Background(), qj) }()

	require.Eventually(t, func() bool { return h.States()["job-9"] == StateRunning }, 2*time.Second, time.Millisecond)
	e.publish(t, terminatorTopic, `{"job_id":"job-9"}`)
	require.NoError(t, wait(t, done))
	assert.Empty(t, h.States())
}
