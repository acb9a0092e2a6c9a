// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pubsub-bridge/internal/queue"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

type fakeJobs struct {
	jobs []*queue.Job
	err  error
}

func (f *fakeJobs) FindByTopic(_ context.Context, kind, topic string) ([]*queue.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*queue.Job
	for _, j := range f.jobs {
		if j.Kind == kind && j.HasTopic(topic) && !j.Status.IsTerminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func job(attempts int, created time.Time, topics ...string) *queue.Job {
	status := queue.StatusRunning
	if attempts == 0 {
		status = queue.StatusQueued
	}
	return &queue.Job{ID: "j", Kind: "subscriber", Attempts: attempts, Status: status, CreatedAt: created, Topics: topics}
}

func TestLiveness_RegistryFastPath(t *testing.T) {
	ctx := context.Background()
	r, mock := newMemoryRegistry(t)
	require.NoError(t, r.Put(ctx, &Record{JobID: "job-1", Requests: batch("orders.created")}))

	l := &Liveness{Registry: r, Jobs: &fakeJobs{err: errors.New("must not be called")}, Kind: "subscriber", Clock: mock}
	running, err := l.IsRunning(ctx, "orders.created")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestLiveness_ByAttempts(t *testing.T) {
	ctx := context.Background()
	r, mock := newMemoryRegistry(t)

	tests := []struct {
		name    string
		jobs    []*queue.Job
		grace   time.Duration
		want    bool
		wantErr error
	}{
		{name: "no jobs", want: false},
		{name: "attempts 1 is running", jobs: []*queue.Job{job(1, t0, "t")}, want: true},
		{name: "attempts 0 is inconsistent", jobs: []*queue.Job{job(0, t0.Add(-time.Minute), "t")}, wantErr: subscription.ErrInconsistentState},
		{name: "attempts 0 within grace is starting", jobs: []*queue.Job{job(0, t0.Add(-time.Second), "t")}, grace: 5 * time.Second, want: true},
		{name: "attempts 0 past grace", jobs: []*queue.Job{job(0, t0.Add(-time.Minute), "t")}, grace: 5 * time.Second, wantErr: subscription.ErrInconsistentState},
		{name: "running job wins over stale queued job", jobs: []*queue.Job{job(0, t0.Add(-time.Minute), "t"), job(1, t0, "t")}, want: true},
		{name: "attempts 2 is not running", jobs: []*queue.Job{job(2, t0, "t")}, want: false},
		{name: "other topic", jobs: []*queue.Job{job(1, t0, "other")}, want: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			l := &Liveness{Registry: r, Jobs: &fakeJobs{jobs: tc.jobs}, Kind: "subscriber", PendingGrace: tc.grace, Clock: mock}
			got, err := l.IsRunning(ctx, "t")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLiveness_UnsupportedRegistryFallsBackToJobs(t *testing.T) {
	l := &Liveness{
		Registry: unsupportedRegistry{},
		Jobs:     &fakeJobs{jobs: []*queue.Job{job(1, t0, "t")}},
		Kind:     "subscriber",
	}
	got, err := l.IsRunning(context.Background(), "t")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLiveness_JobLookupError(t *testing.T) {
	l := &Liveness{Jobs: &fakeJobs{err: errors.New("db down")}, Kind: "subscriber"}
	_, err := l.IsRunning(context.Background(), "t")
	assert.Error(t, err)
}

type unsupportedRegistry struct{ Registry }

func (unsupportedRegistry) List(context.Context) ([]*Record, error) {
	return nil, subscription.ErrUnsupported
}
