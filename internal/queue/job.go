// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue is the job queue that runs subscriber jobs.
//
// A Job is enqueued as "queued" with zero attempts. A Worker claims it
// (attempts+1, status "running"), runs the handler registered for its kind,
// heartbeats while it runs and finally records "done" or "failed", or
// requeues it when attempts remain. The Sweeper fails running jobs whose
// heartbeat went stale, so a crashed worker does not leave a job looking
// alive forever.
package queue

import (
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no worker will touch the job again.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

var (
	ErrNotFound = errors.New("job not found")
	// ErrNotOwner is returned when a worker touches a job it no longer owns.
	ErrNotOwner = errors.New("job not owned by caller")
)

// Job is a job execution record.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Topics      []string        `json:"topics,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Timeout     time.Duration   `json:"timeout"` // 0: no timeout
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	HeartbeatAt time.Time       `json:"heartbeat_at,omitzero"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = slices.Clone(j.Payload)
	c.Topics = slices.Clone(j.Topics)
	return &c
}

// HasTopic reports whether topic is in the job's topic index.
func (j *Job) HasTopic(topic string) bool {
	return slices.Contains(j.Topics, topic)
}

// NewJob describes a job to enqueue.
type NewJob struct {
	Kind        string
	Payload     json.RawMessage
	Topics      []string
	MaxAttempts int           // <= 0 means 1
	Timeout     time.Duration // 0: no timeout
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
