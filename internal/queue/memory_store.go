// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a non-durable Store for tests and single-node use.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	// order keeps insertion order for FIFO claims.
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Enqueue(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, owner string, kinds []string, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != StatusQueued {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, j.Kind) {
			continue
		}
		j.Status = StatusRunning
		j.Attempts++
		j.Owner = owner
		j.StartedAt = now
		j.HeartbeatAt = now
		return j.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, id, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusRunning || j.Owner != owner {
		return ErrNotOwner
	}
	j.HeartbeatAt = now
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, id string, status Status, errMsg string, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish with non-terminal status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.Error = errMsg
	j.FinishedAt = now
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = StatusQueued
	j.Error = errMsg
	j.Owner = ""
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) FindByTopic(_ context.Context, kind, topic string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status.IsTerminal() || j.Kind != kind || !j.HasTopic(topic) {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *MemoryStore) ExpireStale(_ context.Context, before, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != StatusRunning || !j.HeartbeatAt.Before(before) {
			continue
		}
		j.Status = StatusFailed
		j.Error = errLeaseExpired
		j.FinishedAt = now
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *MemoryStore) CancelQueued(_ context.Context, kind, id, reason string, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, jid := range s.order {
		j := s.jobs[jid]
		if j.Status != StatusQueued || j.Kind != kind || (id != "" && j.ID != id) {
			continue
		}
		j.Status = StatusFailed
		j.Error = reason
		j.FinishedAt = now
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

const errLeaseExpired = "lease expired: no heartbeat from worker"

var _ Store = (*MemoryStore)(nil)
