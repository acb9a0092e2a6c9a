// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry records which subscription sets are live.
//
// Each running subscriber job owns one Record keyed by its job id. Records
// carry a lease: the job renews it periodically and a record whose owner
// crashed expires on its own instead of staying authoritative.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ManuGH/pubsub-bridge/internal/cache"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

const (
	DefaultKeyPrefix = "bridge:subscription:"
	DefaultLeaseTTL  = 30 * time.Second
)

// Record is the registry entry of one running subscriber job.
type Record struct {
	JobID     string             `json:"job_id"`
	Topics    []string           `json:"topics"`
	Requests  subscription.Batch `json:"requests"`
	Owner     string             `json:"owner,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	RenewedAt time.Time          `json:"renewed_at"`
}

// HasTopic reports whether the record subscribes to topic.
func (r *Record) HasTopic(topic string) bool {
	return slices.Contains(r.Topics, topic)
}

// Registry is the keyed set of live subscription records.
type Registry interface {
	// Get returns subscription.ErrNotFound when no record exists for jobID.
	Get(ctx context.Context, jobID string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	// Renew extends the lease. It returns subscription.ErrNotFound when the
	// record expired or was removed.
	Renew(ctx context.Context, jobID string) error
	Delete(ctx context.Context, jobID string) error
	// List returns live records ordered by StartedAt, or
	// subscription.ErrUnsupported when the backend cannot enumerate.
	List(ctx context.Context) ([]*Record, error)
}

// Options configures a CacheRegistry.
type Options struct {
	KeyPrefix string
	LeaseTTL  time.Duration
	Clock     clock.Clock
}

// CacheRegistry stores records as JSON values in a cache.Cache.
type CacheRegistry struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
	clock  clock.Clock
}

// New creates a registry on top of c.
func New(c cache.Cache, opts Options) *CacheRegistry {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &CacheRegistry{cache: c, prefix: opts.KeyPrefix, ttl: opts.LeaseTTL, clock: opts.Clock}
}

// LeaseTTL returns the lease duration applied to every write.
func (r *CacheRegistry) LeaseTTL() time.Duration { return r.ttl }

func (r *CacheRegistry) key(jobID string) string { return r.prefix + jobID }

func (r *CacheRegistry) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := r.cache.Get(ctx, r.key(jobID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, subscription.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry get %s: %w", jobID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("registry decode %s: %w", jobID, err)
	}
	return &rec, nil
}

func (r *CacheRegistry) Put(ctx context.Context, rec *Record) error {
	if rec.JobID == "" {
		return fmt.Errorf("registry put: job id is required")
	}
	now := r.clock.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.RenewedAt = now
	if len(rec.Topics) == 0 {
		rec.Topics = rec.Requests.Topics()
	}
	return r.write(ctx, rec)
}

func (r *CacheRegistry) write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("registry encode %s: %w", rec.JobID, err)
	}
	if err := r.cache.Set(ctx, r.key(rec.JobID), data, r.ttl); err != nil {
		return fmt.Errorf("registry put %s: %w", rec.JobID, err)
	}
	return nil
}

func (r *CacheRegistry) Renew(ctx context.Context, jobID string) error {
	rec, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	rec.RenewedAt = r.clock.Now().UTC()
	return r.write(ctx, rec)
}

func (r *CacheRegistry) Delete(ctx context.Context, jobID string) error {
	if err := r.cache.Delete(ctx, r.key(jobID)); err != nil {
		return fmt.Errorf("registry delete %s: %w", jobID, err)
	}
	return nil
}

func (r *CacheRegistry) List(ctx context.Context) ([]*Record, error) {
	keys, err := r.cache.Keys(ctx, r.prefix)
	if errors.Is(err, cache.ErrUnsupported) {
		return nil, subscription.ErrUnsupported
	}
	if err != nil {
		return nil, fmt.Errorf("registry list: %w", err)
	}

	out := make([]*Record, 0, len(keys))
	for _, k := range keys {
		rec, err := r.Get(ctx, strings.TrimPrefix(k, r.prefix))
		if errors.Is(err, subscription.ErrNotFound) {
			continue // expired between Keys and Get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.Before(recs[j].StartedAt)
		}
		return recs[i].JobID < recs[j].JobID
	})
}

var _ Registry = (*CacheRegistry)(nil)
