// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscriber

import (
	"context"
	"sync"

	"github.com/ManuGH/pubsub-bridge/internal/queue"
)

// Handler runs subscriber jobs claimed by a queue worker.
type Handler struct {
	Deps Deps

	mu     sync.Mutex
	active map[string]*Job
}

// NewHandler creates a queue handler for subscriber jobs.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps, active: make(map[string]*Job)}
}

func (h *Handler) Run(ctx context.Context, qj *queue.Job) error {
	j, err := New(qj.ID, qj.Payload, h.Deps)
	if err != nil {
		return queue.Permanent(err)
	}
	h.mu.Lock()
	h.active[j.ID()] = j
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.active, j.ID())
		h.mu.Unlock()
	}()
	return j.Run(ctx)
}

// States reports the state of every job this handler is currently running.
func (h *Handler) States() map[string]State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]State, len(h.active))
	for id, j := range h.active {
		out[id] = j.State()
	}
	return out
}

var _ queue.Handler = (*Handler)(nil)
