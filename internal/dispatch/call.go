// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dispatch turns a delivered message into a call against the internal
// API.
package dispatch

import (
	"context"

	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

// Call is one outbound request.
type Call struct {
	Topic     string // for logging and metrics
	JobID     string
	Verb      subscription.Verb
	Endpoint  string
	Header    map[string]string
	Parameter map[string]string
	Body      map[string]any // nil or ignored for GET
}

// Dispatcher performs calls. Implementations return a
// *subscription.DeliveryDispatchError on failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, call Call) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, call Call) error

func (f DispatcherFunc) Dispatch(ctx context.Context, call Call) error { return f(ctx, call) }

// BuildCall derives the call for message delivered on topic from req.
func BuildCall(jobID, topic string, req subscription.Request, message []byte) Call {
	c := Call{
		Topic:     topic,
		JobID:     jobID,
		Verb:      req.Service.EffectiveVerb(),
		Endpoint:  req.Service.Endpoint,
		Header:    subscription.StringMap(req.Service.Header),
		Parameter: subscription.StringMap(req.Service.Parameter),
	}
	if c.Verb != subscription.VerbGet {
		c.Body = subscription.MergeBody(req.Service.Payload, message)
	}
	return c
}
