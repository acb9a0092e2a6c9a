// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no subscription set is live.
	ErrNotFound = errors.New("no active subscription")
	// ErrUnsupported means the registry backend cannot enumerate subscriptions.
	ErrUnsupported = errors.New("subscription registry introspection is not supported by this backend")
	// ErrInconsistentState means a subscriber job was accepted but never picked up.
	ErrInconsistentState = errors.New("unprocessed subscriber job found - is a queue worker running?")
	// ErrConflict means a subscription set is already live and the conflict policy rejects another.
	ErrConflict = errors.New("a subscription set is already active")
	// ErrSubscriptionLost means a broker subscription closed while the job was running.
	ErrSubscriptionLost = errors.New("broker subscription closed unexpectedly")
)

// ValidationError describes a malformed subscribe batch. Index is -1 when the
// problem concerns the body as a whole.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("invalid subscription payload: %s", e.Reason)
	case e.Field == "":
		return fmt.Sprintf("invalid subscription payload: entry %d: %s", e.Index, e.Reason)
	default:
		return fmt.Sprintf("invalid subscription payload: entry %d: %s %s", e.Index, e.Field, e.Reason)
	}
}

// BrokerSubscribeError is fatal to a subscriber job attempt.
type BrokerSubscribeError struct {
	Topic string
	Err   error
}

func (e *BrokerSubscribeError) Error() string {
	return fmt.Sprintf("subscribe to topic %q: %v", e.Topic, e.Err)
}

func (e *BrokerSubscribeError) Unwrap() error { return e.Err }

// DeliveryDispatchError reports a failed outbound call for one message. It never
// terminates the subscriber job.
type DeliveryDispatchError struct {
	Topic    string
	Verb     Verb
	Endpoint string
	Status   int // HTTP status, 0 when no response was received
	Err      error
}

func (e *DeliveryDispatchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dispatch %s %s for topic %q: status %d: %v", e.Verb, e.Endpoint, e.Topic, e.Status, e.Err)
	}
	return fmt.Sprintf("dispatch %s %s for topic %q: %v", e.Verb, e.Endpoint, e.Topic, e.Err)
}

func (e *DeliveryDispatchError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
