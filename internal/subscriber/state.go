// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscriber

import (
	"github.com/ManuGH/pubsub-bridge/internal/fsm"
)

// State of a subscriber job.
type State string

const (
	StateCreated     State = "created"
	StateValidating  State = "validating"
	StateSubscribing State = "subscribing"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateStopped     State = "stopped"
	StateFailed      State = "failed"
)

// IsTerminal reports whether the job can no longer change state.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Event drives state transitions.
type Event string

const (
	EventStart        Event = "start"
	EventValidated    Event = "validated"
	EventSubscribed   Event = "subscribed"
	EventTerminate    Event = "terminate"
	EventUnsubscribed Event = "unsubscribed"
	EventFail         Event = "fail"
)

func transitions() []fsm.Transition[State, Event] {
	return []fsm.Transition[State, Event]{
		{From: StateCreated, Event: EventStart, To: StateValidating},
		{From: StateValidating, Event: EventValidated, To: StateSubscribing},
		{From: StateValidating, Event: EventFail, To: StateFailed},
		{From: StateSubscribing, Event: EventSubscribed, To: StateRunning},
		{From: StateSubscribing, Event: EventFail, To: StateFailed},
		{From: StateRunning, Event: EventTerminate, To: StateTerminating},
		{From: StateTerminating, Event: EventUnsubscribed, To: StateStopped},
	}
}
