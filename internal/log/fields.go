// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldOwner     = "owner"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldKind      = "kind"
	FieldAttempts  = "attempts"

	// Subscription / delivery fields
	FieldTopic    = "topic"
	FieldTopics   = "topics"
	FieldVerb     = "verb"
	FieldEndpoint = "endpoint"
	FieldStatus   = "status"
	FieldBackend  = "backend"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
