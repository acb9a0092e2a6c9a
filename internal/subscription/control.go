// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Terminator is the control message that stops subscriber jobs. An empty
// JobID addresses every job.
type Terminator struct {
	JobID string `json:"job_id"`
}

// Encode renders the terminator as published on the control topic.
func (t Terminator) Encode() []byte {
	data, _ := json.Marshal(t)
	return data
}

// Matches reports whether the terminator addresses jobID.
func (t Terminator) Matches(jobID string) bool {
	return t.JobID == "" || t.JobID == jobID
}

// DecodeTerminator parses a control message.
func DecodeTerminator(data []byte) (Terminator, error) {
	var t Terminator
	if err := json.Unmarshal(data, &t); err != nil {
		return Terminator{}, fmt.Errorf("decode terminator: %w", err)
	}
	return t, nil
}

// ConflictPolicy decides whether a new subscription set may start while
// another one is live.
type ConflictPolicy string

const (
	// PolicyReject refuses a new set while one is live.
	PolicyReject ConflictPolicy = "reject"
	// PolicyParallel lets independent sets run side by side.
	PolicyParallel ConflictPolicy = "parallel"
)

// ParseConflictPolicy accepts "reject" (also the empty default) and "parallel".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyParallel:
		return PolicyParallel, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (expected reject or parallel)", s)
	}
}
