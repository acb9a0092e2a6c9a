// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem details responses.
package problem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

const (
	// HeaderRequestID is the canonical header for request correlation.
	HeaderRequestID = "X-Request-ID"
	// JSONKeyRequestID carries the request id in problem bodies.
	JSONKeyRequestID = "requestId"
)

// Write writes an RFC 7807 problem details response.
//
//   - type: machine identifier (e.g. "subscription/not_found").
//   - title: short human-readable label.
//   - code: stable machine-readable code (e.g. "NOT_FOUND").
//   - detail: explanation of this occurrence.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string, extra map[string]any) {
	instance := ""
	reqID := ""
	if r != nil {
		instance = r.URL.EscapedPath()
		reqID = log.RequestIDFromContext(r.Context())
	}
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":   problemType,
		"title":  title,
		"status": status,
		"code":   code,
	}
	if reqID != "" {
		res[JSONKeyRequestID] = reqID
		w.Header().Set(HeaderRequestID, reqID)
	}
	if detail != "" {
		res["detail"] = detail
	}
	if instance != "" {
		res["instance"] = instance
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			log.L().Warn().Str("key", k).Str("problem_type", problemType).Msg("ignoring reserved key in problem extras")
			continue
		}
		res[k] = v
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.L().Error().
			Err(err).
			Str("type", problemType).
			Int("status", status).
			Msg("failed to encode problem response")
	}
}

// FromError maps a subscription error onto its problem response. Unknown
// errors become a 500 without leaking their text.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *subscription.ValidationError
	switch {
	case errors.As(err, &verr):
		extra := map[string]any{"field": verr.Field}
		if verr.Index >= 0 {
			extra["index"] = verr.Index
		}
		Write(w, r, http.StatusBadRequest, "subscription/invalid", "Bad Request", "INVALID_SUBSCRIPTION", verr.Error(), extra)
	case errors.Is(err, subscription.ErrNotFound):
		Write(w, r, http.StatusNotFound, "subscription/not_found", "Not Found", "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, subscription.ErrConflict):
		Write(w, r, http.StatusConflict, "subscription/conflict", "Conflict", "CONFLICT", err.Error(), nil)
	case errors.Is(err, subscription.ErrUnsupported):
		Write(w, r, http.StatusNotImplemented, "subscription/unsupported", "Not Implemented", "UNSUPPORTED", err.Error(), nil)
	case errors.Is(err, subscription.ErrInconsistentState):
		Write(w, r, http.StatusInternalServerError, "subscription/inconsistent_state", "Inconsistent State", "INCONSISTENT_STATE", err.Error(), nil)
	default:
		ctx := context.Background()
		if r != nil {
			ctx = r.Context()
		}
		logger := log.WithComponentFromContext(ctx, "api")
		logger.Error().Err(err).Msg("unhandled error")
		Write(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "", nil)
	}
}
