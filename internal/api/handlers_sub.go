// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/pubsub-bridge/internal/api/problem"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

type successResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
}

type statusResponse struct {
	Topic   string `json:"topic"`
	Running bool   `json:"running"`
}

// handleList serves GET /sub.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.subs.List(r.Context())
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reqs)
}

// handleCreate serves POST /sub.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, "subscription/too_large", "Payload Too Large", "BODY_TOO_LARGE", err.Error(), nil)
			return
		}
		problem.FromError(w, r, &subscription.ValidationError{Index: -1, Field: "body", Reason: "body is not valid JSON"})
		return
	}

	jobID, err := s.subs.Create(r.Context(), raw)
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, successResponse{Success: true, JobID: jobID})
}

// handleDelete serves DELETE /sub and DELETE /sub/{jobID}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.subs.Delete(r.Context(), jobID); err != nil {
		problem.FromError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, successResponse{Success: true, JobID: jobID})
}

// handleStatus serves GET /sub/status?topic=.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	running, err := s.subs.Status(r.Context(), topic)
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statusResponse{Topic: topic, Running: running})
}
