// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pubsub-bridge/internal/api/problem"
	"github.com/ManuGH/pubsub-bridge/internal/health"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
)

type fakeSubs struct {
	list      []subscription.Request
	listErr   error
	created   any
	createErr error
	deleted   []string
	running   map[string]bool
	statusErr error
	panicOn   string
}

func (f *fakeSubs) List(context.Context) ([]subscription.Request, error) {
	if f.panicOn == "list" {
		panic("boom")
	}
	return f.list, f.listErr
}

func (f *fakeSubs) Create(_ context.Context, raw any) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if _, err := subscription.ParseBatch(raw); err != nil {
		return "", err
	}
	f.created = raw
	return "job-1", nil
}

func (f *fakeSubs) Delete(_ context.Context, jobID string) error {
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeSubs) Status(_ context.Context, topic string) (bool, error) {
	if f.statusErr != nil {
		return false, f.statusErr
	}
	return f.running[topic], nil
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestListNotFound(t *testing.T) {
	h := New(Config{}, &fakeSubs{listErr: subscription.ErrNotFound}, nil).Handler()
	rec := serve(t, h, http.MethodGet, "/sub", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.NotEmpty(t, body[problem.JSONKeyRequestID])
	assert.Equal(t, body[problem.JSONKeyRequestID], rec.Header().Get(problem.HeaderRequestID))
}

func TestListUnsupported(t *testing.T) {
	h := New(Config{}, &fakeSubs{listErr: subscription.ErrUnsupported}, nil).Handler()
	rec := serve(t, h, http.MethodGet, "/sub", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListReturnsRequests(t *testing.T) {
	subs := &fakeSubs{list: []subscription.Request{
		{Topic: "a", Service: subscription.Service{Endpoint: "system/role", Verb: subscription.VerbPost}},
		{Topic: "b", Service: subscription.Service{Endpoint: "system/user", Verb: subscription.VerbGet}},
	}}
	h := New(Config{}, subs, nil).Handler()
	rec := serve(t, h, http.MethodGet, "/sub", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []subscription.Request
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, subs.list, got)
}

func TestCreate(t *testing.T) {
	subs := &fakeSubs{}
	h := New(Config{}, subs, nil).Handler()

	rec := serve(t, h, http.MethodPost, "/sub", `[{"topic":"orders.created","service":{"endpoint":"system/role","payload":{"n":1}}}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body successResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "job-1", body.JobID)

	// Numbers stay exact on their way into the job payload.
	entry := subs.created.([]any)[0].(map[string]any)
	payload := entry["service"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, json.Number("1"), payload["n"])
}

func TestCreateRejectsBadBodies(t *testing.T) {
	h := New(Config{MaxBodyBytes: 64}, &fakeSubs{}, nil).Handler()

	rec := serve(t, h, http.MethodPost, "/sub", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodPost, "/sub", `[{"topic":"a","service":{}}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "INVALID_SUBSCRIPTION", body["code"])
	assert.Equal(t, "service.endpoint", body["field"])

	rec = serve(t, h, http.MethodPost, "/sub", `[{"topic":"`+strings.Repeat("x", 100)+`","service":{"endpoint":"e"}}]`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreateConflictAndInconsistent(t *testing.T) {
	h := New(Config{}, &fakeSubs{createErr: subscription.ErrConflict}, nil).Handler()
	rec := serve(t, h, http.MethodPost, "/sub", `[{"topic":"a","service":{"endpoint":"e"}}]`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	h = New(Config{}, &fakeSubs{createErr: subscription.ErrInconsistentState}, nil).Handler()
	rec = serve(t, h, http.MethodPost, "/sub", `[{"topic":"a","service":{"endpoint":"e"}}]`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "worker")
}

func TestDelete(t *testing.T) {
	subs := &fakeSubs{}
	h := New(Config{}, subs, nil).Handler()

	rec := serve(t, h, http.MethodDelete, "/sub", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, h, http.MethodDelete, "/sub/job-9", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"", "job-9"}, subs.deleted)
}

func TestStatus(t *testing.T) {
	subs := &fakeSubs{running: map[string]bool{"a": true}}
	h := New(Config{}, subs, nil).Handler()

	rec := serve(t, h, http.MethodGet, "/sub/status?topic=a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, statusResponse{Topic: "a", Running: true}, body)

	subs.statusErr = &subscription.ValidationError{Index: -1, Field: "topic", Reason: "query parameter is required"}
	rec = serve(t, h, http.MethodGet, "/sub/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoversPanics(t *testing.T) {
	h := New(Config{}, &fakeSubs{panicOn: "list"}, nil).Handler()
	rec := serve(t, h, http.MethodGet, "/sub", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decodeProblem(t, rec)["code"])
}

func TestRateLimit(t *testing.T) {
	h := New(Config{RateLimit: 2}, &fakeSubs{listErr: errors.New("x")}, nil).Handler()
	for i := 0; i < 2; i++ {
		rec := serve(t, h, http.MethodGet, "/sub", "")
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
	rec := serve(t, h, http.MethodGet, "/sub", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Probes are not limited.
	rec = serve(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness(t *testing.T) {
	hm := health.NewManager("test")
	hm.RegisterChecker(&health.PingChecker{CheckName: "redis", Ping: func(context.Context) error {
		return errors.New("down")
	}})
	h := New(Config{Tracing: true}, &fakeSubs{}, hm).Handler()

	rec := serve(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = serve(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := New(Config{}, &fakeSubs{listErr: subscription.ErrNotFound}, nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/sub", nil)
	req.Header.Set(problem.HeaderRequestID, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(problem.HeaderRequestID))
	assert.Equal(t, "abc", decodeProblem(t, rec)[problem.JSONKeyRequestID])
}
