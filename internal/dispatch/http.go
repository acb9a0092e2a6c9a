// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/pubsub-bridge/internal/log"
	"github.com/ManuGH/pubsub-bridge/internal/metrics"
	"github.com/ManuGH/pubsub-bridge/internal/resilience"
	"github.com/ManuGH/pubsub-bridge/internal/subscription"
	"github.com/ManuGH/pubsub-bridge/internal/telemetry"
)

const maxErrorBody = 4 << 10

// Config configures the HTTP dispatcher.
type Config struct {
	BaseURL      string
	Timeout      time.Duration     // per attempt; default 10s
	Retries      uint64            // extra attempts on transport errors, 429 and 5xx
	RetryBackoff time.Duration     // initial backoff; default 200ms
	RateLimit    float64           // calls per second; 0 disables limiting
	Burst        int               // limiter burst; default 1
	Headers      map[string]string // sent with every call, overridden per call

	BreakerThreshold int           // consecutive failed dispatches before the circuit opens; 0 disables
	BreakerReset     time.Duration // open period before a probe; default 30s
}

// HTTPDispatcher calls the internal API over HTTP.
type HTTPDispatcher struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
}

// NewHTTPDispatcher validates cfg and creates a dispatcher.
func NewHTTPDispatcher(cfg Config) (*HTTPDispatcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("dispatch: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("dispatch: base URL must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	d := &HTTPDispatcher{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: telemetry.Tracer("pubsub-bridge/dispatch"),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	if cfg.BreakerThreshold > 0 {
		d.breaker = resilience.NewCircuitBreaker("dispatch", cfg.BreakerThreshold, cfg.BreakerReset)
	}
	return d, nil
}

// resolve joins endpoint onto the base URL and applies query parameters.
// Absolute endpoints are used as given.
func (d *HTTPDispatcher) resolve(endpoint string, params map[string]string) (*url.URL, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	var u *url.URL
	if ref.IsAbs() {
		u = ref
	} else {
		u = d.base.JoinPath(strings.TrimLeft(ref.Path, "/"))
		u.RawQuery = ref.RawQuery
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Dispatch performs call. Retries follow cfg.Retries; the error returned is
// always a *subscription.DeliveryDispatchError.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, call Call) error {
	ctx, span := d.tracer.Start(ctx, "dispatch "+string(call.Verb),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.DeliveryAttributes(call.Topic, call.JobID, string(call.Verb), call.Endpoint)...),
	)
	defer span.End()

	start := time.Now()
	status, err := d.guarded(ctx, call, span)
	metrics.ObserveDelivery(call.Topic, string(call.Verb), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &subscription.DeliveryDispatchError{
			Topic:    call.Topic,
			Verb:     call.Verb,
			Endpoint: call.Endpoint,
			Status:   status,
			Err:      err,
		}
	}
	span.SetAttributes(attribute.Int(telemetry.HTTPStatusCodeKey, status))
	return nil
}

// guarded runs do behind the circuit breaker. Only failures that point at the
// internal API (transport errors, 429, 5xx) count against it.
func (d *HTTPDispatcher) guarded(ctx context.Context, call Call, span trace.Span) (int, error) {
	if d.breaker == nil {
		return d.do(ctx, call, span)
	}
	if err := d.breaker.Allow(); err != nil {
		return 0, err
	}
	status, err := d.do(ctx, call, span)
	var le *localError
	switch {
	case err == nil, errors.As(err, &le), !retryable(status, err):
		d.breaker.Success()
	default:
		d.breaker.Failure()
	}
	return status, err
}

func (d *HTTPDispatcher) do(ctx context.Context, call Call, span trace.Span) (int, error) {
	u, err := d.resolve(call.Endpoint, call.Parameter)
	if err != nil {
		return 0, &localError{err}
	}

	var body []byte
	if call.Verb != subscription.VerbGet && call.Body != nil {
		if body, err = json.Marshal(call.Body); err != nil {
			return 0, &localError{fmt.Errorf("encode body: %w", err)}
		}
	}

	backoff := retry.WithMaxRetries(d.cfg.Retries, retry.NewExponential(d.cfg.RetryBackoff))

	var (
		status  int
		attempt int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		span.SetAttributes(attribute.Int(telemetry.AttemptKey, attempt))
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var rerr error
		status, rerr = d.once(ctx, call, u, body)
		if rerr == nil {
			return nil
		}
		if retryable(status, rerr) && ctx.Err() == nil {
			logger := log.WithComponentFromContext(ctx, "dispatch")
			logger.Debug().
				Err(rerr).
				Int("attempt", attempt).
				Str(log.FieldEndpoint, call.Endpoint).
				Msg("dispatch attempt failed, retrying")
			return retry.RetryableError(rerr)
		}
		return rerr
	})
	return status, err
}

func (d *HTTPDispatcher) once(ctx context.Context, call Call, u *url.URL, body []byte) (int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, string(call.Verb), u.String(), rdr)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range call.Header {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return resp.StatusCode, &statusError{code: resp.StatusCode, body: msg}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// localError is a failure raised before any request left the process.
type localError struct{ err error }

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

func retryable(status int, err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return status == http.StatusTooManyRequests || status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

var _ Dispatcher = (*HTTPDispatcher)(nil)
