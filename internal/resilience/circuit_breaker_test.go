// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPeer = errors.New("peer down")

func fail() error { return errPeer }
func ok() error   { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute, WithClock(clock.NewMock()))

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail, nil), errPeer)
	}
	assert.Equal(t, StateClosed, cb.State())

	// A success resets the consecutive count.
	require.NoError(t, cb.Execute(ok, nil))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(fail, nil)
	}
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(fail, nil)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ok, nil), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	mock := clock.NewMock()
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(mock))

	_ = cb.Execute(fail, nil)
	require.Equal(t, StateOpen, cb.State())

	mock.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	// Only one probe at a time.
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())

	mock.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ok, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailureFilter(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute, WithClock(clock.NewMock()))
	clientErr := errors.New("bad request")

	err := cb.Execute(func() error { return clientErr }, func(err error) bool { return !errors.Is(err, clientErr) })
	assert.ErrorIs(t, err, clientErr)
	assert.Equal(t, StateClosed, cb.State())
}
