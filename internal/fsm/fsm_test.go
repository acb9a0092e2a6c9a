// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

func TestMachine_FireAndObserve(t *testing.T) {
	m, err := New[state, event]("a", []Transition[state, event]{
		{From: "a", Event: "go", To: "b"},
		{From: "b", Event: "go", To: "c"},
	})
	require.NoError(t, err)

	var seen []string
	m.OnTransition(func(from, to state, ev event) {
		seen = append(seen, string(from)+">"+string(to))
	})

	to, err := m.Fire(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, state("b"), to)
	assert.True(t, m.Can("go"))

	_, err = m.Fire(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, state("c"), m.State())
	assert.False(t, m.Can("go"))
	assert.Equal(t, []string{"a>b", "b>c"}, seen)
}

func TestMachine_UnknownTransition(t *testing.T) {
	m, err := New[state, event]("a", nil)
	require.NoError(t, err)

	cur, err := m.Fire(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, state("a"), cur)
}

func TestMachine_DuplicateTransition(t *testing.T) {
	_, err := New[state, event]("a", []Transition[state, event]{
		{From: "a", Event: "go", To: "b"},
		{From: "a", Event: "go", To: "c"},
	})
	require.Error(t, err)
}

func TestMachine_GuardAndActionErrorsKeepState(t *testing.T) {
	boom := errors.New("boom")
	m, err := New[state, event]("a", []Transition[state, event]{
		{From: "a", Event: "guarded", To: "b", Guard: func(context.Context, state, event) error { return boom }},
		{From: "a", Event: "acted", To: "b", Action: func(context.Context, state, state, event) error { return boom }},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), "guarded")
	require.ErrorIs(t, err, boom)
	_, err = m.Fire(context.Background(), "acted")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, state("a"), m.State())
}
