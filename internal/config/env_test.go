// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "YES"} {
		t.Setenv("TEST_BOOL", v)
		assert.True(t, ParseBool("TEST_BOOL", false), v)
	}
	for _, v := range []string{"false", "0", "no"} {
		t.Setenv("TEST_BOOL", v)
		assert.False(t, ParseBool("TEST_BOOL", true), v)
	}
	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, ParseBool("TEST_BOOL", true))
}

func TestParseEmptyUsesDefault(t *testing.T) {
	t.Setenv("TEST_EMPTY", "")
	assert.Equal(t, "def", ParseString("TEST_EMPTY", "def"))
	assert.Equal(t, 7, ParseInt("TEST_EMPTY", 7))
	assert.Equal(t, time.Second, ParseDuration("TEST_EMPTY", time.Second))
	assert.Equal(t, []string{"x"}, ParseList("TEST_EMPTY", []string{"x"}))
}

func TestParseUnset(t *testing.T) {
	assert.Equal(t, 1.5, ParseFloat("TEST_UNSET_FLOAT_KEY", 1.5))
	assert.Equal(t, int64(9), ParseInt64("TEST_UNSET_INT64_KEY", 9))
}
