// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "nested", "q.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "ok.sqlite"), Config{})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, data TEXT)")
	require.NoError(t, err)

	for _, mode := range []string{"quick", "full"} {
		issues, err := VerifyIntegrity(ctx, db, mode)
		require.NoError(t, err)
		assert.Nil(t, issues, mode)
	}
}

func TestVerifyIntegrity_ClosedDB(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "closed.sqlite"), Config{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = VerifyIntegrity(ctx, db, "quick")
	assert.Error(t, err)
}
