// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pebbledb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/pkgrelay/database/engine"
	"github.com/stretchr/testify/require"
)

func TestSuitePebbleDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		dbPath := filepath.Join(t.TempDir(), "pebbledb-testsuite")

		pebbledb, err := NewDB(dbPath, true, 0, 0)
		require.NoErrorf(t, err, "failed to create pebbledb")
		return pebbledb
	})
}

// TestDriver ensures the pebble driver is registered and refuses to create
// over an existing database.
func TestDriver(t *testing.T) {
	require.Contains(t, engine.SupportedDrivers(), DbType)

	dbPath := filepath.Join(t.TempDir(), "driver")
	db, err := engine.Create(DbType, dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = engine.Create(DbType, dbPath)
	require.Error(t, err)

	db, err = engine.Open(DbType, dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = engine.Open("nosuchdriver", dbPath)
	require.Error(t, err)
}
