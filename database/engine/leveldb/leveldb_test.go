// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/pkgrelay/database/engine"
	"github.com/stretchr/testify/require"
)

func TestSuiteLevelDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		dbPath := filepath.Join(t.TempDir(), "leveldb-testsuite")

		leveldb, err := NewDB(dbPath, true)
		require.NoErrorf(t, err, "failed to create leveldb")
		return leveldb
	})
}

func TestSuiteMemDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		memdb, err := NewMemDB()
		require.NoErrorf(t, err, "failed to create memory db")
		return memdb
	})
}

// TestReopen ensures committed data survives closing the database and that
// create refuses an existing database.
func TestReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen")

	db, err := engine.Create(DbType, dbPath)
	require.NoError(t, err)
	tx, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	_, err = engine.Create(DbType, dbPath)
	require.Error(t, err)

	db, err = engine.Open(DbType, dbPath)
	require.NoError(t, err)
	defer db.Close()

	snap, err := db.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	val, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)

	require.Contains(t, engine.SupportedDrivers(), DbType)
	require.Contains(t, engine.SupportedDrivers(), MemDbType)
}
