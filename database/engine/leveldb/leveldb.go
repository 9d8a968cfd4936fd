// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package leveldb implements the storage engine on top of goleveldb.  It
// registers the "leveldb" driver and the "memory" driver, which keeps
// everything in memory.
package leveldb

import (
	"errors"
	"sync/atomic"

	"github.com/btcsuite/pkgrelay/database/engine"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	// DbType is the driver type of the on disk engine.
	DbType = "leveldb"

	// MemDbType is the driver type of the in memory engine.
	MemDbType = "memory"
)

func init() {
	drivers := []engine.Driver{{
		DbType: DbType,
		Create: func(path string) (engine.Engine, error) {
			return NewDB(path, true)
		},
		Open: func(path string) (engine.Engine, error) {
			return NewDB(path, false)
		},
	}, {
		DbType: MemDbType,
		Create: func(string) (engine.Engine, error) {
			return NewMemDB()
		},
		Open: func(string) (engine.Engine, error) {
			return NewMemDB()
		},
	}}
	for _, drv := range drivers {
		if err := engine.RegisterDriver(drv); err != nil {
			panic(err)
		}
	}
}

// options returns the options shared by both drivers.
func options(create bool) *opt.Options {
	return &opt.Options{
		ErrorIfExist: create,
		Strict:       opt.DefaultStrict,
		Compression:  opt.NoCompression,
		Filter:       filter.NewBloomFilter(10),
	}
}

// NewDB opens the database at dbPath.  When create is set the database must
// not exist yet.
func NewDB(dbPath string, create bool) (engine.Engine, error) {
	ldb, err := leveldb.OpenFile(dbPath, options(create))
	if err != nil {
		return nil, err
	}
	return &DB{db: ldb}, nil
}

// NewMemDB returns an empty database backed by memory.
func NewMemDB() (engine.Engine, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), options(false))
	if err != nil {
		return nil, err
	}
	return &DB{db: ldb}, nil
}

// DB is a goleveldb backed engine.
type DB struct {
	db     *leveldb.DB
	closed atomic.Bool
}

// Transaction starts a write batch.
func (d *DB) Transaction() (engine.Transaction, error) {
	if d.closed.Load() {
		return nil, engine.ErrClosed
	}
	return &transaction{db: d, batch: new(leveldb.Batch)}, nil
}

// Snapshot returns a consistent read view.
func (d *DB) Snapshot() (engine.Snapshot, error) {
	if d.closed.Load() {
		return nil, engine.ErrClosed
	}
	snap, err := d.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &snapshot{snap: snap}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return engine.ErrClosed
	}
	return d.db.Close()
}

// transaction buffers writes in a leveldb batch.
type transaction struct {
	db     *DB
	batch  *leveldb.Batch
	closed bool
}

func (t *transaction) Put(key, value []byte) error {
	if t.closed {
		return engine.ErrTxClosed
	}
	t.batch.Put(key, value)
	return nil
}

func (t *transaction) Delete(key []byte) error {
	if t.closed {
		return engine.ErrTxClosed
	}
	t.batch.Delete(key)
	return nil
}

func (t *transaction) Commit() error {
	if t.closed {
		return engine.ErrTxClosed
	}
	t.closed = true
	if t.db.closed.Load() {
		return engine.ErrClosed
	}
	return t.db.db.Write(t.batch, &opt.WriteOptions{Sync: true})
}

func (t *transaction) Discard() {
	t.closed = true
	t.batch.Reset()
}

// snapshot wraps a leveldb snapshot.
type snapshot struct {
	snap *leveldb.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	val, err := s.snap.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, engine.ErrNotFound
	case errors.Is(err, leveldb.ErrSnapshotReleased):
		return nil, engine.ErrReleased
	}
	return val, err
}

func (s *snapshot) Has(key []byte) (bool, error) {
	has, err := s.snap.Has(key, nil)
	if errors.Is(err, leveldb.ErrSnapshotReleased) {
		return false, engine.ErrReleased
	}
	return has, err
}

func (s *snapshot) NewIterator(r *engine.Range) engine.Iterator {
	return s.snap.NewIterator(&util.Range{Start: r.Start, Limit: r.Limit},
		nil)
}

func (s *snapshot) Release() {
	s.snap.Release()
}
