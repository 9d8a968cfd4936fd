// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pebbledb implements the storage engine on top of pebble and
// registers it as the "pebble" driver.
package pebbledb

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/btcsuite/pkgrelay/database/engine"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// DbType is the driver type of the pebble engine.
const DbType = "pebble"

const (
	// DefaultCache is the block cache size in MiB.
	DefaultCache = 64

	// DefaultHandles is the number of open file handles.
	DefaultHandles = 16
)

func init() {
	driver := engine.Driver{
		DbType: DbType,
		Create: func(path string) (engine.Engine, error) {
			return NewDB(path, true, 0, 0)
		},
		Open: func(path string) (engine.Engine, error) {
			return NewDB(path, false, 0, 0)
		},
	}
	if err := engine.RegisterDriver(driver); err != nil {
		panic(err)
	}
}

// NewDB opens the pebble database at dbPath with cache MiB of block cache and
// the given number of file handles.  When create is set the database must not
// exist yet.
func NewDB(dbPath string, create bool, cache, handles int) (engine.Engine,
	error) {

	if cache <= 0 {
		cache = DefaultCache
	}
	if handles <= 0 {
		handles = DefaultHandles
	}

	levels := make([]pebble.LevelOptions, 7)
	targetSize := int64(2 * 1024 * 1024)
	for i := range levels {
		levels[i] = pebble.LevelOptions{
			TargetFileSize: targetSize,
			FilterPolicy:   bloom.FilterPolicy(10),
		}
		targetSize *= 2
	}

	blockCache := pebble.NewCache(int64(cache) * 1024 * 1024)
	defer blockCache.Unref()

	opts := &pebble.Options{
		Cache:                    blockCache,
		ErrorIfExists:            create,
		MaxOpenFiles:             handles,
		MaxConcurrentCompactions: runtime.NumCPU,
		Levels:                   levels,
	}
	opts.Experimental.ReadSamplingMultiplier = -1

	pdb, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, err
	}
	return &DB{db: pdb}, nil
}

// DB is a pebble backed engine.
type DB struct {
	db     *pebble.DB
	closed atomic.Bool
}

// Transaction starts a write batch.
func (d *DB) Transaction() (engine.Transaction, error) {
	if d.closed.Load() {
		return nil, engine.ErrClosed
	}
	return &transaction{db: d, batch: d.db.NewBatch()}, nil
}

// Snapshot returns a consistent read view.
func (d *DB) Snapshot() (engine.Snapshot, error) {
	if d.closed.Load() {
		return nil, engine.ErrClosed
	}
	return &snapshot{snap: d.db.NewSnapshot()}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return engine.ErrClosed
	}
	return d.db.Close()
}

// transaction wraps a pebble batch.
type transaction struct {
	db     *DB
	batch  *pebble.Batch
	closed bool
}

func (t *transaction) Put(key, value []byte) error {
	if t.closed {
		return engine.ErrTxClosed
	}
	return t.batch.Set(key, value, nil)
}

func (t *transaction) Delete(key []byte) error {
	if t.closed {
		return engine.ErrTxClosed
	}
	return t.batch.Delete(key, nil)
}

func (t *transaction) Commit() error {
	if t.closed {
		return engine.ErrTxClosed
	}
	t.closed = true
	defer t.batch.Close()

	if t.db.closed.Load() {
		return engine.ErrClosed
	}
	return t.batch.Commit(pebble.Sync)
}

func (t *transaction) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	t.batch.Close()
}

// snapshot wraps a pebble snapshot.
type snapshot struct {
	snap     *pebble.Snapshot
	released atomic.Bool
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.released.Load() {
		return nil, engine.ErrReleased
	}
	val, closer, err := s.snap.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// The returned slice is only valid until the closer is closed.
	ret := make([]byte, len(val))
	copy(ret, val)
	return ret, nil
}

func (s *snapshot) Has(key []byte) (bool, error) {
	if s.released.Load() {
		return false, engine.ErrReleased
	}
	_, closer, err := s.snap.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *snapshot) NewIterator(r *engine.Range) engine.Iterator {
	if s.released.Load() {
		return &iterator{err: engine.ErrReleased}
	}
	iter, err := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: r.Start,
		UpperBound: r.Limit,
	})
	if err != nil {
		return &iterator{err: err}
	}
	return &iterator{iter: iter}
}

func (s *snapshot) Release() {
	if s.released.Swap(true) {
		return
	}
	s.snap.Close()
}

// iterator adapts a pebble iterator, which is positioned by First, to the
// engine iterator which starts before the first pair.
type iterator struct {
	iter     *pebble.Iterator
	started  bool
	released bool
	err      error
}

func (i *iterator) Next() bool {
	if i.iter == nil || i.released {
		return false
	}
	if !i.started {
		i.started = true
		return i.iter.First()
	}
	return i.iter.Next()
}

func (i *iterator) Key() []byte {
	if i.iter == nil || i.released || !i.started || !i.iter.Valid() {
		return nil
	}
	return i.iter.Key()
}

func (i *iterator) Value() []byte {
	if i.iter == nil || i.released || !i.started || !i.iter.Valid() {
		return nil
	}
	return i.iter.Value()
}

func (i *iterator) Error() error {
	if i.err != nil {
		return i.err
	}
	if i.iter == nil {
		return nil
	}
	if i.released {
		return engine.ErrReleased
	}
	return i.iter.Error()
}

func (i *iterator) Release() {
	if i.iter == nil || i.released {
		return
	}
	i.released = true
	if err := i.iter.Close(); err != nil {
		i.err = err
	}
}
