// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine defines the ordered key/value storage used by the chain view
// store, together with a registry of backends.  The pebbledb and leveldb
// subpackages register themselves when imported.
package engine

import "errors"

// Errors returned by every backend.
var (
	// ErrNotFound is returned by Snapshot.Get for a missing key.
	ErrNotFound = errors.New("engine: key not found")

	// ErrClosed is returned when using an engine after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrTxClosed is returned when using a committed or discarded
	// transaction.
	ErrTxClosed = errors.New("engine: transaction already closed")

	// ErrReleased is returned when using a released snapshot or
	// iterator.
	ErrReleased = errors.New("engine: released")
)

// Engine is an ordered key/value store with atomic write batches and
// consistent read snapshots.
type Engine interface {
	// Transaction starts a write batch.  Nothing is visible to readers
	// until Commit.
	Transaction() (Transaction, error)

	// Snapshot returns a consistent read view of the committed state.
	Snapshot() (Snapshot, error)

	// Close releases the engine.  Calling Close twice returns ErrClosed.
	Close() error
}

// Transaction is an atomic write batch.
type Transaction interface {
	Put(key, value []byte) error
	Delete(key []byte) error

	// Commit applies the batch durably.
	Commit() error

	// Discard drops the batch.  It is safe to call more than once and
	// after Commit.
	Discard()
}

// Snapshot is a consistent read view.
type Snapshot interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)

	// NewIterator returns an iterator over the keys in r, in ascending
	// order.
	NewIterator(r *Range) Iterator

	Releaser
}

// Releaser is implemented by resources that must be released after use.
// Release is safe to call more than once.
type Releaser interface {
	Release()
}
