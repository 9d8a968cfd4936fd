// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

// Iterator walks the key/value pairs of a range in ascending key order.  A new
// iterator is positioned before the first pair.
type Iterator interface {
	// Next moves the iterator to the next key/value pair.  It returns
	// false when the iterator is exhausted.
	Next() bool

	// Key returns the key of the current pair, or nil if done.  The
	// contents may change on the next call to Next.
	Key() []byte

	// Value returns the value of the current pair, or nil if done.  The
	// contents may change on the next call to Next.
	Value() []byte

	// Error returns any accumulated error.  Exhausting all the pairs is
	// not an error.
	Error() error

	Releaser
}

// Range is a key range.
type Range struct {
	// Start of the key range, included in the range.
	Start []byte

	// Limit of the key range, not included in the range.  Nil means no
	// upper bound.
	Limit []byte
}

// BytesPrefix returns the key range of every key with the given prefix.
func BytesPrefix(prefix []byte) *Range {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return &Range{Start: prefix, Limit: limit}
}
