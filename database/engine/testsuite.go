// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// putAll commits kvs to e in a single transaction.
func putAll(t *testing.T, e Engine, kvs map[string]string) {
	t.Helper()

	tx, err := e.Transaction()
	require.NoErrorf(t, err, "failed to create transaction")
	for k, v := range kvs {
		err = tx.Put([]byte(k), []byte(v))
		require.NoErrorf(t, err, "failed to put data into transaction")
	}
	require.NoErrorf(t, tx.Commit(), "failed to commit transaction")
}

// TestSuiteEngine runs the behavior every backend must share.  newEngine must
// return an empty engine on every call.
func TestSuiteEngine(t *testing.T, newEngine func() Engine) {
	t.Run("TransactionSnapshot", func(t *testing.T) {
		e := newEngine()
		defer e.Close()

		tx, err := e.Transaction()
		require.NoErrorf(t, err, "failed to create transaction")

		key := []byte("key1")
		value := []byte("value1")
		require.NoError(t, tx.Put(key, value))

		// Uncommitted writes are invisible.
		snapshot, err := e.Snapshot()
		require.NoErrorf(t, err, "failed to create snapshot")

		has, err := snapshot.Has(key)
		require.NoError(t, err)
		require.False(t, has)

		gotValue, err := snapshot.Get(key)
		require.ErrorIs(t, err, ErrNotFound)
		require.Nil(t, gotValue)

		require.NoError(t, tx.Commit())

		// The snapshot taken before the commit does not change.
		has, err = snapshot.Has(key)
		require.NoError(t, err)
		require.False(t, has)
		snapshot.Release()

		snapshot, err = e.Snapshot()
		require.NoErrorf(t, err, "failed to create snapshot")
		defer snapshot.Release()

		gotValue, err = snapshot.Get(key)
		require.NoError(t, err)
		require.Equal(t, value, gotValue)

		// Returned values are owned by the caller.
		gotValue[0] = 'X'
		gotValue, err = snapshot.Get(key)
		require.NoError(t, err)
		require.Equal(t, value, gotValue)
	})

	t.Run("Delete", func(t *testing.T) {
		e := newEngine()
		defer e.Close()

		putAll(t, e, map[string]string{"a": "1", "b": "2"})

		tx, err := e.Transaction()
		require.NoError(t, err)
		require.NoError(t, tx.Delete([]byte("a")))
		require.NoError(t, tx.Delete([]byte("missing")))
		require.NoError(t, tx.Put([]byte("c"), []byte("3")))
		require.NoError(t, tx.Commit())

		snapshot, err := e.Snapshot()
		require.NoError(t, err)
		defer snapshot.Release()

		_, err = snapshot.Get([]byte("a"))
		require.ErrorIs(t, err, ErrNotFound)
		for _, key := range []string{"b", "c"} {
			has, err := snapshot.Has([]byte(key))
			require.NoError(t, err)
			require.Truef(t, has, "missing key %s", key)
		}
	})

	t.Run("TransactionIterator", func(t *testing.T) {
		threeKeys := map[string]string{
			"key1": "value1", "key2": "value2", "key3": "value3",
		}
		for _, test := range []struct {
			name      string
			kvs       map[string]string
			ranges    *Range
			expectkvs [][2]string
		}{{
			name:      "before first",
			kvs:       threeKeys,
			ranges:    &Range{Start: []byte("key0"), Limit: []byte("key1")},
			expectkvs: nil,
		}, {
			name:      "limit excluded",
			kvs:       threeKeys,
			ranges:    &Range{Start: []byte("key0"), Limit: []byte("key2")},
			expectkvs: [][2]string{{"key1", "value1"}},
		}, {
			name:   "start included",
			kvs:    threeKeys,
			ranges: &Range{Start: []byte("key1"), Limit: []byte("key3")},
			expectkvs: [][2]string{
				{"key1", "value1"}, {"key2", "value2"},
			},
		}, {
			name:   "between keys",
			kvs:    threeKeys,
			ranges: &Range{Start: []byte("key10"), Limit: []byte("key30")},
			expectkvs: [][2]string{
				{"key2", "value2"}, {"key3", "value3"},
			},
		}, {
			name:      "empty range",
			kvs:       threeKeys,
			ranges:    &Range{Start: []byte("key2"), Limit: []byte("key2")},
			expectkvs: nil,
		}, {
			name:   "unbounded limit",
			kvs:    threeKeys,
			ranges: &Range{Start: []byte("key2")},
			expectkvs: [][2]string{
				{"key2", "value2"}, {"key3", "value3"},
			},
		}, {
			name: "prefix",
			kvs: map[string]string{
				"key10": "value10", "key11": "value11",
				"key20": "value20", "key21": "value21",
			},
			ranges: BytesPrefix([]byte("key1")),
			expectkvs: [][2]string{
				{"key10", "value10"}, {"key11", "value11"},
			},
		}, {
			name: "prefix ending in 0xff",
			kvs: map[string]string{
				"a\xff1": "x", "a\xff2": "y", "b": "z",
			},
			ranges: BytesPrefix([]byte("a\xff")),
			expectkvs: [][2]string{
				{"a\xff1", "x"}, {"a\xff2", "y"},
			},
		}} {
			t.Run(test.name, func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				putAll(t, e, test.kvs)

				snapshot, err := e.Snapshot()
				require.NoErrorf(t, err, "failed to create snapshot")
				defer snapshot.Release()

				iter := snapshot.NewIterator(test.ranges)
				defer iter.Release()

				var got [][2]string
				for iter.Next() {
					got = append(got, [2]string{
						string(iter.Key()), string(iter.Value()),
					})
				}
				require.NoError(t, iter.Error())
				require.Equal(t, test.expectkvs, got)
			})
		}
	})

	t.Run("DbClose", func(t *testing.T) {
		e := newEngine()

		transaction, err := e.Transaction()
		require.NoErrorf(t, err, "failed to create transaction")

		transaction.Discard()
		transaction.Discard()
		err = transaction.Commit()
		require.ErrorIs(t, err, ErrTxClosed)
		require.ErrorIs(t, transaction.Put([]byte("k"), nil), ErrTxClosed)

		snapshot, err := e.Snapshot()
		require.NoErrorf(t, err, "failed to create snapshot")

		iterator := snapshot.NewIterator(&Range{})
		require.NoErrorf(t, iterator.Error(), "failed to create iterator")
		iterator.Release()
		iterator.Release()

		snapshot.Release()
		snapshot.Release()
		_, err = snapshot.Get([]byte("key"))
		require.ErrorIs(t, err, ErrReleased)

		require.NoError(t, e.Close())
		require.ErrorIs(t, e.Close(), ErrClosed)

		_, err = e.Transaction()
		require.ErrorIs(t, err, ErrClosed)

		_, err = e.Snapshot()
		require.ErrorIs(t, err, ErrClosed)
	})
}
