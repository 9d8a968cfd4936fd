// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feefilter

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/pkgrelay/mempool"
)

const (
	// DefaultMaxFeeFilter is the fee filter in Satoshi/1000 vbytes
	// announced to peers while the node is still syncing.  It is high
	// enough that no peer relays transactions to us, while still fitting
	// the fee filter rounding buckets used across the network.
	DefaultMaxFeeFilter int64 = 9170997

	// hysteresisNum and hysteresisDen bound the band, relative to the last
	// announced value, within which a new threshold is not announced.  A
	// value is announced when it drops below 3/4 or rises above 4/3 of the
	// last announcement.
	hysteresisNum = 3
	hysteresisDen = 4
)

// PoolSummarizer provides the pool statistics the fee filter is computed
// from.  mempool.TxPool implements it.
type PoolSummarizer interface {
	Summary() mempool.PoolSummary
}

// PolicyFunc maps the current pool statistics to the fee filter in
// Satoshi/1000 vbytes that should be announced to peers.
type PolicyFunc func(summary mempool.PoolSummary) int64

// MinRelayPolicy announces the effective minimum relay fee rate of the pool.
func MinRelayPolicy(summary mempool.PoolSummary) int64 {
	return int64(summary.MinRelayFee)
}

// UsagePolicy returns a policy that announces the minimum relay fee rate
// until the pool uses maxUsage bytes and then the lowest fee rate in the pool
// plus incremental, so peers stop sending transactions that would only be
// evicted again.
func UsagePolicy(maxUsage uint64, incremental btcutil.Amount) PolicyFunc {
	return func(summary mempool.PoolSummary) int64 {
		floor := int64(summary.MinRelayFee)
		if maxUsage == 0 || summary.Usage < maxUsage {
			return floor
		}
		if full := summary.MinFeeRate + int64(incremental); full > floor {
			return full
		}
		return floor
	}
}

// outsideBand returns whether value differs enough from last to be announced.
func outsideBand(value, last int64) bool {
	return value < last*hysteresisNum/hysteresisDen ||
		value > last*hysteresisDen/hysteresisNum
}

// clampFilter bounds a computed threshold to [0, max].
func clampFilter(value, max int64) int64 {
	switch {
	case value < 0:
		return 0
	case value > max:
		return max
	}
	return value
}
