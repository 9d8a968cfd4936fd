// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Replacement policy violations.  They are always delivered wrapped in a
// RuleError with RejectReplacementRejected, so callers can branch on either
// the reason or the specific rule with errors.Is.
var (
	// ErrReplacementDisabled indicates the pool is configured to reject
	// every conflicting transaction.
	ErrReplacementDisabled = errors.New("replacement disabled by policy")

	// ErrNotReplaceable indicates a conflicting pool entry did not signal
	// replaceability, explicitly or through an in-pool ancestor.
	ErrNotReplaceable = errors.New("conflicting transaction not replaceable")

	// ErrTooManyEvictions indicates a replacement transaction would evict
	// too many transactions from the pool.
	ErrTooManyEvictions = errors.New("replacement evicts too many transactions")

	// ErrReplacementSpendsParent indicates a replacement transaction
	// attempts to spend an output from a transaction it's replacing.
	ErrReplacementSpendsParent = errors.New("replacement spends parent transaction")

	// ErrInsufficientFeeRate indicates a replacement transaction has a
	// lower fee rate than a transaction it's replacing.
	ErrInsufficientFeeRate = errors.New("insufficient fee rate for replacement")

	// ErrInsufficientAbsoluteFee indicates a replacement transaction does
	// not pay for the evicted transactions plus the relay increment.
	ErrInsufficientAbsoluteFee = errors.New("insufficient absolute fee for replacement")

	// ErrNewUnconfirmedInput indicates a replacement transaction introduces
	// new unconfirmed inputs not present in the conflicts.
	ErrNewUnconfirmedInput = errors.New("replacement has new unconfirmed input")

	// ErrEvictsPackageParent indicates a replacement would evict a pool
	// entry that an earlier member of the same package depends on.
	ErrEvictsPackageParent = errors.New("replacement evicts parent of package member")
)

// ReplacementGraph is the minimal view of the pool the arbiter needs.  Only
// live pool entries are visible through it; package members that have not
// been committed are not.
type ReplacementGraph interface {
	// Entry returns the pool entry with the given txid.
	Entry(hash chainhash.Hash) (*TxDesc, bool)

	// Descendants returns every pool entry that directly or indirectly
	// spends an output of the entry with the given txid.
	Descendants(hash chainhash.Hash) map[chainhash.Hash]*TxDesc
}

// ReplacementArbiter decides whether a transaction that spends outputs
// already spent by pool entries may replace them.
type ReplacementArbiter struct {
	cfg *PolicyConfig
}

// NewReplacementArbiter returns an arbiter enforcing the given policy.
func NewReplacementArbiter(cfg *PolicyConfig) *ReplacementArbiter {
	return &ReplacementArbiter{cfg: cfg}
}

// signalsReplacement determines if a pool entry is signaling that it can be
// replaced, either explicitly through one of its input sequence numbers or by
// inheritance from an unconfirmed ancestor that signals.
func (a *ReplacementArbiter) signalsReplacement(graph ReplacementGraph,
	desc *TxDesc, cache map[chainhash.Hash]bool) bool {

	hash := *desc.Tx.Hash()
	if signals, ok := cache[hash]; ok {
		return signals
	}

	// Mark the entry before descending so a malformed graph cannot
	// recurse forever.
	cache[hash] = false

	msgTx := desc.Tx.MsgTx()
	if signalsReplacement(msgTx, a.cfg.MaxRBFSequence) {
		cache[hash] = true
		return true
	}

	for _, txIn := range msgTx.TxIn {
		parent, ok := graph.Entry(txIn.PreviousOutPoint.Hash)
		if !ok {
			continue
		}
		if a.signalsReplacement(graph, parent, cache) {
			cache[hash] = true
			return true
		}
	}

	return false
}

// Arbitrate determines whether tx, paying fee for vsize virtual bytes, is a
// valid replacement for the pool entries it directly conflicts with.  On
// success it returns the full set of pool entries that would be evicted,
// which includes the descendants of the direct conflicts.
//
// The rules enforced are:
//
//  1. Replacement is enabled and every direct conflict signals it.
//  2. The replacement evicts at most MaxReplacementEvictions transactions.
//  3. The replacement doesn't spend any outputs of the evicted transactions.
//  4. The replacement's fee rate is not lower than that of any evicted
//     transaction.
//  5. The replacement pays at least the sum of the evicted fees plus the
//     incremental relay fee for its own size.
//  6. The replacement doesn't introduce new unconfirmed inputs beyond those
//     already spent by the direct conflicts.
func (a *ReplacementArbiter) Arbitrate(graph ReplacementGraph, tx *btcutil.Tx,
	fee btcutil.Amount, vsize int64,
	conflicts map[chainhash.Hash]*TxDesc) (map[chainhash.Hash]*TxDesc, error) {

	txHash := tx.Hash()

	reject := func(rule error, format string, args ...interface{}) error {
		desc := fmt.Sprintf("replacement %v rejected: %v: %s", txHash,
			rule, fmt.Sprintf(format, args...))
		return wrapRuleError(RejectReplacementRejected, rule, desc)
	}

	if a.cfg.RejectReplacement {
		return nil, reject(ErrReplacementDisabled, "%d conflicts",
			len(conflicts))
	}

	// Rule 1: every direct conflict must be replaceable.
	cache := make(map[chainhash.Hash]bool)
	for hash, conflict := range conflicts {
		if !a.signalsReplacement(graph, conflict, cache) {
			return nil, reject(ErrNotReplaceable, "%v", hash)
		}
	}

	// Collect the evictions: the conflicts themselves and everything that
	// descends from them.
	evictions := make(map[chainhash.Hash]*TxDesc, len(conflicts))
	for hash, conflict := range conflicts {
		evictions[hash] = conflict
		for h, desc := range graph.Descendants(hash) {
			evictions[h] = desc
		}
	}

	// Rule 2: bound the amount of work a single replacement can cause.
	if len(evictions) > a.cfg.MaxReplacementEvictions {
		return nil, reject(ErrTooManyEvictions, "%d evictions (max %d)",
			len(evictions), a.cfg.MaxReplacementEvictions)
	}

	// Rule 3: the replacement must not depend on what it replaces.
	for _, txIn := range tx.MsgTx().TxIn {
		parentHash := txIn.PreviousOutPoint.Hash
		if _, ok := evictions[parentHash]; ok {
			return nil, reject(ErrReplacementSpendsParent, "%v",
				parentHash)
		}
	}

	// Rule 4: the replacement's fee rate must not be lower than the fee
	// rate of any evicted transaction.  Compare cross-multiplied to avoid
	// rounding.
	var evictedFees btcutil.Amount
	for hash, evicted := range evictions {
		evictedFees += evicted.Fee
		if int64(fee)*evicted.VSize < int64(evicted.Fee)*vsize {
			return nil, reject(ErrInsufficientFeeRate,
				"%d sat/kvB < %v rate %d sat/kvB",
				FeeRatePerKvB(fee, vsize), hash, evicted.FeePerKB)
		}
	}

	// Rule 5: the replacement must pay for everything it evicts plus its
	// own relay bandwidth.
	increment := btcutil.Amount(calcMinRequiredTxRelayFee(
		vsize, a.cfg.IncrementalRelayFee,
	))
	if fee < evictedFees+increment {
		return nil, reject(ErrInsufficientAbsoluteFee,
			"fee %d < evicted fees %d + increment %d", fee,
			evictedFees, increment)
	}

	// Rule 6: no new unconfirmed inputs.
	conflictParents := make(map[chainhash.Hash]struct{})
	for _, conflict := range conflicts {
		for _, txIn := range conflict.Tx.MsgTx().TxIn {
			conflictParents[txIn.PreviousOutPoint.Hash] = struct{}{}
		}
	}
	for _, txIn := range tx.MsgTx().TxIn {
		parentHash := txIn.PreviousOutPoint.Hash
		if _, ok := conflictParents[parentHash]; ok {
			continue
		}
		if _, ok := graph.Entry(parentHash); ok {
			return nil, reject(ErrNewUnconfirmedInput, "%v",
				parentHash)
		}
	}

	log.Debugf("Transaction %v replaces %d %s (fee %v over %v)", txHash,
		len(evictions), pickNoun(len(evictions), "entry", "entries"),
		fee, evictedFees)

	return evictions, nil
}
