// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Verdict is the admission outcome of a single transaction.
type Verdict struct {
	// TxHash is the txid of the evaluated transaction.
	TxHash chainhash.Hash

	// WitnessHash is the wtxid of the evaluated transaction.
	WitnessHash chainhash.Hash

	// Admitted is set when the transaction was (or, in a dry run, would
	// have been) accepted.
	Admitted bool

	// VSize and Fee are only set for admitted transactions.
	VSize int64
	Fee   btcutil.Amount

	// Replaced lists the txids of the pool entries the transaction evicts,
	// sorted.
	Replaced []chainhash.Hash

	// Err explains the rejection.  It is a RuleError for every policy
	// outcome, nil when Admitted is set.
	Err error
}

// Reason returns the reject reason of a rejected verdict.
func (v *Verdict) Reason() (RejectReason, bool) {
	if v.Admitted || v.Err == nil {
		return 0, false
	}
	return ReasonOf(v.Err)
}

// Known returns whether the transaction was rejected only because it is
// already in the pool or the chain.
func (v *Verdict) Known() bool {
	reason, ok := v.Reason()
	return ok && reason == RejectAlreadyKnown
}

// String returns a one line summary of the verdict.
func (v *Verdict) String() string {
	if v.Admitted {
		return fmt.Sprintf("%v admitted (vsize %d, fee %v, %d replaced)",
			v.TxHash, v.VSize, v.Fee, len(v.Replaced))
	}
	return fmt.Sprintf("%v rejected: %v", v.TxHash, v.Err)
}

// resultAggregator folds individual outcomes into the ordered verdict list of
// a package.  Outcomes may be recorded in any order; the result always lines
// up with the submitted package.
type resultAggregator struct {
	verdicts []*Verdict
}

// newResultAggregator prepares one verdict per package member.
func newResultAggregator(pkg []*btcutil.Tx) *resultAggregator {
	verdicts := make([]*Verdict, len(pkg))
	for i, tx := range pkg {
		verdicts[i] = &Verdict{
			TxHash:      *tx.Hash(),
			WitnessHash: *tx.WitnessHash(),
		}
	}
	return &resultAggregator{verdicts: verdicts}
}

// admit records the admission of package member i.
func (r *resultAggregator) admit(i int, a *admission) {
	v := r.verdicts[i]
	v.Admitted = true
	v.VSize = a.desc.VSize
	v.Fee = a.desc.Fee
	v.Err = nil
	if len(a.evictions) > 0 {
		v.Replaced = make([]chainhash.Hash, 0, len(a.evictions))
		for hash := range a.evictions {
			v.Replaced = append(v.Replaced, hash)
		}
		sort.Slice(v.Replaced, func(a, b int) bool {
			return bytes.Compare(v.Replaced[a][:],
				v.Replaced[b][:]) < 0
		})
	}
}

// reject records the rejection of package member i.
func (r *resultAggregator) reject(i int, err error) {
	v := r.verdicts[i]
	v.Admitted = false
	v.VSize = 0
	v.Fee = 0
	v.Replaced = nil
	v.Err = err
}

// rejectAll records errs, which must have one entry per member.
func (r *resultAggregator) rejectAll(errs []error) {
	for i, err := range errs {
		r.reject(i, err)
	}
}

// finish returns the verdicts in package order.  Members that never got an
// outcome are reported as evaluation faults so the list is always complete.
func (r *resultAggregator) finish() []*Verdict {
	for _, v := range r.verdicts {
		if !v.Admitted && v.Err == nil {
			v.Err = txRuleError(RejectEvaluationFault,
				fmt.Sprintf("transaction %v was not evaluated",
					v.TxHash))
		}
	}
	return r.verdicts
}
