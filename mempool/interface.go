// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainView provides read-only access to the confirmed UTXO set.  It never
// reflects pool state.  Implementations must be synchronous and bounded in
// latency from the caller's perspective; any I/O they perform is their own
// concern.
type ChainView interface {
	// FetchOutput returns the unspent confirmed output referenced by the
	// outpoint.  It returns nil with a nil error when the output does
	// not exist or is already spent.  A non-nil error indicates the view
	// could not answer and is reported as an evaluation fault.
	FetchOutput(op wire.OutPoint) (*wire.TxOut, error)
}

// ScriptVerifier checks the unlocking scripts and witnesses of a transaction
// against the outputs they spend.  It is a pure function of the transaction
// and the resolved prior outputs.
type ScriptVerifier interface {
	// VerifyScripts validates every input of tx.  prevOuts holds the
	// output spent by each input, in input order.  A rule failure must be
	// reported as a *ScriptFailure; any other error is treated as an
	// internal fault of the verifier.
	VerifyScripts(tx *btcutil.Tx, prevOuts []*wire.TxOut) error
}

// ScriptFailure describes which script rule rejected a transaction.
type ScriptFailure struct {
	// InputIndex is the index of the input that failed.
	InputIndex int

	// Rule is a short identifier of the tripped rule, for example
	// "ErrEvalFalse" or "ErrCleanStack".
	Rule string

	// Message is a human readable description of the failure.
	Message string
}

// Error satisfies the error interface.
func (f *ScriptFailure) Error() string {
	return fmt.Sprintf("input %d: %s: %s", f.InputIndex, f.Rule, f.Message)
}

// TxSource is the read-only view of the pool that other subsystems (the RPC
// server, the fee-filter policy) rely on.  All methods are served from the
// last committed snapshot and never block on an in-progress admission.
type TxSource interface {
	// HaveTransaction returns whether the pool holds a transaction with
	// the given txid.
	HaveTransaction(hash *chainhash.Hash) bool

	// FetchTransaction returns the pool transaction with the given txid.
	FetchTransaction(hash *chainhash.Hash) (*btcutil.Tx, error)

	// Count returns the number of transactions in the pool.
	Count() int

	// Summary returns aggregate statistics about the pool.
	Summary() PoolSummary
}
