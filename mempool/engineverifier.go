// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// EngineVerifier is a ScriptVerifier backed by the txscript engine.
type EngineVerifier struct {
	flags    txscript.ScriptFlags
	sigCache *txscript.SigCache
}

// Ensure EngineVerifier implements the ScriptVerifier interface.
var _ ScriptVerifier = (*EngineVerifier)(nil)

// NewEngineVerifier returns a verifier executing every input under flags.
// sigCache may be nil.
func NewEngineVerifier(flags txscript.ScriptFlags,
	sigCache *txscript.SigCache) *EngineVerifier {

	return &EngineVerifier{flags: flags, sigCache: sigCache}
}

// Flags returns the script verification flags in use.
func (v *EngineVerifier) Flags() txscript.ScriptFlags {
	return v.flags
}

// VerifyScripts executes the script pair of every input.
//
// This is part of the ScriptVerifier interface.
func (v *EngineVerifier) VerifyScripts(tx *btcutil.Tx,
	prevOuts []*wire.TxOut) error {

	msgTx := tx.MsgTx()
	if len(prevOuts) != len(msgTx.TxIn) {
		return fmt.Errorf("transaction %v has %d inputs but %d "+
			"previous outputs were supplied", tx.Hash(),
			len(msgTx.TxIn), len(prevOuts))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range msgTx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}
	sigHashes := txscript.NewTxSigHashes(msgTx, fetcher)

	for i := range msgTx.TxIn {
		prevOut := prevOuts[i]
		vm, err := txscript.NewEngine(
			prevOut.PkScript, msgTx, i, v.flags, v.sigCache,
			sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			return scriptFailure(i, err)
		}
		if err := vm.Execute(); err != nil {
			return scriptFailure(i, err)
		}
	}

	return nil
}

// scriptFailure converts a script engine error into a ScriptFailure.  Errors
// that do not come from script evaluation are returned as is and end up as
// evaluation faults.
func scriptFailure(inputIndex int, err error) error {
	var serr txscript.Error
	if !errors.As(err, &serr) {
		return err
	}
	return &ScriptFailure{
		InputIndex: inputIndex,
		Rule:       serr.ErrorCode.String(),
		Message:    serr.Description,
	}
}
