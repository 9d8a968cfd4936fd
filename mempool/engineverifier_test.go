// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// signedWitnessSpend returns a transaction spending a pay-to-witness-pubkey-hash
// output together with that output.
func signedWitnessSpend(t *testing.T) (*btcutil.Tx, *wire.TxOut) {
	t.Helper()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash,
		&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	prevOut := &wire.TxOut{Value: btcutil.SatoshiPerBitcoin, PkScript: pkScript}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    prevOut.Value - 1000,
		PkScript: pkScript,
	})

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	witness, err := txscript.WitnessSignature(tx, sigHashes, 0,
		prevOut.Value, pkScript, txscript.SigHashAll, privKey, true)
	require.NoError(t, err)
	tx.TxIn[0].Witness = witness

	return btcutil.NewTx(tx), prevOut
}

// TestEngineVerifier exercises the txscript backed verifier with a signed
// witness spend, a tampered copy and simple scripts.
func TestEngineVerifier(t *testing.T) {
	t.Parallel()

	verifier := NewEngineVerifier(txscript.StandardVerifyFlags,
		txscript.NewSigCache(10))
	require.Equal(t, txscript.StandardVerifyFlags, verifier.Flags())

	tx, prevOut := signedWitnessSpend(t)
	require.NoError(t, verifier.VerifyScripts(tx, []*wire.TxOut{prevOut}))

	// Changing an output invalidates the signature.
	tampered := tx.MsgTx().Copy()
	tampered.TxOut[0].Value--
	err := verifier.VerifyScripts(btcutil.NewTx(tampered),
		[]*wire.TxOut{prevOut})
	var failure *ScriptFailure
	require.ErrorAs(t, err, &failure)
	require.Zero(t, failure.InputIndex)
	require.NotEmpty(t, failure.Rule)

	// Spending a different amount also changes the signature hash.
	wrongAmount := &wire.TxOut{Value: prevOut.Value + 1,
		PkScript: prevOut.PkScript}
	require.ErrorAs(t, verifier.VerifyScripts(tx,
		[]*wire.TxOut{wrongAmount}), &failure)

	// A script leaving false on the stack trips ErrEvalFalse.
	simple := wire.NewMsgTx(wire.TxVersion)
	simple.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}},
	})
	simple.AddTxOut(&wire.TxOut{Value: 1000,
		PkScript: []byte{txscript.OP_TRUE}})
	require.NoError(t, verifier.VerifyScripts(btcutil.NewTx(simple),
		[]*wire.TxOut{{Value: 2000, PkScript: []byte{txscript.OP_TRUE}}}))

	err = verifier.VerifyScripts(btcutil.NewTx(simple),
		[]*wire.TxOut{{Value: 2000, PkScript: []byte{txscript.OP_FALSE}}})
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "ErrEvalFalse", failure.Rule)
}

// TestEngineVerifierFault ensures a caller error is not reported as a script
// failure.
func TestEngineVerifierFault(t *testing.T) {
	t.Parallel()

	verifier := NewEngineVerifier(txscript.StandardVerifyFlags, nil)
	tx, _ := signedWitnessSpend(t)

	err := verifier.VerifyScripts(tx, nil)
	require.Error(t, err)
	var failure *ScriptFailure
	require.False(t, errors.As(err, &failure))
}

// TestEngineVerifierInPool admits a signed transaction through a pool using
// the real script engine and rejects its tampered copy.
func TestEngineVerifierInPool(t *testing.T) {
	t.Parallel()

	tx, prevOut := signedWitnessSpend(t)
	chain := newFakeChain()
	chain.utxos[tx.MsgTx().TxIn[0].PreviousOutPoint] = prevOut

	verifier, err := NewCachingVerifier(NewEngineVerifier(
		txscript.StandardVerifyFlags, nil,
	), txscript.StandardVerifyFlags, 0)
	require.NoError(t, err)

	pool := New(&Config{
		Policy:         DefaultPolicyConfig(),
		ChainView:      chain,
		ScriptVerifier: verifier,
	})

	tampered := tx.MsgTx().Copy()
	tampered.TxOut[0].Value -= 1000
	v := pool.SubmitTransaction(btcutil.NewTx(tampered), nil)
	requireReason(t, v, RejectScriptVerificationFailed)

	var rerr TxRuleError
	require.ErrorAs(t, v.Err, &rerr)
	require.NotEmpty(t, rerr.Rule)

	requireAdmitted(t, []*Verdict{pool.SubmitTransaction(tx, nil)})
	require.True(t, pool.HaveTransaction(tx.Hash()))
}
