// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestCalcMinRequiredTxRelayFee tests the calcMinRequiredTxRelayFee API.
func TestCalcMinRequiredTxRelayFee(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string         // test description.
		size     int64          // Transaction size in bytes.
		relayFee btcutil.Amount // minimum relay transaction fee.
		want     int64          // Expected fee.
	}{
		{
			// Ensure combination of size and fee that are less than
			// 1000 produce a non-zero fee.
			"250 bytes with relay fee of 3",
			250,
			3,
			3,
		},
		{
			"100 bytes with default minimum relay fee",
			100,
			DefaultMinRelayTxFee,
			100,
		},
		{
			"max standard tx size with default minimum relay fee",
			MaxStandardTxWeight / 4,
			DefaultMinRelayTxFee,
			100000,
		},
		{
			"max standard tx size with max satoshi relay fee",
			MaxStandardTxWeight / 4,
			btcutil.MaxSatoshi,
			btcutil.MaxSatoshi,
		},
		{
			"1500 bytes with 5000 relay fee",
			1500,
			5000,
			7500,
		},
		{
			"782 bytes with 2550 relay fee",
			782,
			2550,
			1994,
		},
		{
			"zero relay fee",
			782,
			0,
			0,
		},
	}

	for _, test := range tests {
		got := calcMinRequiredTxRelayFee(test.size, test.relayFee)
		if got != test.want {
			t.Errorf("TestCalcMinRequiredTxRelayFee test '%s' "+
				"failed: got %v want %v", test.name, got,
				test.want)
			continue
		}
		require.Equal(t, btcutil.Amount(test.want),
			MinRequiredFee(test.size, test.relayFee), test.name)
	}
}

// TestFeeRatePerKvB tests the fee rate helper.
func TestFeeRatePerKvB(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(1000), FeeRatePerKvB(250, 250))
	require.Equal(t, int64(3333), FeeRatePerKvB(1000, 300))
	require.Zero(t, FeeRatePerKvB(1000, 0))
}

// TestCalcSigOpCost ensures the precise signature operation cost accounts for
// legacy, pay-to-script-hash and witness inputs.
func TestCalcSigOpCost(t *testing.T) {
	t.Parallel()

	pubKey := bytes.Repeat([]byte{0x02}, 33)
	redeem, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_2).
		AddData(pubKey).AddData(pubKey).AddData(pubKey).
		AddOp(txscript.OP_3).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
	require.NoError(t, err)

	p2shAddr, err := btcutil.NewAddressScriptHash(redeem,
		&chaincfg.MainNetParams)
	require.NoError(t, err)
	p2sh, err := txscript.PayToAddrScript(p2shAddr)
	require.NoError(t, err)
	redeemPush, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).
		AddData(redeem).Script()
	require.NoError(t, err)

	p2wpkh := append([]byte{txscript.OP_0, txscript.OP_DATA_20},
		bytes.Repeat([]byte{0x01}, 20)...)
	p2pkh := append(append([]byte{txscript.OP_DUP, txscript.OP_HASH160,
		txscript.OP_DATA_20}, bytes.Repeat([]byte{0x01}, 20)...),
		txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG)

	tests := []struct {
		name      string
		sigScript []byte
		witness   wire.TxWitness
		pkScript  []byte
		estimate  int
		want      int
	}{{
		name:     "anyone can spend",
		pkScript: []byte{txscript.OP_TRUE},
	}, {
		name:     "pay to pubkey hash",
		pkScript: p2pkh,
		want:     4,
	}, {
		name:      "pay to script hash multisig",
		sigScript: redeemPush,
		pkScript:  p2sh,
		want:      12,
	}, {
		name:     "pay to witness pubkey hash",
		witness:  wire.TxWitness{{0x30}, pubKey},
		pkScript: p2wpkh,
		want:     1,
	}}

	for _, test := range tests {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
			SignatureScript:  test.sigScript,
			Witness:          test.witness,
			Sequence:         wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{txscript.OP_TRUE}})

		utx := btcutil.NewTx(tx)
		prevOuts := []*wire.TxOut{{Value: 2000, PkScript: test.pkScript}}

		require.Zero(t, estimateSigOpCost(utx), test.name)
		require.Equal(t, test.want, calcSigOpCost(utx, prevOuts), test.name)
	}

	// Output scripts count towards the estimate.
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(&wire.TxOut{PkScript: p2pkh})
	require.Equal(t, 4, estimateSigOpCost(btcutil.NewTx(tx)))
}

// TestSignalsReplacement tests the explicit replacement signaling rule.
func TestSignalsReplacement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sequences []uint32
		want      bool
	}{
		{"final", []uint32{wire.MaxTxInSequenceNum}, false},
		{"one below final", []uint32{wire.MaxTxInSequenceNum - 1}, false},
		{"max rbf sequence", []uint32{MaxRBFSequence}, true},
		{"zero", []uint32{0}, true},
		{
			"one signaling input",
			[]uint32{wire.MaxTxInSequenceNum, MaxRBFSequence},
			true,
		},
	}

	for _, test := range tests {
		tx := wire.NewMsgTx(wire.TxVersion)
		for _, seq := range test.sequences {
			tx.AddTxIn(&wire.TxIn{Sequence: seq})
		}
		require.Equal(t, test.want, signalsReplacement(tx, MaxRBFSequence),
			test.name)
	}
}

// TestCheckTransactionSanity ensures context free failures are reported as
// structurally invalid.
func TestCheckTransactionSanity(t *testing.T) {
	t.Parallel()

	valid := wire.NewMsgTx(wire.TxVersion)
	valid.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
	})
	valid.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{txscript.OP_TRUE}})
	require.NoError(t, checkTransactionSanity(btcutil.NewTx(valid)))

	noInputs := valid.Copy()
	noInputs.TxIn = nil
	err := checkTransactionSanity(btcutil.NewTx(noInputs))
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, RejectStructurallyInvalid, reason)
}
