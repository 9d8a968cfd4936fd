// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestAdmissionChecks exercises every stage of the admission pipeline and
// checks the reason reported for the first failing stage.
func TestAdmissionChecks(t *testing.T) {
	t.Parallel()

	errVerifier := errors.New("verifier crashed")

	tests := []struct {
		name string

		// opts tweaks the harness.
		opts []harnessOption

		// scripts is the result of script verification, if it is
		// expected to run.
		scripts error

		// acceptOpts is passed to the admission call.
		acceptOpts *AcceptOptions

		// build returns the transaction to evaluate.
		build func(h *poolHarness, outs []spendableOutput) *btcutil.Tx

		admitted     bool
		reason       RejectReason
		rule         string
		cause        error
		scriptsRun   bool
		chainTouched bool
	}{
		{
			name: "valid transaction",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
			},
			admitted:     true,
			scriptsRun:   true,
			chainTouched: true,
		},
		{
			name: "no outputs",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxOut = nil
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectStructurallyInvalid,
		},
		{
			name: "duplicate inputs",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(
					[]spendableOutput{outs[0], outs[0]}, 1,
					1000, wire.MaxTxInSequenceNum,
				)
			},
			reason: RejectStructurallyInvalid,
		},
		{
			name: "standalone coinbase",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := wire.NewMsgTx(wire.TxVersion)
				tx.AddTxIn(&wire.TxIn{
					PreviousOutPoint: wire.OutPoint{
						Index: wire.MaxPrevOutIndex,
					},
					SignatureScript: []byte{0x01, 0x02},
					Sequence:        wire.MaxTxInSequenceNum,
				})
				tx.AddTxOut(&wire.TxOut{
					Value:    1000,
					PkScript: h.payScript,
				})
				return btcutil.NewTx(tx)
			},
			reason: RejectStructurallyInvalid,
		},
		{
			name: "output value out of range",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxOut[0].Value = btcutil.MaxSatoshi + 1
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectStructurallyInvalid,
		},
		{
			name: "weight over limit",
			opts: []harnessOption{withPolicy(func(p *PolicyConfig) {
				p.MaxTxWeight = 100
			})},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
			},
			reason: RejectResourceLimitExceeded,
		},
		{
			name: "signature script not push only",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxIn[0].SignatureScript = []byte{
					txscript.OP_1, txscript.OP_DROP,
				}
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "scriptsig-not-pushonly",
		},
		{
			name: "malformed signature script push",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				sigScript := &tx.MsgTx().TxIn[0].SignatureScript
				*sigScript = append(*sigScript, txscript.OP_DATA_1)
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "scriptsig-not-pushonly",
		},
		{
			name: "oversized signature script",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxIn[0].SignatureScript = make([]byte,
					maxStandardSigScriptSize+1)
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "scriptsig-size",
		},
		{
			name: "unsupported version",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().Version = 99
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "version",
		},
		{
			name: "version zero",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().Version = 0
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "version",
		},
		{
			name: "non-standard output script",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxOut[0].PkScript = []byte{
					txscript.OP_NOP, txscript.OP_NOP,
				}
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "scriptpubkey",
		},
		{
			name: "non-standard output accepted by policy",
			opts: []harnessOption{withPolicy(func(p *PolicyConfig) {
				p.AcceptNonStd = true
			})},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxOut[0].PkScript = []byte{
					txscript.OP_NOP, txscript.OP_NOP,
				}
				return btcutil.NewTx(tx.MsgTx())
			},
			admitted:     true,
			scriptsRun:   true,
			chainTouched: true,
		},
		{
			name: "dust output",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 2, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxOut[1].Value = 1
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "dust",
		},
		{
			name: "two data carrier outputs",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				for _, data := range []string{"first", "second"} {
					script, err := txscript.NullDataScript(
						[]byte(data))
					if err != nil {
						panic(err)
					}
					tx.MsgTx().AddTxOut(wire.NewTxOut(0, script))
				}
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectNonStandard,
			rule:   "multi-op-return",
		},
		{
			name: "one data carrier output",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				script, err := txscript.NullDataScript([]byte("only"))
				if err != nil {
					panic(err)
				}
				tx.MsgTx().AddTxOut(wire.NewTxOut(0, script))
				return btcutil.NewTx(tx.MsgTx())
			},
			admitted:     true,
			scriptsRun:   true,
			chainTouched: true,
		},
		{
			name: "spends non-standard output",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				funding := wire.NewMsgTx(wire.TxVersion)
				funding.AddTxIn(&wire.TxIn{
					PreviousOutPoint: wire.OutPoint{
						Hash: chainhash.Hash{0x02},
					},
				})
				funding.AddTxOut(wire.NewTxOut(
					btcutil.SatoshiPerBitcoin,
					[]byte{txscript.OP_TRUE},
				))
				fundingTx := btcutil.NewTx(funding)
				h.chain.connect(fundingTx)
				return h.createTx([]spendableOutput{
					txOutToSpendableOut(fundingTx, 0),
				}, 1, 1000, wire.MaxTxInSequenceNum)
			},
			reason:       RejectNonStandard,
			rule:         "bad-txns-nonstandard-inputs",
			chainTouched: true,
		},
		{
			name: "redeem script with too many sigops",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				redeemScript := bytes.Repeat(
					[]byte{txscript.OP_CHECKSIG},
					maxStandardP2SHSigOps+1,
				)
				payScript, err := txscript.NewScriptBuilder().
					AddOp(txscript.OP_HASH160).
					AddData(btcutil.Hash160(redeemScript)).
					AddOp(txscript.OP_EQUAL).
					Script()
				if err != nil {
					panic(err)
				}
				funding := wire.NewMsgTx(wire.TxVersion)
				funding.AddTxIn(&wire.TxIn{
					PreviousOutPoint: wire.OutPoint{
						Hash: chainhash.Hash{0x03},
					},
				})
				funding.AddTxOut(wire.NewTxOut(
					btcutil.SatoshiPerBitcoin, payScript,
				))
				fundingTx := btcutil.NewTx(funding)
				h.chain.connect(fundingTx)

				tx := h.createTx([]spendableOutput{
					txOutToSpendableOut(fundingTx, 0),
				}, 1, 1000, wire.MaxTxInSequenceNum)
				sigScript, err := txscript.NewScriptBuilder().
					AddData(redeemScript).
					Script()
				if err != nil {
					panic(err)
				}
				tx.MsgTx().TxIn[0].SignatureScript = sigScript
				return btcutil.NewTx(tx.MsgTx())
			},
			reason:       RejectNonStandard,
			rule:         "bad-txns-nonstandard-inputs",
			chainTouched: true,
		},
		{
			name: "estimated sigops over limit",
			opts: []harnessOption{withPolicy(func(p *PolicyConfig) {
				p.MaxSigOpCostPerTx = 4
				p.AcceptNonStd = true
			})},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				tx.MsgTx().TxOut[0].PkScript = []byte{
					txscript.OP_CHECKSIG, txscript.OP_CHECKSIG,
				}
				return btcutil.NewTx(tx.MsgTx())
			},
			reason: RejectResourceLimitExceeded,
		},
		{
			name: "missing inputs",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				unknown := spendableOutput{
					outPoint: wire.OutPoint{
						Hash: chainhash.Hash{0xaa},
					},
					amount: btcutil.SatoshiPerBitcoin,
				}
				return h.createTx(
					[]spendableOutput{unknown}, 1, 1000,
					wire.MaxTxInSequenceNum,
				)
			},
			reason:       RejectMissingInputs,
			chainTouched: true,
		},
		{
			name: "inputs below outputs",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, -1,
					wire.MaxTxInSequenceNum)
			},
			reason:       RejectStructurallyInvalid,
			chainTouched: true,
		},
		{
			name: "already in pool",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				h.passScripts()
				v := h.txPool.SubmitTransaction(tx, nil)
				if !v.Admitted {
					panic(v.Err)
				}
				return tx
			},
			reason:       RejectAlreadyKnown,
			chainTouched: true,
		},
		{
			name: "already confirmed",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				tx := h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
				h.chain.connect(tx)
				return tx
			},
			reason:       RejectAlreadyKnown,
			chainTouched: true,
		},
		{
			name: "too many unconfirmed ancestors",
			opts: []harnessOption{withPolicy(func(p *PolicyConfig) {
				p.MaxAncestorCount = 3
			})},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				txChain := h.createTxChain(outs[0], 4, 1000)
				h.passScripts()
				for _, v := range h.txPool.SubmitPackage(
					txChain[:3], nil) {

					if !v.Admitted {
						panic(v.Err)
					}
				}
				return txChain[3]
			},
			reason:       RejectResourceLimitExceeded,
			cause:        ErrExceededAncestorLimit,
			chainTouched: true,
		},
		{
			name: "too many unconfirmed descendants",
			opts: []harnessOption{withPolicy(func(p *PolicyConfig) {
				p.MaxDescendantCount = 3
			})},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				parent := h.createTx(outs[:1], 2, 1000,
					wire.MaxTxInSequenceNum)
				grandchildren := h.createTxChain(
					txOutToSpendableOut(parent, 0), 2, 1000)
				h.passScripts()
				pkg := append([]*btcutil.Tx{parent},
					grandchildren...)
				for _, v := range h.txPool.SubmitPackage(pkg, nil) {
					if !v.Admitted {
						panic(v.Err)
					}
				}

				// Only two ancestors, but the parent would end up
				// with four descendants counting itself.
				return h.createTx([]spendableOutput{
					txOutToSpendableOut(parent, 1),
				}, 1, 1000, wire.MaxTxInSequenceNum)
			},
			reason:       RejectResourceLimitExceeded,
			cause:        ErrExceededDescendantLimit,
			chainTouched: true,
		},
		{
			name: "fee below relay minimum",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, 0,
					wire.MaxTxInSequenceNum)
			},
			reason:       RejectFeeTooLow,
			chainTouched: true,
		},
		{
			name: "fee above absolute ceiling",
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, DefaultMaxFee+1,
					wire.MaxTxInSequenceNum)
			},
			reason:       RejectFeeTooHigh,
			chainTouched: true,
		},
		{
			name:       "fee above caller rate",
			acceptOpts: &AcceptOptions{MaxFeeRate: 10000},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, 100000,
					wire.MaxTxInSequenceNum)
			},
			reason:       RejectFeeTooHigh,
			chainTouched: true,
		},
		{
			name: "script failure",
			scripts: &ScriptFailure{
				Rule:    "ErrEvalFalse",
				Message: "false stack entry at end of script execution",
			},
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
			},
			reason:       RejectScriptVerificationFailed,
			scriptsRun:   true,
			chainTouched: true,
		},
		{
			name:    "script verifier fault",
			scripts: errVerifier,
			build: func(h *poolHarness, outs []spendableOutput) *btcutil.Tx {
				return h.createTx(outs[:1], 1, 1000,
					wire.MaxTxInSequenceNum)
			},
			reason:       RejectEvaluationFault,
			scriptsRun:   true,
			chainTouched: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			h, outputs := newPoolHarness(t, 2, test.opts...)
			tx := test.build(h, outputs)

			// Only count what the evaluation itself does.
			h.chain.calls.Store(0)
			h.scripts.Calls = nil
			h.scripts.ExpectedCalls = nil
			h.scripts.On("VerifyScripts", mock.Anything,
				mock.Anything).Return(test.scripts).Maybe()

			v := h.txPool.TestAcceptTransaction(tx, test.acceptOpts)
			require.Equal(t, *tx.Hash(), v.TxHash)

			if test.admitted {
				requireAdmitted(t, []*Verdict{v})
			} else {
				requireReason(t, v, test.reason)
			}
			if test.rule != "" {
				var rerr TxRuleError
				require.ErrorAs(t, v.Err, &rerr)
				require.Equal(t, test.rule, rerr.Rule)
				require.False(t, test.reason.PenalizesPeer())
			}
			if test.cause != nil {
				require.ErrorIs(t, v.Err, test.cause)
			}

			if test.scriptsRun {
				h.scripts.AssertCalled(t, "VerifyScripts",
					mock.Anything, mock.Anything)
			} else {
				h.scripts.AssertNotCalled(t, "VerifyScripts",
					mock.Anything, mock.Anything)
			}

			require.Equal(t, test.chainTouched,
				h.chain.calls.Load() > 0)
		})
	}
}

// TestScriptFailureCarriesRule ensures the tripped script rule is available
// to callers.
func TestScriptFailureCarriesRule(t *testing.T) {
	t.Parallel()

	h, outputs := newPoolHarness(t, 1)
	failure := &ScriptFailure{
		InputIndex: 0,
		Rule:       "ErrCleanStack",
		Message:    "stack contains 2 unexpected items",
	}
	h.scripts.On("VerifyScripts", mock.Anything, mock.Anything).
		Return(failure)

	tx := h.createTx(outputs, 1, 1000, wire.MaxTxInSequenceNum)
	v := h.txPool.SubmitTransaction(tx, nil)
	requireReason(t, v, RejectScriptVerificationFailed)

	var rerr TxRuleError
	require.ErrorAs(t, v.Err, &rerr)
	require.Equal(t, "ErrCleanStack", rerr.Rule)

	var gotFailure *ScriptFailure
	require.ErrorAs(t, v.Err, &gotFailure)
	require.Equal(t, failure, gotFailure)

	require.Zero(t, h.txPool.Count())
}

// TestCheapChecksFirst ensures a transaction failing several checks is
// rejected by the cheapest one and never reaches script verification.
func TestCheapChecksFirst(t *testing.T) {
	t.Parallel()

	h, outputs := newPoolHarness(t, 1)
	h.scripts.On("VerifyScripts", mock.Anything, mock.Anything).
		Return(&ScriptFailure{Rule: "ErrEvalFalse"}).Maybe()

	// Zero fee and a failing script: the fee floor wins.
	tx := h.createTx(outputs, 1, 0, wire.MaxTxInSequenceNum)
	requireReason(t, h.txPool.TestAcceptTransaction(tx, nil),
		RejectFeeTooLow)
	h.scripts.AssertNotCalled(t, "VerifyScripts", mock.Anything,
		mock.Anything)
}

// TestResolvedOutputsPassedToVerifier ensures the verifier receives the
// outputs spent by each input, including outputs of earlier package members.
func TestResolvedOutputsPassedToVerifier(t *testing.T) {
	t.Parallel()

	h, outputs := newPoolHarness(t, 1)
	txChain := h.createTxChain(outputs[0], 2, 1000)

	h.scripts.On("VerifyScripts", txChain[0],
		[]*wire.TxOut{{Value: btcutil.SatoshiPerBitcoin,
			PkScript: h.payScript}}).Return(nil).Once()
	h.scripts.On("VerifyScripts", txChain[1],
		[]*wire.TxOut{txChain[0].MsgTx().TxOut[0]}).Return(nil).Once()

	requireAdmitted(t, h.txPool.TestAcceptPackage(txChain, nil))
	h.scripts.AssertExpectations(t)
}
