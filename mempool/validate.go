// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrExceededAncestorLimit is returned when a transaction would have
	// too many unconfirmed ancestors or too large an ancestry.
	ErrExceededAncestorLimit = errors.New("too-long-mempool-chain: " +
		"exceeds ancestor limit")

	// ErrExceededDescendantLimit is returned when a transaction would give
	// one of its ancestors too many unconfirmed descendants or too large
	// a set of them.
	ErrExceededDescendantLimit = errors.New("too-long-mempool-chain: " +
		"exceeds descendant limit")
)

// txEvaluation carries the state one transaction accumulates while it moves
// through the admission pipeline.
type txEvaluation struct {
	tx   *btcutil.Tx
	view *packageView
	opts *AcceptOptions

	// prevOuts holds the output spent by each input, in input order.  It
	// is populated by the input resolution stage.
	prevOuts []*wire.TxOut

	fee   btcutil.Amount
	vsize int64

	// conflicts holds the live pool entries spending the same outputs as
	// the transaction, evictions the full set the arbiter approved.
	conflicts map[chainhash.Hash]*TxDesc
	evictions map[chainhash.Hash]*TxDesc
}

// checkStage is one step of the admission pipeline.
type checkStage struct {
	name  string
	check func(v *AdmissionValidator, e *txEvaluation) error
}

// admissionPipeline lists the checks every transaction goes through, in
// order.  The first failure ends the evaluation.  Script verification is the
// most expensive check and must stay last.
var admissionPipeline = []checkStage{
	{"structure", (*AdmissionValidator).checkStructure},
	{"standard", (*AdmissionValidator).checkStandard},
	{"resources", (*AdmissionValidator).checkResources},
	{"inputs", (*AdmissionValidator).resolveInputs},
	{"standard inputs", (*AdmissionValidator).checkInputsStandard},
	{"known", (*AdmissionValidator).checkKnown},
	{"conflicts", (*AdmissionValidator).checkConflicts},
	{"chain limits", (*AdmissionValidator).checkChainLimits},
	{"fee floor", (*AdmissionValidator).checkFeeFloor},
	{"fee ceiling", (*AdmissionValidator).checkFeeCeiling},
	{"scripts", (*AdmissionValidator).checkScripts},
}

// admission is the outcome of a successful evaluation.
type admission struct {
	desc      *TxDesc
	evictions map[chainhash.Hash]*TxDesc
}

// AdmissionValidator runs the per-transaction admission checks against a pool
// snapshot and the provisional state of the package being evaluated.  It
// never mutates pool state.
type AdmissionValidator struct {
	policy  *PolicyConfig
	chain   ChainView
	scripts ScriptVerifier
	arbiter *ReplacementArbiter

	// minRelayFee is the effective minimum relay fee rate in sat/kvB.  It
	// may be raised above the configured policy at runtime.
	minRelayFee atomic.Int64

	// now is overridden in tests.
	now func() time.Time
}

// NewAdmissionValidator returns a validator enforcing policy, resolving
// confirmed inputs through chain and verifying scripts through scripts.
func NewAdmissionValidator(policy *PolicyConfig, chain ChainView,
	scripts ScriptVerifier) *AdmissionValidator {

	v := &AdmissionValidator{
		policy:  policy,
		chain:   chain,
		scripts: scripts,
		arbiter: NewReplacementArbiter(policy),
		now:     time.Now,
	}
	v.minRelayFee.Store(int64(policy.MinRelayTxFee))
	return v
}

// MinRelayFee returns the effective minimum relay fee rate.
func (v *AdmissionValidator) MinRelayFee() btcutil.Amount {
	return btcutil.Amount(v.minRelayFee.Load())
}

// SetMinRelayFee changes the effective minimum relay fee rate.  Rates below
// the configured policy floor are clamped to it.
func (v *AdmissionValidator) SetMinRelayFee(rate btcutil.Amount) {
	if rate < v.policy.MinRelayTxFee {
		rate = v.policy.MinRelayTxFee
	}
	v.minRelayFee.Store(int64(rate))
}

// validate runs the admission pipeline for tx against the package view.
func (v *AdmissionValidator) validate(tx *btcutil.Tx, view *packageView,
	opts *AcceptOptions) (*admission, error) {

	e := &txEvaluation{
		tx:    tx,
		view:  view,
		opts:  opts,
		vsize: GetTxVirtualSize(tx),
	}

	log.Tracef("Evaluating transaction %v: %v", tx.Hash(),
		newLogClosure(func() string {
			return spew.Sdump(tx.MsgTx())
		}))

	for _, stage := range admissionPipeline {
		if err := stage.check(v, e); err != nil {
			log.Debugf("Transaction %v failed %s check: %v",
				tx.Hash(), stage.name, err)
			return nil, err
		}
	}

	desc := &TxDesc{
		Tx:       tx,
		Added:    v.now(),
		Fee:      e.fee,
		VSize:    e.vsize,
		FeePerKB: FeeRatePerKvB(e.fee, e.vsize),
	}
	return &admission{desc: desc, evictions: e.evictions}, nil
}

// checkStructure performs the context free sanity checks.
func (v *AdmissionValidator) checkStructure(e *txEvaluation) error {
	return checkTransactionSanity(e.tx)
}

// checkStandard rejects transactions that are valid but non-standard.  It is
// skipped when the policy accepts non-standard transactions.
func (v *AdmissionValidator) checkStandard(e *txEvaluation) error {
	if v.policy.AcceptNonStd {
		return nil
	}
	return checkTransactionStandard(e.tx, v.policy.MinRelayTxFee,
		v.policy.MaxTxVersion)
}

// checkResources enforces the standard weight and the estimated signature
// operation cost ceilings.
func (v *AdmissionValidator) checkResources(e *txEvaluation) error {
	weight := blockchain.GetTransactionWeight(e.tx)
	if weight > v.policy.MaxTxWeight {
		str := fmt.Sprintf("weight of transaction %v is larger than "+
			"max allowed weight of %v", weight,
			v.policy.MaxTxWeight)
		return txRuleError(RejectResourceLimitExceeded, str)
	}

	sigOpCost := estimateSigOpCost(e.tx)
	if sigOpCost > v.policy.MaxSigOpCostPerTx {
		str := fmt.Sprintf("transaction %v sigop cost is too high: "+
			"%d > %d", e.tx.Hash(), sigOpCost,
			v.policy.MaxSigOpCostPerTx)
		return txRuleError(RejectResourceLimitExceeded, str)
	}

	return nil
}

// resolveInputs looks up the output spent by every input.  Outputs created
// by earlier package members and by live pool entries are found through the
// view, everything else must be in the confirmed UTXO set.  An output being
// spent by another pool entry is a conflict handled later, not a missing
// input.
func (v *AdmissionValidator) resolveInputs(e *txEvaluation) error {
	msgTx := e.tx.MsgTx()
	e.prevOuts = make([]*wire.TxOut, len(msgTx.TxIn))

	var missing []chainhash.Hash
	for i, txIn := range msgTx.TxIn {
		prevOut := txIn.PreviousOutPoint
		if txOut := e.view.fetchOutput(prevOut); txOut != nil {
			e.prevOuts[i] = txOut
			continue
		}

		txOut, err := v.chain.FetchOutput(prevOut)
		if err != nil {
			return faultError("chain view", err)
		}
		if txOut == nil {
			missing = append(missing, prevOut.Hash)
			continue
		}
		e.prevOuts[i] = txOut
	}

	if len(missing) > 0 {
		// A transaction whose inputs are gone because it already
		// confirmed is a duplicate rather than an orphan.
		known, err := v.outputsConfirmed(e.tx)
		if err != nil {
			return err
		}
		if known {
			str := fmt.Sprintf("transaction %v already exists in "+
				"the chain", e.tx.Hash())
			return txRuleError(RejectAlreadyKnown, str)
		}

		str := fmt.Sprintf("transaction %v spends %d missing %s, "+
			"first parent %v", e.tx.Hash(), len(missing),
			pickNoun(len(missing), "input", "inputs"), missing[0])
		return txRuleError(RejectMissingInputs, str)
	}

	sigOpCost := calcSigOpCost(e.tx, e.prevOuts)
	if sigOpCost > v.policy.MaxSigOpCostPerTx {
		str := fmt.Sprintf("transaction %v sigop cost is too high: "+
			"%d > %d", e.tx.Hash(), sigOpCost,
			v.policy.MaxSigOpCostPerTx)
		return txRuleError(RejectResourceLimitExceeded, str)
	}

	var totalIn int64
	for i, txOut := range e.prevOuts {
		if txOut.Value < 0 || txOut.Value > btcutil.MaxSatoshi {
			str := fmt.Sprintf("input %d of transaction %v spends "+
				"an output with invalid value %d", i,
				e.tx.Hash(), txOut.Value)
			return txRuleError(RejectStructurallyInvalid, str)
		}
		totalIn += txOut.Value
		if totalIn > btcutil.MaxSatoshi {
			str := fmt.Sprintf("total value of all inputs of "+
				"transaction %v exceeds max allowed value of %v",
				e.tx.Hash(), btcutil.MaxSatoshi)
			return txRuleError(RejectStructurallyInvalid, str)
		}
	}

	var totalOut int64
	for _, txOut := range msgTx.TxOut {
		totalOut += txOut.Value
	}
	if totalIn < totalOut {
		str := fmt.Sprintf("total value of all inputs for transaction "+
			"%v is %v which is less than the amount spent of %v",
			e.tx.Hash(), totalIn, totalOut)
		return txRuleError(RejectStructurallyInvalid, str)
	}
	e.fee = btcutil.Amount(totalIn - totalOut)

	return nil
}

// checkInputsStandard rejects transactions spending non-standard outputs.
func (v *AdmissionValidator) checkInputsStandard(e *txEvaluation) error {
	if v.policy.AcceptNonStd {
		return nil
	}
	return checkInputsStandard(e.tx, e.prevOuts)
}

// outputsConfirmed reports whether any output of tx is present in the
// confirmed UTXO set.
func (v *AdmissionValidator) outputsConfirmed(tx *btcutil.Tx) (bool, error) {
	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for i := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(i)
		txOut, err := v.chain.FetchOutput(prevOut)
		if err != nil {
			return false, faultError("chain view", err)
		}
		if txOut != nil {
			return true, nil
		}
	}
	return false, nil
}

// checkKnown rejects transactions already in the pool or already confirmed.
func (v *AdmissionValidator) checkKnown(e *txEvaluation) error {
	txHash := e.tx.Hash()
	if e.view.haveTransaction(*txHash) {
		str := fmt.Sprintf("already have transaction in mempool %v",
			txHash)
		return txRuleError(RejectAlreadyKnown, str)
	}

	known, err := v.outputsConfirmed(e.tx)
	if err != nil {
		return err
	}
	if known {
		str := fmt.Sprintf("transaction %v already exists in the chain",
			txHash)
		return txRuleError(RejectAlreadyKnown, str)
	}

	return nil
}

// checkConflicts hands transactions that double spend live pool entries to
// the replacement arbiter.
func (v *AdmissionValidator) checkConflicts(e *txEvaluation) error {
	for _, txIn := range e.tx.MsgTx().TxIn {
		spender := e.view.poolSpender(txIn.PreviousOutPoint)
		if spender == nil {
			continue
		}
		if e.conflicts == nil {
			e.conflicts = make(map[chainhash.Hash]*TxDesc)
		}
		e.conflicts[*spender.Tx.Hash()] = spender
	}
	if len(e.conflicts) == 0 {
		return nil
	}

	evictions, err := v.arbiter.Arbitrate(
		e.view, e.tx, e.fee, e.vsize, e.conflicts,
	)
	if err != nil {
		return err
	}

	// The arbiter only sees the pool, so make sure the replacement does
	// not pull the rug from under an earlier package member.
	for hash := range evictions {
		if !e.view.provisionalSpends(hash) {
			continue
		}
		str := fmt.Sprintf("replacement %v rejected: %v: %v",
			e.tx.Hash(), ErrEvictsPackageParent, hash)
		return wrapRuleError(RejectReplacementRejected,
			ErrEvictsPackageParent, str)
	}

	e.evictions = evictions
	return nil
}

// checkChainLimits bounds the unconfirmed ancestry of the transaction and
// the unconfirmed descendants each of its ancestors would end up with.  Both
// counts and sizes include the transaction at their root.  Pool entries the
// transaction replaces no longer count.
func (v *AdmissionValidator) checkChainLimits(e *txEvaluation) error {
	ancestors := e.view.unconfirmedAncestors(e.tx)
	if len(ancestors) == 0 {
		return nil
	}

	ancestorCount := len(ancestors) + 1
	if ancestorCount > v.policy.MaxAncestorCount {
		str := fmt.Sprintf("transaction %v: %v: %d ancestors (max %d)",
			e.tx.Hash(), ErrExceededAncestorLimit, ancestorCount,
			v.policy.MaxAncestorCount)
		return wrapRuleError(RejectResourceLimitExceeded,
			ErrExceededAncestorLimit, str)
	}

	ancestorSize := e.vsize
	for _, ancestor := range ancestors {
		ancestorSize += ancestor.VSize
	}
	if ancestorSize > v.policy.MaxAncestorSize {
		str := fmt.Sprintf("transaction %v: %v: %d vbytes (max %d)",
			e.tx.Hash(), ErrExceededAncestorLimit, ancestorSize,
			v.policy.MaxAncestorSize)
		return wrapRuleError(RejectResourceLimitExceeded,
			ErrExceededAncestorLimit, str)
	}

	for hash, ancestor := range ancestors {
		// The ancestor itself and the new transaction.
		count := 2
		size := ancestor.VSize + e.vsize
		for h, desc := range e.view.unconfirmedDescendants(hash) {
			if _, ok := e.evictions[h]; ok {
				continue
			}
			count++
			size += desc.VSize
		}

		if count > v.policy.MaxDescendantCount {
			str := fmt.Sprintf("transaction %v: %v: ancestor %v "+
				"would have %d descendants (max %d)", e.tx.Hash(),
				ErrExceededDescendantLimit, hash, count,
				v.policy.MaxDescendantCount)
			return wrapRuleError(RejectResourceLimitExceeded,
				ErrExceededDescendantLimit, str)
		}
		if size > v.policy.MaxDescendantSize {
			str := fmt.Sprintf("transaction %v: %v: ancestor %v "+
				"would have %d vbytes of descendants (max %d)",
				e.tx.Hash(), ErrExceededDescendantLimit, hash,
				size, v.policy.MaxDescendantSize)
			return wrapRuleError(RejectResourceLimitExceeded,
				ErrExceededDescendantLimit, str)
		}
	}

	return nil
}

// checkFeeFloor enforces the effective minimum relay fee rate.
func (v *AdmissionValidator) checkFeeFloor(e *txEvaluation) error {
	minFee := btcutil.Amount(calcMinRequiredTxRelayFee(
		e.vsize, v.MinRelayFee(),
	))
	if e.fee < minFee {
		str := fmt.Sprintf("transaction %v has %v fees which is under "+
			"the required amount of %v", e.tx.Hash(), e.fee, minFee)
		return txRuleError(RejectFeeTooLow, str)
	}
	return nil
}

// checkFeeCeiling guards against absurdly high fees, both the configured
// absolute ceiling and the optional per call maximum fee rate.
func (v *AdmissionValidator) checkFeeCeiling(e *txEvaluation) error {
	if v.policy.MaxFee > 0 && e.fee > v.policy.MaxFee {
		str := fmt.Sprintf("transaction %v has %v fees which exceeds "+
			"the maximum of %v", e.tx.Hash(), e.fee, v.policy.MaxFee)
		return txRuleError(RejectFeeTooHigh, str)
	}

	if e.opts != nil && e.opts.MaxFeeRate > 0 {
		maxFee := btcutil.Amount(calcMinRequiredTxRelayFee(
			e.vsize, e.opts.MaxFeeRate,
		))
		if e.fee > maxFee {
			str := fmt.Sprintf("transaction %v fee rate %d sat/kvB "+
				"exceeds the maximum of %d sat/kvB", e.tx.Hash(),
				FeeRatePerKvB(e.fee, e.vsize),
				int64(e.opts.MaxFeeRate))
			return txRuleError(RejectFeeTooHigh, str)
		}
	}

	return nil
}

// checkScripts verifies every input script.
func (v *AdmissionValidator) checkScripts(e *txEvaluation) error {
	err := v.scripts.VerifyScripts(e.tx, e.prevOuts)
	if err == nil {
		return nil
	}

	var failure *ScriptFailure
	if errors.As(err, &failure) {
		return scriptRuleError(failure)
	}
	return faultError("script verifier", err)
}
