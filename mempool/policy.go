// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// MaxStandardTxWeight is the max weight permitted by any transaction
	// according to the current default policy.
	MaxStandardTxWeight = 400000

	// DefaultMaxSigOpCostPerTx is the cumulative maximum cost of all
	// signature operations in a single transaction that will be relayed.
	// Since the coinbase of a block can contain signature operations of
	// its own, this is a fifth of the block limit.
	DefaultMaxSigOpCostPerTx = blockchain.MaxBlockSigOpsCost / 5

	// DefaultMinRelayTxFee is the minimum fee in satoshi that is required
	// for a transaction to be relayed.  This value is in Satoshi/1000
	// bytes.
	DefaultMinRelayTxFee = btcutil.Amount(1000)

	// DefaultIncrementalRelayFee is the fee rate in Satoshi/1000 bytes a
	// replacement has to pay on top of the fees of the transactions it
	// evicts.
	DefaultIncrementalRelayFee = btcutil.Amount(1000)

	// DefaultMaxFee is the default absolute fee ceiling.  Anything above
	// it is almost certainly an operator mistake.
	DefaultMaxFee = btcutil.Amount(btcutil.SatoshiPerBitcoin / 10)

	// DefaultMaxFeeRate is the default fee rate ceiling in Satoshi/1000
	// bytes used by the RPC entry points when the caller does not give
	// one.
	DefaultMaxFeeRate = btcutil.Amount(btcutil.SatoshiPerBitcoin / 10)

	// MaxRBFSequence is the maximum sequence number an input can use to
	// signal that the transaction spending it can be replaced using the
	// Replace-By-Fee (RBF) policy.
	MaxRBFSequence = 0xfffffffd

	// MaxReplacementEvictions is the maximum number of transactions that
	// can be evicted from the pool when accepting a transaction
	// replacement.
	MaxReplacementEvictions = 100

	// MaxPackageCount is the maximum number of transactions allowed in a
	// single package.
	MaxPackageCount = 25

	// MaxPackageWeight is the maximum total weight allowed for a package.
	MaxPackageWeight = 404000

	// DefaultMaxTxVersion is the highest transaction version considered
	// standard.
	DefaultMaxTxVersion = 2

	// DefaultMaxAncestorCount is the maximum number of unconfirmed
	// ancestors of a transaction, counting the transaction itself.
	DefaultMaxAncestorCount = 25

	// DefaultMaxAncestorSize is the maximum total virtual size of a
	// transaction and its unconfirmed ancestors.
	DefaultMaxAncestorSize = 101000

	// DefaultMaxDescendantCount is the maximum number of unconfirmed
	// descendants of any pool transaction, counting the transaction
	// itself.
	DefaultMaxDescendantCount = 25

	// DefaultMaxDescendantSize is the maximum total virtual size of a
	// pool transaction and its unconfirmed descendants.
	DefaultMaxDescendantSize = 101000

	// maxStandardP2SHSigOps is the maximum number of signature operations
	// that are considered standard in a pay-to-script-hash script.
	maxStandardP2SHSigOps = 15

	// maxStandardSigScriptSize is the maximum size allowed for a
	// transaction input signature script to be considered standard.  It
	// leaves room for a 15-of-15 CHECKMULTISIG pay-to-script-hash redeem
	// script with compressed keys along with its signatures.
	maxStandardSigScriptSize = 1650

	// maxStandardMultiSigKeys is the maximum number of public keys allowed
	// in a multi-signature transaction output script for it to be
	// considered standard.
	maxStandardMultiSigKeys = 3
)

// Names of the standardness rules reported through TxRuleError.Rule.
const (
	ruleVersion          = "version"
	ruleSigScriptSize    = "scriptsig-size"
	ruleSigScriptPush    = "scriptsig-not-pushonly"
	rulePkScript         = "scriptpubkey"
	ruleMultiOpReturn    = "multi-op-return"
	ruleDust             = "dust"
	ruleNonStandardInput = "bad-txns-nonstandard-inputs"
)

// PolicyConfig houses the policy (configuration parameters) which is used to
// control admission.
type PolicyConfig struct {
	// MaxTxWeight is the maximum weight of a standard transaction.
	MaxTxWeight int64

	// MaxSigOpCostPerTx is the cumulative maximum cost of all signature
	// operations in a single transaction.
	MaxSigOpCostPerTx int

	// MinRelayTxFee defines the minimum transaction fee in satoshi/kB to
	// be considered a non-zero fee.
	MinRelayTxFee btcutil.Amount

	// IncrementalRelayFee is the fee rate in satoshi/kB a replacement
	// must add on top of the fees of everything it evicts.
	IncrementalRelayFee btcutil.Amount

	// MaxFee is the absolute fee ceiling.  Zero disables the check.
	MaxFee btcutil.Amount

	// MaxRBFSequence is the maximum sequence number an input can use to
	// signal replaceability.
	MaxRBFSequence uint32

	// MaxReplacementEvictions is the maximum number of transactions a
	// single replacement may evict.
	MaxReplacementEvictions int

	// RejectReplacement, if true, rejects every transaction that
	// conflicts with the pool regardless of signaling.
	RejectReplacement bool

	// MaxPackageCount is the maximum number of transactions in a package.
	MaxPackageCount int

	// MaxPackageWeight is the maximum total weight of a package.
	MaxPackageWeight int64

	// AcceptNonStd defines whether to accept non-standard transactions.
	// If true, non-standard transactions will be accepted into the pool.
	// Otherwise, all non-standard transactions will be rejected.
	AcceptNonStd bool

	// MaxTxVersion is the highest transaction version the pool accepts
	// as standard.
	MaxTxVersion int32

	// MaxAncestorCount and MaxAncestorSize bound the unconfirmed
	// ancestry of a transaction, the transaction itself included.
	MaxAncestorCount int
	MaxAncestorSize  int64

	// MaxDescendantCount and MaxDescendantSize bound the unconfirmed
	// descendants of every pool transaction, the transaction itself
	// included.
	MaxDescendantCount int
	MaxDescendantSize  int64
}

// DefaultPolicyConfig returns a PolicyConfig with the default relay policy.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxTxWeight:             MaxStandardTxWeight,
		MaxSigOpCostPerTx:       DefaultMaxSigOpCostPerTx,
		MinRelayTxFee:           DefaultMinRelayTxFee,
		IncrementalRelayFee:     DefaultIncrementalRelayFee,
		MaxFee:                  DefaultMaxFee,
		MaxRBFSequence:          MaxRBFSequence,
		MaxReplacementEvictions: MaxReplacementEvictions,
		MaxPackageCount:         MaxPackageCount,
		MaxPackageWeight:        MaxPackageWeight,
		MaxTxVersion:            DefaultMaxTxVersion,
		MaxAncestorCount:        DefaultMaxAncestorCount,
		MaxAncestorSize:         DefaultMaxAncestorSize,
		MaxDescendantCount:      DefaultMaxDescendantCount,
		MaxDescendantSize:       DefaultMaxDescendantSize,
	}
}

// calcMinRequiredTxRelayFee returns the minimum transaction fee required for a
// transaction with the passed serialized size to be accepted into the memory
// pool and relayed.
func calcMinRequiredTxRelayFee(serializedSize int64, minRelayTxFee btcutil.Amount) int64 {
	// Calculate the minimum fee for a transaction to be allowed into the
	// mempool and relayed by scaling the base fee.  minRelayTxFee is in
	// Satoshi/kB so multiply by serializedSize (which is in bytes) and
	// divide by 1000 to get minimum Satoshis.
	minFee := (serializedSize * int64(minRelayTxFee)) / 1000

	if minFee == 0 && minRelayTxFee > 0 {
		minFee = int64(minRelayTxFee)
	}

	// Set the minimum fee to the maximum possible value if the calculated
	// fee is not in the valid range for monetary amounts.
	if minFee < 0 || minFee > btcutil.MaxSatoshi {
		minFee = btcutil.MaxSatoshi
	}

	return minFee
}

// MinRequiredFee is the exported form of the relay fee computation: the fee a
// transaction of vsize virtual bytes must pay at the given fee rate.
func MinRequiredFee(vsize int64, feeRate btcutil.Amount) btcutil.Amount {
	return btcutil.Amount(calcMinRequiredTxRelayFee(vsize, feeRate))
}

// FeeRatePerKvB returns fee expressed in Satoshi/1000 vbytes.
func FeeRatePerKvB(fee btcutil.Amount, vsize int64) int64 {
	if vsize <= 0 {
		return 0
	}
	return int64(fee) * 1000 / vsize
}

// GetTxVirtualSize computes the virtual size of a given transaction. A
// transaction's virtual size is based off its weight, creating a discount for
// any witness data it contains, proportional to the current
// blockchain.WitnessScaleFactor value.
func GetTxVirtualSize(tx *btcutil.Tx) int64 {
	// vSize := (weight(tx) + 3) / 4
	//       := (((baseSize * 3) + totalSize) + 3) / 4
	// We add 3 here as a way to compute the ceiling of the prior arithmetic
	// to 4. The division by 4 creates a discount for wit witness data.
	return (blockchain.GetTransactionWeight(tx) + (blockchain.WitnessScaleFactor - 1)) /
		blockchain.WitnessScaleFactor
}

// checkTransactionSanity performs the context free structural checks on a
// transaction and additionally rejects standalone coinbase transactions.
func checkTransactionSanity(tx *btcutil.Tx) error {
	err := blockchain.CheckTransactionSanity(tx)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			return wrapRuleError(RejectStructurallyInvalid, cerr,
				cerr.Description)
		}
		return wrapRuleError(RejectStructurallyInvalid, err, err.Error())
	}

	// A standalone transaction must not be a coinbase transaction.
	if blockchain.IsCoinBase(tx) {
		str := fmt.Sprintf("transaction is an individual coinbase %v",
			tx.Hash())
		return txRuleError(RejectStructurallyInvalid, str)
	}

	return nil
}

// checkTransactionStandard performs the standardness checks that need
// nothing but the transaction itself: a supported version, push only
// signature scripts of bounded size, recognized output script forms, at most
// one data carrier output and no dust.
func checkTransactionStandard(tx *btcutil.Tx, minRelayTxFee btcutil.Amount,
	maxTxVersion int32) error {

	msgTx := tx.MsgTx()
	if msgTx.Version > maxTxVersion || msgTx.Version < 1 {
		str := fmt.Sprintf("transaction version %d is not in the "+
			"valid range of %d-%d", msgTx.Version, 1, maxTxVersion)
		return nonStandardError(ruleVersion, str)
	}

	for i, txIn := range msgTx.TxIn {
		sigScriptLen := len(txIn.SignatureScript)
		if sigScriptLen > maxStandardSigScriptSize {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script size is larger than max allowed: "+
				"%d > %d bytes", i, sigScriptLen,
				maxStandardSigScriptSize)
			return nonStandardError(ruleSigScriptSize, str)
		}

		// Anything other than data pushes in a signature script only
		// costs validation time for no benefit.
		if !txscript.IsPushOnlyScript(txIn.SignatureScript) {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script is not push only", i)
			return nonStandardError(ruleSigScriptPush, str)
		}
	}

	numNullDataOutputs := 0
	for i, txOut := range msgTx.TxOut {
		scriptClass := txscript.GetScriptClass(txOut.PkScript)
		err := checkPkScriptStandard(txOut.PkScript, scriptClass)
		if err != nil {
			str := fmt.Sprintf("transaction output %d: %v", i, err)
			return nonStandardError(rulePkScript, str)
		}

		if scriptClass == txscript.NullDataTy {
			numNullDataOutputs++
			continue
		}
		if IsDust(txOut, minRelayTxFee) {
			str := fmt.Sprintf("transaction output %d: payment "+
				"of %d is dust", i, txOut.Value)
			return nonStandardError(ruleDust, str)
		}
	}

	if numNullDataOutputs > 1 {
		str := fmt.Sprintf("transaction has %d data carrier outputs, "+
			"only one is allowed", numNullDataOutputs)
		return nonStandardError(ruleMultiOpReturn, str)
	}

	return nil
}

// checkPkScriptStandard ensures an output script is of a recognized form
// and, for bare multi-signature scripts, names from 1 to
// maxStandardMultiSigKeys public keys and no more signatures than keys.
func checkPkScriptStandard(pkScript []byte, scriptClass txscript.ScriptClass) error {
	switch scriptClass {
	case txscript.MultiSigTy:
		numPubKeys, numSigs, err := txscript.CalcMultiSigStats(pkScript)
		if err != nil {
			return fmt.Errorf("multi-signature script parse "+
				"failure: %w", err)
		}
		if numPubKeys < 1 || numPubKeys > maxStandardMultiSigKeys {
			return fmt.Errorf("multi-signature script with %d "+
				"public keys, allowed range is 1-%d", numPubKeys,
				maxStandardMultiSigKeys)
		}
		if numSigs < 1 || numSigs > numPubKeys {
			return fmt.Errorf("multi-signature script with %d "+
				"signatures and %d public keys", numSigs,
				numPubKeys)
		}

	case txscript.NonStandardTy:
		return errors.New("non-standard script form")
	}

	return nil
}

// checkInputsStandard ensures every output spent by the transaction has a
// recognized script form and that pay-to-script-hash redeem scripts stay
// within maxStandardP2SHSigOps.  prevOuts holds the spent outputs in input
// order.
func checkInputsStandard(tx *btcutil.Tx, prevOuts []*wire.TxOut) error {
	for i, txIn := range tx.MsgTx().TxIn {
		pkScript := prevOuts[i].PkScript
		switch txscript.GetScriptClass(pkScript) {
		case txscript.ScriptHashTy:
			numSigOps := txscript.GetPreciseSigOpCount(
				txIn.SignatureScript, pkScript, true)
			if numSigOps > maxStandardP2SHSigOps {
				str := fmt.Sprintf("transaction input #%d has "+
					"%d signature operations which is more "+
					"than the allowed max amount of %d",
					i, numSigOps, maxStandardP2SHSigOps)
				return nonStandardError(ruleNonStandardInput,
					str)
			}

		case txscript.NonStandardTy:
			str := fmt.Sprintf("transaction input #%d spends a "+
				"non-standard script form", i)
			return nonStandardError(ruleNonStandardInput, str)
		}
	}

	return nil
}

// GetDustThreshold returns the value in Satoshi/1000 bytes below which
// spending the output costs the network more than it is worth: three times
// the size of the output plus a typical input redeeming it.  A
// pay-to-pubkey-hash input is 148 bytes, 107 of them signature script.
// Witness programs get the witness discount on those 107 bytes.
func GetDustThreshold(txOut *wire.TxOut) int64 {
	totalSize := txOut.SerializeSize() + 41
	if txscript.IsWitnessProgram(txOut.PkScript) {
		totalSize += (107 / blockchain.WitnessScaleFactor)
	} else {
		totalSize += 107
	}

	return 3 * int64(totalSize)
}

// IsDust returns whether the output is dust at the given minimum relay fee
// rate.  Unspendable outputs are always dust.  With the default rate of 1000
// Satoshi/kB a pay-to-pubkey-hash output below 546 Satoshi is dust.
func IsDust(txOut *wire.TxOut, minRelayTxFee btcutil.Amount) bool {
	if txscript.IsUnspendable(txOut.PkScript) {
		return true
	}

	// Equivalent to (value/totalSize) * (1/3) * 1000 without floating
	// point math.
	return txOut.Value*1000/GetDustThreshold(txOut) < int64(minRelayTxFee)
}

// estimateSigOpCost returns the signature operation cost of a transaction
// that can be determined without the outputs it spends.  Only legacy
// operations in the signature scripts and output scripts are counted, so the
// result is a lower bound of the precise cost.
func estimateSigOpCost(tx *btcutil.Tx) int {
	numSigOps := 0
	msgTx := tx.MsgTx()
	for _, txIn := range msgTx.TxIn {
		numSigOps += txscript.GetSigOpCount(txIn.SignatureScript)
	}
	for _, txOut := range msgTx.TxOut {
		numSigOps += txscript.GetSigOpCount(txOut.PkScript)
	}
	return numSigOps * blockchain.WitnessScaleFactor
}

// calcSigOpCost returns the precise signature operation cost of a
// transaction given the outputs it spends, accounting for pay-to-script-hash
// redeem scripts and witness programs.
func calcSigOpCost(tx *btcutil.Tx, prevOuts []*wire.TxOut) int {
	numSigOps := estimateSigOpCost(tx)
	for i, txIn := range tx.MsgTx().TxIn {
		pkScript := prevOuts[i].PkScript
		if txscript.IsPayToScriptHash(pkScript) {
			numSigOps += txscript.GetPreciseSigOpCount(
				txIn.SignatureScript, pkScript, true,
			) * blockchain.WitnessScaleFactor
		}
		numSigOps += txscript.GetWitnessSigOpCount(
			txIn.SignatureScript, pkScript, txIn.Witness,
		)
	}
	return numSigOps
}

// signalsReplacement returns whether any input of the transaction carries a
// sequence number that opts in to replacement.
func signalsReplacement(msgTx *wire.MsgTx, maxSeq uint32) bool {
	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence <= maxSeq {
			return true
		}
	}
	return false
}
