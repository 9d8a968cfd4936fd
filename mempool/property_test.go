// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"pgregory.net/rapid"
)

// drawPackage builds a random package on top of the harness outputs.  It
// mixes independent spends, children of earlier members, duplicates and
// double spends, with fees that are sometimes too low.
func drawPackage(t *rapid.T, h *poolHarness,
	outputs []spendableOutput) []*btcutil.Tx {

	size := rapid.IntRange(1, 8).Draw(t, "package_size")
	fees := rapid.SampledFrom([]btcutil.Amount{0, 1000, 5000})

	var (
		pkg    []*btcutil.Tx
		unused = append([]spendableOutput(nil), outputs...)
		spent  []spendableOutput
	)
	for i := 0; i < size; i++ {
		fee := fees.Draw(t, "fee")
		switch action := rapid.IntRange(0, 3).Draw(t, "action"); {
		case action == 0 && len(unused) > 0:
			out := unused[0]
			unused = unused[1:]
			spent = append(spent, out)
			pkg = append(pkg, h.createTx([]spendableOutput{out},
				2, fee, wire.MaxTxInSequenceNum))

		case action == 1 && len(pkg) > 0:
			parent := pkg[rapid.IntRange(0, len(pkg)-1).Draw(t,
				"parent")]
			idx := uint32(rapid.IntRange(0,
				len(parent.MsgTx().TxOut)-1).Draw(t, "index"))
			out := txOutToSpendableOut(parent, idx)
			if out.amount <= fee {
				continue
			}
			pkg = append(pkg, h.createTx([]spendableOutput{out},
				1, fee, wire.MaxTxInSequenceNum))

		case action == 2 && len(pkg) > 0:
			pkg = append(pkg, pkg[rapid.IntRange(0,
				len(pkg)-1).Draw(t, "duplicate")])

		case action == 3 && len(spent) > 0:
			out := spent[rapid.IntRange(0, len(spent)-1).Draw(t,
				"double_spend")]
			pkg = append(pkg, h.createTx([]spendableOutput{out},
				3, fee+1, wire.MaxTxInSequenceNum))

		default:
			if len(unused) == 0 {
				continue
			}
			out := unused[0]
			unused = unused[1:]
			spent = append(spent, out)
			pkg = append(pkg, h.createTx([]spendableOutput{out},
				1, fee, wire.MaxTxInSequenceNum))
		}
	}
	if len(pkg) == 0 {
		pkg = append(pkg, h.createTx(outputs[:1], 1, 1000,
			wire.MaxTxInSequenceNum))
	}

	if rapid.Bool().Draw(t, "shuffle") {
		perm := rapid.Permutation(pkg).Draw(t, "order")
		pkg = perm
	}
	return pkg
}

// TestPropertyVerdictsMatchPackage ensures every evaluation returns exactly
// one verdict per member in submission order, that verdicts are internally
// consistent, and that shape failures never admit anything.
func TestPropertyVerdictsMatchPackage(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		h, outputs := newPoolHarness(t, 6)
		h.passScripts()

		pkg := drawPackage(rt, h, outputs)
		strict := rapid.Bool().Draw(rt, "strict")
		opts := &AcceptOptions{StrictOrder: strict}

		var verdicts []*Verdict
		if rapid.Bool().Draw(rt, "submit") {
			verdicts = h.txPool.SubmitPackage(pkg, opts)
		} else {
			verdicts = h.txPool.TestAcceptPackage(pkg, opts)
		}

		if len(verdicts) != len(pkg) {
			rt.Fatalf("got %d verdicts for %d transactions",
				len(verdicts), len(pkg))
		}

		admitted, shapeFailed := 0, false
		for i, v := range verdicts {
			if v.TxHash != *pkg[i].Hash() {
				rt.Fatalf("verdict %d is for %v, want %v", i,
					v.TxHash, pkg[i].Hash())
			}
			if v.Admitted {
				admitted++
				if v.Err != nil {
					rt.Fatalf("admitted verdict %d has error %v",
						i, v.Err)
				}
				continue
			}
			reason, ok := v.Reason()
			if !ok {
				rt.Fatalf("verdict %d has no reason: %v", i, v.Err)
			}
			if reason.IsPackageShape() {
				shapeFailed = true
			}
		}

		if shapeFailed && admitted > 0 {
			rt.Fatalf("package failed shape checks but %d members "+
				"were admitted", admitted)
		}
		if h.txPool.Count() > len(pkg) {
			rt.Fatalf("pool holds %d transactions after a package "+
				"of %d", h.txPool.Count(), len(pkg))
		}
	})
}

// TestPropertyMemberByMember ensures submitting non conflicting members one
// at a time produces the same verdicts as submitting them as one package.
func TestPropertyMemberByMember(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		fees := rapid.SampledFrom([]btcutil.Amount{0, 1000, 5000})
		build := func(h *poolHarness, outputs []spendableOutput,
			shape []int, fee []btcutil.Amount) []*btcutil.Tx {

			var pkg []*btcutil.Tx
			for i, n := range shape {
				chain := h.createTx(outputs[i:i+1], 2, fee[i],
					wire.MaxTxInSequenceNum)
				pkg = append(pkg, chain)
				for j := 0; j < n; j++ {
					chain = h.createTx(
						[]spendableOutput{
							txOutToSpendableOut(chain, 1),
						}, 2, fee[i],
						wire.MaxTxInSequenceNum,
					)
					pkg = append(pkg, chain)
				}
			}
			return pkg
		}

		numChains := rapid.IntRange(1, 4).Draw(rt, "chains")
		shape := make([]int, numChains)
		fee := make([]btcutil.Amount, numChains)
		for i := range shape {
			shape[i] = rapid.IntRange(0, 3).Draw(rt, "length")
			fee[i] = fees.Draw(rt, "fee")
		}

		whole, outputs := newPoolHarness(t, 4)
		whole.passScripts()
		asPackage := whole.txPool.SubmitPackage(
			build(whole, outputs, shape, fee), nil,
		)

		single, outputs := newPoolHarness(t, 4)
		single.passScripts()
		for i, tx := range build(single, outputs, shape, fee) {
			v := single.txPool.SubmitTransaction(tx, nil)
			want := asPackage[i]
			wantReason, _ := want.Reason()
			gotReason, _ := v.Reason()
			if v.TxHash != want.TxHash || v.Admitted != want.Admitted ||
				v.Fee != want.Fee || gotReason != wantReason {

				rt.Fatalf("member %d: package verdict %v, "+
					"individual verdict %v", i, want, v)
			}
		}
	})
}

// TestPropertyReplacementFees ensures a replacement is admitted exactly when
// it pays for the evicted entry plus the increment at no lower fee rate, and
// that the evicted entry stays otherwise.
func TestPropertyReplacementFees(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		h, outputs := newPoolHarness(t, 1)
		h.passScripts()

		evictedFee := btcutil.Amount(rapid.Int64Range(1000, 50000).Draw(
			rt, "evicted_fee"))
		evictee := h.createTx(outputs, uint32(rapid.IntRange(1, 3).Draw(
			rt, "evicted_outputs")), evictedFee, MaxRBFSequence)
		if v := h.txPool.SubmitTransaction(evictee, nil); !v.Admitted {
			rt.Fatalf("evictee rejected: %v", v.Err)
		}

		fee := btcutil.Amount(rapid.Int64Range(0, 100000).Draw(rt, "fee"))
		numOutputs := uint32(rapid.IntRange(1, 3).Draw(rt, "outputs"))
		candidate := h.createTx(outputs, numOutputs, fee,
			wire.MaxTxInSequenceNum)
		if *candidate.Hash() == *evictee.Hash() {
			return
		}

		vsize := GetTxVirtualSize(candidate)
		evictedVSize := GetTxVirtualSize(evictee)
		rateOK := int64(fee)*evictedVSize >= int64(evictedFee)*vsize
		feeOK := fee >= evictedFee+MinRequiredFee(vsize,
			DefaultIncrementalRelayFee)

		v := h.txPool.SubmitTransaction(candidate, nil)
		if v.Admitted != (rateOK && feeOK) {
			rt.Fatalf("fee %d vsize %d against fee %d vsize %d: "+
				"got %v", fee, vsize, evictedFee, evictedVSize, v)
		}
		if !v.Admitted {
			reason, _ := v.Reason()
			if reason != RejectReplacementRejected {
				rt.Fatalf("unexpected reason %v", reason)
			}
		}
		if h.txPool.HaveTransaction(evictee.Hash()) == v.Admitted {
			rt.Fatalf("evictee presence does not match verdict %v", v)
		}
	})
}

// TestPropertyIndependentPackages ensures valid packages that share no
// inputs are each admitted in full.
func TestPropertyIndependentPackages(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		h, outputs := newPoolHarness(t, 2)
		h.passScripts()

		first := h.createTxChain(outputs[0],
			rapid.IntRange(1, 5).Draw(rt, "first"), 1000)
		second := h.createTxChain(outputs[1],
			rapid.IntRange(1, 5).Draw(rt, "second"), 2000)

		for _, pkg := range [][]*btcutil.Tx{first, second} {
			for _, v := range h.txPool.SubmitPackage(pkg, nil) {
				if !v.Admitted {
					rt.Fatalf("member rejected: %v", v.Err)
				}
			}
		}
		if h.txPool.Count() != len(first)+len(second) {
			rt.Fatalf("pool holds %d transactions, want %d",
				h.txPool.Count(), len(first)+len(second))
		}
	})
}
