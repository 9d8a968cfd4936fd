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

// PackageResult summarizes the verdicts of a package.
type PackageResult struct {
	// PackageMsg is "success" when every member was admitted or already
	// known, otherwise a description of the first failure.
	PackageMsg string

	// ReplacedTxs lists every pool entry evicted by the package, sorted.
	ReplacedTxs []chainhash.Hash

	// TotalFees is the sum of fees from all admitted members.
	TotalFees btcutil.Amount

	// TotalVSize is the sum of virtual sizes from all admitted members.
	TotalVSize int64

	// PackageFeeRate is the aggregate fee rate of the admitted members in
	// satoshis per kilovbyte.
	PackageFeeRate int64

	// AcceptedCount is the number of admitted members.
	AcceptedCount int

	// KnownCount is the number of members that were already known.
	KnownCount int

	// RejectedCount is the number of members rejected for any other
	// reason.
	RejectedCount int
}

// SummarizePackage folds the verdicts of a package into a PackageResult.
func SummarizePackage(verdicts []*Verdict) *PackageResult {
	result := &PackageResult{PackageMsg: "success"}
	replaced := make(map[chainhash.Hash]struct{})
	for _, v := range verdicts {
		switch {
		case v.Admitted:
			result.AcceptedCount++
			result.TotalFees += v.Fee
			result.TotalVSize += v.VSize
			for _, hash := range v.Replaced {
				replaced[hash] = struct{}{}
			}

		case v.Known():
			result.KnownCount++

		default:
			if result.RejectedCount == 0 {
				result.PackageMsg = fmt.Sprintf("transaction %v "+
					"failed: %v", v.TxHash, v.Err)
			}
			result.RejectedCount++
		}
	}

	result.PackageFeeRate = FeeRatePerKvB(result.TotalFees, result.TotalVSize)
	for hash := range replaced {
		result.ReplacedTxs = append(result.ReplacedTxs, hash)
	}
	sort.Slice(result.ReplacedTxs, func(i, j int) bool {
		return bytes.Compare(result.ReplacedTxs[i][:],
			result.ReplacedTxs[j][:]) < 0
	})

	return result
}

// DecodePackage deserializes raw transactions into a package, keeping their
// order.  Both witness and legacy encodings are accepted.
func DecodePackage(rawTxns [][]byte) ([]*btcutil.Tx, error) {
	pkg := make([]*btcutil.Tx, 0, len(rawTxns))
	for i, raw := range rawTxns {
		tx, err := btcutil.NewTxFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decode transaction %d: %w", i, err)
		}
		pkg = append(pkg, tx)
	}
	return pkg, nil
}
