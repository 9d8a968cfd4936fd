// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// PackageSequencer checks the shape of a package before any of its members
// is evaluated: size limits, unique members, dependency order and the
// absence of intra-package double spends.  It never consults the chain or
// the pool.
type PackageSequencer struct {
	policy *PolicyConfig
}

// NewPackageSequencer returns a sequencer enforcing the package limits of
// the given policy.
func NewPackageSequencer(policy *PolicyConfig) *PackageSequencer {
	return &PackageSequencer{policy: policy}
}

// Sequence returns one error per package member when the package fails a
// shape check, or nil when the package is well formed.  Offending members
// carry the specific shape reason and every other member carries
// RejectPackageFailed.  When a member is guilty of several violations the
// reported one is, in order of precedence, DuplicateInPackage,
// ConflictInPackage, UnsortedPackage.
//
// Dependency order is only enforced when strict is set.  Otherwise a member
// spending a later member is left to fail input resolution.
func (s *PackageSequencer) Sequence(pkg []*btcutil.Tx, strict bool) []error {
	if len(pkg) == 0 {
		return nil
	}

	if errs := s.checkLimits(pkg); errs != nil {
		return errs
	}

	errs := make([]error, len(pkg))
	failed := false
	fail := func(i int, err error) {
		if errs[i] == nil {
			errs[i] = err
			failed = true
		}
	}

	// Count the occurrences of each txid and remember the first position
	// so out of order spends can be detected.
	positions := make(map[chainhash.Hash][]int, len(pkg))
	for i, tx := range pkg {
		hash := *tx.Hash()
		positions[hash] = append(positions[hash], i)
	}

	for i, tx := range pkg {
		if len(positions[*tx.Hash()]) > 1 {
			str := fmt.Sprintf("transaction %v appears %d times in "+
				"package", tx.Hash(), len(positions[*tx.Hash()]))
			fail(i, txRuleError(RejectDuplicateInPackage, str))
		}
	}

	spenders := make(map[wire.OutPoint][]int)
	for i, tx := range pkg {
		for _, txIn := range tx.MsgTx().TxIn {
			op := txIn.PreviousOutPoint
			spenders[op] = append(spenders[op], i)
		}
	}
	for op, idxs := range spenders {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			str := fmt.Sprintf("transaction %v spends %v which is "+
				"also spent by %d other package %s", pkg[i].Hash(),
				op, len(idxs)-1, pickNoun(len(idxs)-1, "member",
					"members"))
			fail(i, txRuleError(RejectConflictInPackage, str))
		}
	}

	if strict {
		for i, tx := range pkg {
			for _, txIn := range tx.MsgTx().TxIn {
				parent := txIn.PreviousOutPoint.Hash
				at, ok := positions[parent]
				if !ok || at[0] < i {
					continue
				}
				str := fmt.Sprintf("transaction %v at index %d "+
					"spends %v at index %d", tx.Hash(), i,
					parent, at[0])
				fail(i, txRuleError(RejectUnsortedPackage, str))
				break
			}
		}
	}

	if !failed {
		return nil
	}

	for i, tx := range pkg {
		if errs[i] == nil {
			str := fmt.Sprintf("transaction %v not evaluated: "+
				"package failed shape checks", tx.Hash())
			errs[i] = txRuleError(RejectPackageFailed, str)
		}
	}

	log.Debugf("Rejected malformed package of %d %s", len(pkg),
		pickNoun(len(pkg), "transaction", "transactions"))

	return errs
}

// checkLimits enforces the package count and total weight limits.  A package
// over either limit is rejected as a whole.
func (s *PackageSequencer) checkLimits(pkg []*btcutil.Tx) []error {
	var reason string
	if s.policy.MaxPackageCount > 0 && len(pkg) > s.policy.MaxPackageCount {
		reason = fmt.Sprintf("package has %d transactions, max %d",
			len(pkg), s.policy.MaxPackageCount)
	} else if s.policy.MaxPackageWeight > 0 {
		var weight int64
		for _, tx := range pkg {
			weight += blockchain.GetTransactionWeight(tx)
		}
		if weight > s.policy.MaxPackageWeight {
			reason = fmt.Sprintf("package weight %d exceeds max %d",
				weight, s.policy.MaxPackageWeight)
		}
	}
	if reason == "" {
		return nil
	}

	errs := make([]error, len(pkg))
	for i, tx := range pkg {
		str := fmt.Sprintf("transaction %v not evaluated: %s",
			tx.Hash(), reason)
		errs[i] = txRuleError(RejectPackageFailed, str)
	}
	return errs
}
