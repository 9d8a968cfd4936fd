// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"maps"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxDesc is a descriptor containing a transaction in the pool along with
// additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *btcutil.Tx

	// Added is the time when the entry was added to the pool.
	Added time.Time

	// Fee is the total fee the transaction associated with the entry pays.
	Fee btcutil.Amount

	// VSize is the virtual size of the transaction.
	VSize int64

	// FeePerKB is the fee the transaction pays in Satoshi per 1000 vbytes.
	FeePerKB int64
}

// poolSnapshot is an immutable, versioned view of the pool contents.  Once
// published it is never modified; commits build a new snapshot from a clone.
type poolSnapshot struct {
	version uint64

	// pool maps txids to their descriptors.
	pool map[chainhash.Hash]*TxDesc

	// outpoints maps every outpoint spent by a pool transaction to the
	// descriptor of the spender.
	outpoints map[wire.OutPoint]*TxDesc
}

// newPoolSnapshot returns an empty snapshot.
func newPoolSnapshot() *poolSnapshot {
	return &poolSnapshot{
		pool:      make(map[chainhash.Hash]*TxDesc),
		outpoints: make(map[wire.OutPoint]*TxDesc),
	}
}

// clone returns a shallow copy of the snapshot with the next version number.
// The descriptors themselves are shared since they are never mutated.
func (s *poolSnapshot) clone() *poolSnapshot {
	return &poolSnapshot{
		version:   s.version + 1,
		pool:      maps.Clone(s.pool),
		outpoints: maps.Clone(s.outpoints),
	}
}

// add inserts the descriptor.  Only valid on an unpublished clone.
func (s *poolSnapshot) add(desc *TxDesc) {
	s.pool[*desc.Tx.Hash()] = desc
	for _, txIn := range desc.Tx.MsgTx().TxIn {
		s.outpoints[txIn.PreviousOutPoint] = desc
	}
}

// remove deletes the transaction with the given hash.  Only valid on an
// unpublished clone.
func (s *poolSnapshot) remove(hash chainhash.Hash) *TxDesc {
	desc, ok := s.pool[hash]
	if !ok {
		return nil
	}
	for _, txIn := range desc.Tx.MsgTx().TxIn {
		if spender := s.outpoints[txIn.PreviousOutPoint]; spender == desc {
			delete(s.outpoints, txIn.PreviousOutPoint)
		}
	}
	delete(s.pool, hash)
	return desc
}

// descendants returns every pool transaction that directly or indirectly
// spends an output of the transaction with the given hash.
func (s *poolSnapshot) descendants(hash chainhash.Hash) map[chainhash.Hash]*TxDesc {
	result := make(map[chainhash.Hash]*TxDesc)
	queue := []chainhash.Hash{hash}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		desc, ok := s.pool[current]
		if !ok {
			continue
		}
		prevOut := wire.OutPoint{Hash: current}
		for i := range desc.Tx.MsgTx().TxOut {
			prevOut.Index = uint32(i)
			child, ok := s.outpoints[prevOut]
			if !ok {
				continue
			}
			childHash := *child.Tx.Hash()
			if _, seen := result[childHash]; seen {
				continue
			}
			result[childHash] = child
			queue = append(queue, childHash)
		}
	}
	return result
}

// packageView overlays the provisional effects of a package evaluation on
// top of a pool snapshot.  Transactions admitted earlier in the package
// behave as if they were already in the pool, and pool entries they replace
// behave as if they were already gone.  The snapshot is never touched.
type packageView struct {
	snap *poolSnapshot

	// added holds the provisionally admitted package members in package
	// order.
	added map[chainhash.Hash]*TxDesc
	order []*TxDesc

	// evicted holds pool entries removed by provisional replacements.
	evicted map[chainhash.Hash]*TxDesc
}

// newPackageView returns an empty overlay on top of the snapshot.
func newPackageView(snap *poolSnapshot) *packageView {
	return &packageView{
		snap:    snap,
		added:   make(map[chainhash.Hash]*TxDesc),
		evicted: make(map[chainhash.Hash]*TxDesc),
	}
}

// isEvicted returns whether the pool entry was replaced within this package.
func (v *packageView) isEvicted(hash chainhash.Hash) bool {
	_, ok := v.evicted[hash]
	return ok
}

// haveTransaction returns whether the transaction is in the pool (and not
// evicted) or provisionally admitted.
func (v *packageView) haveTransaction(hash chainhash.Hash) bool {
	if _, ok := v.added[hash]; ok {
		return true
	}
	_, ok := v.Entry(hash)
	return ok
}

// fetchOutput returns the output referenced by op when it is created by a
// provisional package member or a live pool entry.
func (v *packageView) fetchOutput(op wire.OutPoint) *wire.TxOut {
	desc, ok := v.added[op.Hash]
	if !ok {
		desc, ok = v.Entry(op.Hash)
	}
	if !ok {
		return nil
	}
	txOuts := desc.Tx.MsgTx().TxOut
	if op.Index >= uint32(len(txOuts)) {
		return nil
	}
	return txOuts[op.Index]
}

// poolSpender returns the live pool entry spending op, if any.
func (v *packageView) poolSpender(op wire.OutPoint) *TxDesc {
	desc, ok := v.snap.outpoints[op]
	if !ok || v.isEvicted(*desc.Tx.Hash()) {
		return nil
	}
	return desc
}

// Entry returns the live pool entry with the given hash.  Provisional package
// members are not pool entries.  This is part of the ReplacementGraph
// interface.
func (v *packageView) Entry(hash chainhash.Hash) (*TxDesc, bool) {
	desc, ok := v.snap.pool[hash]
	if !ok || v.isEvicted(hash) {
		return nil, false
	}
	return desc, true
}

// Descendants returns the live in-pool descendants of the entry.  This is
// part of the ReplacementGraph interface.
func (v *packageView) Descendants(hash chainhash.Hash) map[chainhash.Hash]*TxDesc {
	descendants := v.snap.descendants(hash)
	for h := range descendants {
		if v.isEvicted(h) {
			delete(descendants, h)
		}
	}
	return descendants
}

// provisionalSpends returns whether a provisionally admitted member spends
// an output of the transaction with the given hash.
func (v *packageView) provisionalSpends(hash chainhash.Hash) bool {
	for _, desc := range v.order {
		for _, txIn := range desc.Tx.MsgTx().TxIn {
			if txIn.PreviousOutPoint.Hash == hash {
				return true
			}
		}
	}
	return false
}

// lookup returns the provisional member or live pool entry with the given
// hash.
func (v *packageView) lookup(hash chainhash.Hash) (*TxDesc, bool) {
	if desc, ok := v.added[hash]; ok {
		return desc, true
	}
	return v.Entry(hash)
}

// unconfirmedAncestors returns every unconfirmed transaction, pool entry or
// provisional member, that tx directly or indirectly spends from.
func (v *packageView) unconfirmedAncestors(tx *btcutil.Tx) map[chainhash.Hash]*TxDesc {
	result := make(map[chainhash.Hash]*TxDesc)
	queue := []*btcutil.Tx{tx}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, txIn := range current.MsgTx().TxIn {
			parentHash := txIn.PreviousOutPoint.Hash
			if _, seen := result[parentHash]; seen {
				continue
			}
			parent, ok := v.lookup(parentHash)
			if !ok {
				continue
			}
			result[parentHash] = parent
			queue = append(queue, parent.Tx)
		}
	}
	return result
}

// unconfirmedDescendants returns every unconfirmed transaction, pool entry
// or provisional member, that directly or indirectly spends an output of the
// transaction with the given hash.
func (v *packageView) unconfirmedDescendants(hash chainhash.Hash) map[chainhash.Hash]*TxDesc {
	result := make(map[chainhash.Hash]*TxDesc)
	queue := []chainhash.Hash{hash}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		visit := func(child *TxDesc) {
			childHash := *child.Tx.Hash()
			if _, seen := result[childHash]; seen {
				return
			}
			result[childHash] = child
			queue = append(queue, childHash)
		}

		if desc, ok := v.lookup(current); ok {
			prevOut := wire.OutPoint{Hash: current}
			for i := range desc.Tx.MsgTx().TxOut {
				prevOut.Index = uint32(i)
				if child := v.poolSpender(prevOut); child != nil {
					visit(child)
				}
			}
		}
		for _, member := range v.order {
			for _, txIn := range member.Tx.MsgTx().TxIn {
				if txIn.PreviousOutPoint.Hash == current {
					visit(member)
					break
				}
			}
		}
	}
	return result
}

// admit records a provisionally admitted package member along with the pool
// entries it evicts.
func (v *packageView) admit(desc *TxDesc, evictions map[chainhash.Hash]*TxDesc) {
	hash := *desc.Tx.Hash()
	v.added[hash] = desc
	v.order = append(v.order, desc)
	for h, evicted := range evictions {
		v.evicted[h] = evicted
	}
}

// apply builds the snapshot that results from committing the view.
func (v *packageView) apply() *poolSnapshot {
	next := v.snap.clone()
	for hash := range v.evicted {
		next.remove(hash)
	}
	for _, desc := range v.order {
		next.add(desc)
	}
	return next
}
