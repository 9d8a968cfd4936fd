// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rcrowley/go-metrics"
)

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various pool configuration options related to
	// policy.
	Policy PolicyConfig

	// ChainView provides access to the confirmed UTXO set.
	ChainView ChainView

	// ScriptVerifier checks input scripts and witnesses.
	ScriptVerifier ScriptVerifier

	// Metrics is the registry the pool reports to.  A private registry is
	// created when nil.
	Metrics metrics.Registry
}

// AcceptOptions tunes a single admission request.
type AcceptOptions struct {
	// MaxFeeRate is the highest fee rate in Satoshi/1000 vbytes the caller
	// is willing to pay.  Zero disables the per call ceiling; the pool
	// wide absolute ceiling still applies.
	MaxFeeRate btcutil.Amount

	// StrictOrder rejects packages that are not in dependency order with
	// RejectUnsortedPackage.  Otherwise a member spending a later member
	// fails with RejectMissingInputs.
	StrictOrder bool
}

// PoolSummary holds aggregate statistics about the pool contents.
type PoolSummary struct {
	// Count is the number of transactions in the pool.
	Count int

	// TotalVSize is the sum of the virtual sizes of all pool entries.
	TotalVSize int64

	// TotalFees is the sum of the fees paid by all pool entries.
	TotalFees btcutil.Amount

	// Usage is the estimated memory used by the pool entries in bytes.
	Usage uint64

	// MinFeeRate is the lowest fee rate of any pool entry in
	// Satoshi/1000 vbytes, zero when the pool is empty.
	MinFeeRate int64

	// MinRelayFee is the effective minimum relay fee rate.
	MinRelayFee btcutil.Amount
}

// TxPool is the package admission front end of the memory pool.  Admission
// requests are evaluated against an immutable snapshot of the pool, and a
// commit replaces the snapshot atomically, so readers never block and never
// observe a partially applied package.  It is safe for concurrent access.
type TxPool struct {
	// lastUpdated is the unix time of the last commit.
	lastUpdated atomic.Int64

	// mtx serializes commits.  Dry runs do not take it.
	mtx sync.Mutex

	snapshot atomic.Pointer[poolSnapshot]

	cfg       Config
	validator *AdmissionValidator
	sequencer *PackageSequencer
	metrics   *poolMetrics

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback
}

// Ensure the TxPool type implements the TxSource interface.
var _ TxSource = (*TxPool)(nil)

// New returns a new memory pool using the provided configuration.
func New(cfg *Config) *TxPool {
	mp := &TxPool{
		cfg:     *cfg,
		metrics: newPoolMetrics(cfg.Metrics),
	}
	mp.validator = NewAdmissionValidator(
		&mp.cfg.Policy, cfg.ChainView, cfg.ScriptVerifier,
	)
	mp.sequencer = NewPackageSequencer(&mp.cfg.Policy)
	mp.snapshot.Store(newPoolSnapshot())
	return mp
}

// evaluate runs the package through the sequencer and then every member, in
// order, through the admission validator.  Members admitted earlier are
// visible to later ones through the returned view.
func (mp *TxPool) evaluate(pkg []*btcutil.Tx, opts *AcceptOptions,
	snap *poolSnapshot) ([]*Verdict, *packageView) {

	agg := newResultAggregator(pkg)
	view := newPackageView(snap)

	if errs := mp.sequencer.Sequence(pkg, opts.StrictOrder); errs != nil {
		agg.rejectAll(errs)
		return agg.finish(), view
	}

	for i, tx := range pkg {
		a, err := mp.validator.validate(tx, view, opts)
		if err != nil {
			agg.reject(i, err)
			continue
		}
		view.admit(a.desc, a.evictions)
		agg.admit(i, a)
	}

	return agg.finish(), view
}

// TestAcceptPackage evaluates the package as if it were submitted, without
// changing the pool.  It returns one verdict per member in package order.
// Out of order packages are evaluated leniently unless opts asks for strict
// ordering.
//
// This function is safe for concurrent access.
func (mp *TxPool) TestAcceptPackage(pkg []*btcutil.Tx,
	opts *AcceptOptions) []*Verdict {

	if opts == nil {
		opts = &AcceptOptions{}
	}

	start := time.Now()
	verdicts, _ := mp.evaluate(pkg, opts, mp.snapshot.Load())
	mp.metrics.packages.UpdateSince(start)

	return verdicts
}

// SubmitPackage evaluates the package and commits every admitted member, in
// package order, removing the pool entries they replace.  It returns one
// verdict per member in package order.  Packages are required to be in
// dependency order unless opts says otherwise.
//
// This function is safe for concurrent access.
func (mp *TxPool) SubmitPackage(pkg []*btcutil.Tx,
	opts *AcceptOptions) []*Verdict {

	if opts == nil {
		opts = &AcceptOptions{StrictOrder: true}
	}

	start := time.Now()

	mp.mtx.Lock()
	verdicts, view := mp.evaluate(pkg, opts, mp.snapshot.Load())
	if len(view.order) > 0 {
		mp.snapshot.Store(view.apply())
		mp.lastUpdated.Store(time.Now().Unix())
	}
	mp.mtx.Unlock()

	mp.metrics.record(verdicts, start)

	if len(view.order) > 0 {
		log.Debugf("Committed %d of %d package %s (%d evicted), pool "+
			"size %d", len(view.order), len(pkg),
			pickNoun(len(pkg), "member", "members"),
			len(view.evicted), mp.Count())
	}

	for hash := range view.evicted {
		hash := hash
		mp.sendNotification(NTTxRemoved, &hash)
	}
	for _, desc := range view.order {
		mp.sendNotification(NTTxAccepted, desc)
	}

	return verdicts
}

// TestAcceptTransaction is a convenience wrapper evaluating a single
// transaction as a package of one.
func (mp *TxPool) TestAcceptTransaction(tx *btcutil.Tx,
	opts *AcceptOptions) *Verdict {

	return mp.TestAcceptPackage([]*btcutil.Tx{tx}, opts)[0]
}

// SubmitTransaction is a convenience wrapper submitting a single transaction
// as a package of one.
func (mp *TxPool) SubmitTransaction(tx *btcutil.Tx,
	opts *AcceptOptions) *Verdict {

	return mp.SubmitPackage([]*btcutil.Tx{tx}, opts)[0]
}

// removeLocked drops the given entries from the pool and publishes the
// resulting snapshot.  It returns the hashes actually removed.  The caller
// must hold mp.mtx.
func (mp *TxPool) removeLocked(hashes map[chainhash.Hash]struct{}) []chainhash.Hash {
	if len(hashes) == 0 {
		return nil
	}

	next := mp.snapshot.Load().clone()
	removed := make([]chainhash.Hash, 0, len(hashes))
	for hash := range hashes {
		if next.remove(hash) != nil {
			removed = append(removed, hash)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	mp.snapshot.Store(next)
	mp.lastUpdated.Store(time.Now().Unix())
	return removed
}

// RemoveTransaction removes the passed transaction from the pool.  When the
// removeRedeemers flag is set, any transactions that redeem outputs from the
// removed transaction will also be removed recursively.  This is used when a
// transaction confirms or is otherwise invalidated.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *btcutil.Tx, removeRedeemers bool) {
	mp.mtx.Lock()
	snap := mp.snapshot.Load()
	hashes := map[chainhash.Hash]struct{}{*tx.Hash(): {}}
	if removeRedeemers {
		for hash := range snap.descendants(*tx.Hash()) {
			hashes[hash] = struct{}{}
		}
	}
	removed := mp.removeLocked(hashes)
	mp.mtx.Unlock()

	for i := range removed {
		mp.sendNotification(NTTxRemoved, &removed[i])
	}
}

// RemoveDoubleSpends removes all transactions which spend outputs spent by
// the passed transaction, along with everything that depends on them.  This
// is used when a transaction confirms in a block.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveDoubleSpends(tx *btcutil.Tx) {
	mp.mtx.Lock()
	snap := mp.snapshot.Load()
	hashes := make(map[chainhash.Hash]struct{})
	for _, txIn := range tx.MsgTx().TxIn {
		spender, ok := snap.outpoints[txIn.PreviousOutPoint]
		if !ok || spender.Tx.Hash().IsEqual(tx.Hash()) {
			continue
		}
		hashes[*spender.Tx.Hash()] = struct{}{}
		for hash := range snap.descendants(*spender.Tx.Hash()) {
			hashes[hash] = struct{}{}
		}
	}
	removed := mp.removeLocked(hashes)
	mp.mtx.Unlock()

	for i := range removed {
		mp.sendNotification(NTTxRemoved, &removed[i])
	}
}

// HaveTransaction returns whether or not the passed transaction already
// exists in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	_, ok := mp.snapshot.Load().pool[*hash]
	return ok
}

// FetchTransaction returns the requested transaction from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	if desc, ok := mp.snapshot.Load().pool[*txHash]; ok {
		return desc.Tx, nil
	}

	return nil, fmt.Errorf("transaction is not in the pool")
}

// FetchOutput returns the output referenced by op when it is created by a
// pool transaction and not spent by another one.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchOutput(op wire.OutPoint) *wire.TxOut {
	snap := mp.snapshot.Load()
	if _, spent := snap.outpoints[op]; spent {
		return nil
	}
	return newPackageView(snap).fetchOutput(op)
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	return len(mp.snapshot.Load().pool)
}

// TxHashes returns a slice of hashes for all of the transactions in the
// pool, sorted.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	snap := mp.snapshot.Load()
	hashList := make([]*chainhash.Hash, 0, len(snap.pool))
	for hash := range snap.pool {
		hash := hash
		hashList = append(hashList, &hash)
	}
	sort.Slice(hashList, func(i, j int) bool {
		return bytes.Compare(hashList[i][:], hashList[j][:]) < 0
	})

	return hashList
}

// TxDescs returns a slice of descriptors for all the transactions in the
// pool, oldest first.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	snap := mp.snapshot.Load()
	descs := make([]*TxDesc, 0, len(snap.pool))
	for _, desc := range snap.pool {
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool {
		if !descs[i].Added.Equal(descs[j].Added) {
			return descs[i].Added.Before(descs[j].Added)
		}
		return bytes.Compare(descs[i].Tx.Hash()[:],
			descs[j].Tx.Hash()[:]) < 0
	})

	return descs
}

// Summary returns aggregate statistics about the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Summary() PoolSummary {
	snap := mp.snapshot.Load()
	summary := PoolSummary{
		Count:       len(snap.pool),
		MinRelayFee: mp.validator.MinRelayFee(),
	}
	for _, desc := range snap.pool {
		summary.TotalVSize += desc.VSize
		summary.TotalFees += desc.Fee
		summary.Usage += txDescMemUsage(desc)
		if summary.MinFeeRate == 0 || desc.FeePerKB < summary.MinFeeRate {
			summary.MinFeeRate = desc.FeePerKB
		}
	}
	return summary
}

// LastUpdated returns the last time a transaction was added to or removed
// from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(mp.lastUpdated.Load(), 0)
}

// MinRelayFee returns the effective minimum relay fee rate.
func (mp *TxPool) MinRelayFee() btcutil.Amount {
	return mp.validator.MinRelayFee()
}

// SetMinRelayFee raises the effective minimum relay fee rate.  It never goes
// below the configured policy.
func (mp *TxPool) SetMinRelayFee(rate btcutil.Amount) {
	mp.validator.SetMinRelayFee(rate)
	log.Infof("Minimum relay fee rate set to %v/kvB", mp.MinRelayFee())
}

// Metrics returns the current admission counters keyed by metric name.
func (mp *TxPool) Metrics() map[string]int64 {
	return mp.metrics.Snapshot()
}
