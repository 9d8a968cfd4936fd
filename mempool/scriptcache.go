// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/lru"
)

// DefaultScriptCacheSize is the default number of successfully verified
// transactions remembered by a CachingVerifier.
const DefaultScriptCacheSize = 50000

// CachingVerifier wraps a ScriptVerifier and remembers which transactions
// already passed verification under a given set of script flags, so a
// transaction evaluated by a dry run and then submitted only pays for its
// scripts once.
//
// Entries are keyed by a salted hash of the wtxid and the flags.  The wtxid
// commits to every input outpoint and the outputs those reference never
// change, so a hit is only possible for an identical verification.  Failures
// are never cached.
type CachingVerifier struct {
	verifier ScriptVerifier
	flags    txscript.ScriptFlags
	nonce    [32]byte
	cache    lru.Cache

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Ensure CachingVerifier implements the ScriptVerifier interface.
var _ ScriptVerifier = (*CachingVerifier)(nil)

// NewCachingVerifier returns a verifier that consults a cache of size entries
// before delegating to verifier.
func NewCachingVerifier(verifier ScriptVerifier, flags txscript.ScriptFlags,
	size uint) (*CachingVerifier, error) {

	if size == 0 {
		size = DefaultScriptCacheSize
	}
	c := &CachingVerifier{
		verifier: verifier,
		flags:    flags,
		cache:    lru.NewCache(size),
	}
	if _, err := rand.Read(c.nonce[:]); err != nil {
		return nil, err
	}
	return c, nil
}

// cacheKey returns sha256(nonce || wtxid || flags).
func (c *CachingVerifier) cacheKey(tx *btcutil.Tx) chainhash.Hash {
	var buf [32 + chainhash.HashSize + 4]byte
	copy(buf[:32], c.nonce[:])
	copy(buf[32:], tx.WitnessHash()[:])
	binary.LittleEndian.PutUint32(buf[32+chainhash.HashSize:],
		uint32(c.flags))
	return chainhash.HashH(buf[:])
}

// VerifyScripts returns immediately for transactions that already passed and
// otherwise delegates to the wrapped verifier.
//
// This is part of the ScriptVerifier interface.
func (c *CachingVerifier) VerifyScripts(tx *btcutil.Tx,
	prevOuts []*wire.TxOut) error {

	key := c.cacheKey(tx)
	if c.cache.Contains(key) {
		c.hits.Add(1)
		log.Tracef("Script cache hit for %v", tx.Hash())
		return nil
	}
	c.misses.Add(1)

	if err := c.verifier.VerifyScripts(tx, prevOuts); err != nil {
		return err
	}
	c.cache.Add(key)
	return nil
}

// Stats returns the number of cache hits and misses so far.
func (c *CachingVerifier) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
