// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainview keeps the confirmed unspent transaction output set in a
// storage engine and serves it to the mempool as its view of the chain.
package chainview

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/pkgrelay/database/engine"
)

var (
	// utxoKeyPrefix is the key prefix of every unspent output entry.
	utxoKeyPrefix = []byte("u")

	// bestHeightKey holds the height of the last connected transactions.
	bestHeightKey = []byte("h")
)

// ErrMissingOutput is returned by ConnectTransactions when a transaction
// spends an output that is neither in the set nor created earlier in the same
// call.
var ErrMissingOutput = errors.New("spent output not found")

// outpointKeySize is the size of a serialized outpoint key.
const outpointKeySize = 1 + chainhash.HashSize + 4

// Entry is a confirmed unspent output.
type Entry struct {
	TxOut      *wire.TxOut
	Height     int32
	IsCoinBase bool
}

// outpointKey returns the key of an outpoint.  The index is big endian so
// the outputs of a transaction iterate in order.
func outpointKey(op wire.OutPoint) []byte {
	key := make([]byte, outpointKeySize)
	copy(key, utxoKeyPrefix)
	copy(key[1:], op.Hash[:])
	binary.BigEndian.PutUint32(key[1+chainhash.HashSize:], op.Index)
	return key
}

// keyOutpoint decodes a key created by outpointKey.
func keyOutpoint(key []byte) (wire.OutPoint, error) {
	var op wire.OutPoint
	if len(key) != outpointKeySize {
		return op, fmt.Errorf("malformed outpoint key of %d bytes",
			len(key))
	}
	copy(op.Hash[:], key[1:1+chainhash.HashSize])
	op.Index = binary.BigEndian.Uint32(key[1+chainhash.HashSize:])
	return op, nil
}

// serializeEntry encodes an entry as:
//
//	<header code><amount><script>
//
//	Field          Type      Size
//	header code    VarInt    variable  height << 1 | coinbase flag
//	amount         uint64    8
//	script         VarBytes  variable
func serializeEntry(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	code := uint64(entry.Height) << 1
	if entry.IsCoinBase {
		code |= 1
	}
	if err := wire.WriteVarInt(&buf, 0, code); err != nil {
		return nil, err
	}
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], uint64(entry.TxOut.Value))
	buf.Write(amount[:])
	if err := wire.WriteVarBytes(&buf, 0, entry.TxOut.PkScript); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeEntry decodes an entry created by serializeEntry.
func deserializeEntry(serialized []byte) (*Entry, error) {
	r := bytes.NewReader(serialized)
	code, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to decode header code: %w", err)
	}
	var amount [8]byte
	if _, err := io.ReadFull(r, amount[:]); err != nil {
		return nil, fmt.Errorf("unable to decode amount: %w", err)
	}
	script, err := wire.ReadVarBytes(r, 0, txscript.MaxScriptSize,
		"pkScript")
	if err != nil {
		return nil, fmt.Errorf("unable to decode script: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after entry", r.Len())
	}
	return &Entry{
		TxOut: wire.NewTxOut(
			int64(binary.LittleEndian.Uint64(amount[:])), script,
		),
		Height:     int32(code >> 1),
		IsCoinBase: code&1 == 1,
	}, nil
}

// Store is the confirmed unspent output set kept in a storage engine.  It
// implements mempool.ChainView.
type Store struct {
	// connectMtx serializes ConnectTransactions so each call sees the
	// state left by the previous one.
	connectMtx sync.Mutex
	db         engine.Engine
}

// New returns a store on top of db.  The store does not own db.
func New(db engine.Engine) *Store {
	return &Store{db: db}
}

// FetchEntry returns the unspent output referenced by op, or nil when it does
// not exist.
func (s *Store) FetchEntry(op wire.OutPoint) (*Entry, error) {
	snap, err := s.db.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	return fetchEntry(snap, op)
}

// fetchEntry loads the entry of op from snap.
func fetchEntry(snap engine.Snapshot, op wire.OutPoint) (*Entry, error) {
	serialized, err := snap.Get(outpointKey(op))
	if errors.Is(err, engine.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry, err := deserializeEntry(serialized)
	if err != nil {
		return nil, fmt.Errorf("corrupt entry for %v: %w", op, err)
	}
	return entry, nil
}

// FetchOutput returns the unspent output referenced by op, or nil when it
// does not exist or is spent.
func (s *Store) FetchOutput(op wire.OutPoint) (*wire.TxOut, error) {
	entry, err := s.FetchEntry(op)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.TxOut, nil
}

// BestHeight returns the height of the last connected transactions, or -1
// when nothing was connected yet.
func (s *Store) BestHeight() (int32, error) {
	snap, err := s.db.Snapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Release()

	serialized, err := snap.Get(bestHeightKey)
	if errors.Is(err, engine.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(serialized) != 4 {
		return 0, fmt.Errorf("malformed best height of %d bytes",
			len(serialized))
	}
	return int32(binary.LittleEndian.Uint32(serialized)), nil
}

// ConnectTransactions applies txns, confirmed at height, to the set: every
// spent output is removed and every spendable output is added.  Transactions
// may spend outputs created earlier in txns.  Either all of txns is applied
// or nothing is.
func (s *Store) ConnectTransactions(height int32, txns []*btcutil.Tx) error {
	s.connectMtx.Lock()
	defer s.connectMtx.Unlock()

	snap, err := s.db.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	dbTx, err := s.db.Transaction()
	if err != nil {
		return err
	}
	defer dbTx.Discard()

	created := make(map[wire.OutPoint]struct{})
	spentOps := make(map[wire.OutPoint]struct{})
	var spent, added int
	for _, tx := range txns {
		isCoinBase := blockchain.IsCoinBase(tx)
		if !isCoinBase {
			for _, txIn := range tx.MsgTx().TxIn {
				op := txIn.PreviousOutPoint
				if _, ok := spentOps[op]; ok {
					return fmt.Errorf("%w: %v spent twice by %v",
						ErrMissingOutput, op, tx.Hash())
				}
				spentOps[op] = struct{}{}
				if _, ok := created[op]; ok {
					delete(created, op)
				} else {
					has, err := snap.Has(outpointKey(op))
					if err != nil {
						return err
					}
					if !has {
						return fmt.Errorf("%w: %v spent by %v",
							ErrMissingOutput, op,
							tx.Hash())
					}
				}
				if err := dbTx.Delete(outpointKey(op)); err != nil {
					return err
				}
				spent++
			}
		}

		for i, txOut := range tx.MsgTx().TxOut {
			if txscript.IsUnspendable(txOut.PkScript) {
				continue
			}
			op := wire.OutPoint{Hash: *tx.Hash(), Index: uint32(i)}
			serialized, err := serializeEntry(&Entry{
				TxOut:      txOut,
				Height:     height,
				IsCoinBase: isCoinBase,
			})
			if err != nil {
				return err
			}
			if err := dbTx.Put(outpointKey(op), serialized); err != nil {
				return err
			}
			created[op] = struct{}{}
			added++
		}
	}

	var heightBytes [4]byte
	binary.LittleEndian.PutUint32(heightBytes[:], uint32(height))
	if err := dbTx.Put(bestHeightKey, heightBytes[:]); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}

	log.Debugf("Connected %d %s at height %d (%d spent, %d added)",
		len(txns), pickNoun(len(txns), "transaction", "transactions"),
		height, spent, added)
	return nil
}

// ForEach calls fn for every unspent output in outpoint order.  Iteration
// stops at the first error returned by fn.
func (s *Store) ForEach(fn func(op wire.OutPoint, entry *Entry) error) error {
	snap, err := s.db.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	iter := snap.NewIterator(engine.BytesPrefix(utxoKeyPrefix))
	defer iter.Release()

	for iter.Next() {
		op, err := keyOutpoint(iter.Key())
		if err != nil {
			return err
		}
		entry, err := deserializeEntry(iter.Value())
		if err != nil {
			return fmt.Errorf("corrupt entry for %v: %w", op, err)
		}
		if err := fn(op, entry); err != nil {
			return err
		}
	}
	return iter.Error()
}

// SetStats summarizes the unspent output set.
type SetStats struct {
	Height      int32
	Outputs     int64
	TotalAmount btcutil.Amount
}

// Stats walks the set and returns its summary.
func (s *Store) Stats() (*SetStats, error) {
	height, err := s.BestHeight()
	if err != nil {
		return nil, err
	}
	stats := &SetStats{Height: height}
	err = s.ForEach(func(_ wire.OutPoint, entry *Entry) error {
		stats.Outputs++
		stats.TotalAmount += btcutil.Amount(entry.TxOut.Value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
