// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// MockChainView is a mock implementation of the ChainView interface.
type MockChainView struct {
	mock.Mock
}

// Ensure the MockChainView implements the ChainView interface.
var _ ChainView = (*MockChainView)(nil)

// FetchOutput returns the unspent confirmed output referenced by op.
func (m *MockChainView) FetchOutput(op wire.OutPoint) (*wire.TxOut, error) {
	args := m.Called(op)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wire.TxOut), args.Error(1)
}

// MockScriptVerifier is a mock implementation of the ScriptVerifier
// interface.
type MockScriptVerifier struct {
	mock.Mock
}

// Ensure the MockScriptVerifier implements the ScriptVerifier interface.
var _ ScriptVerifier = (*MockScriptVerifier)(nil)

// VerifyScripts validates every input of tx.
func (m *MockScriptVerifier) VerifyScripts(tx *btcutil.Tx,
	prevOuts []*wire.TxOut) error {

	args := m.Called(tx, prevOuts)
	return args.Error(0)
}
