// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// params is used to group parameters for various networks such as the main
// network and test networks.
type params struct {
	*chaincfg.Params
	rpcPort string
}

// mainNetParams contains parameters specific to the main network
// (wire.MainNet).
var mainNetParams = params{
	Params:  &chaincfg.MainNetParams,
	rpcPort: "8335",
}

// regressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var regressionNetParams = params{
	Params:  &chaincfg.RegressionNetParams,
	rpcPort: "18445",
}

// testNet3Params contains parameters specific to the test network (version 3)
// (wire.TestNet3).
var testNet3Params = params{
	Params:  &chaincfg.TestNet3Params,
	rpcPort: "18335",
}

// simNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var simNetParams = params{
	Params:  &chaincfg.SimNetParams,
	rpcPort: "18557",
}
