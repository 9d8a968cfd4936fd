// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

// FileContents is a string containing the commented example config for
// pkgrelayd.
const FileContents = `[Application Options]

; ------------------------------------------------------------------------------
; Data settings
; ------------------------------------------------------------------------------

; The directory to store the confirmed output set.  The default is
; ~/.pkgrelayd/data on POSIX OSes, $LOCALAPPDATA/Pkgrelayd/data on Windows and
; ~/Library/Application Support/Pkgrelayd/data on macOS.  Environment variables
; are expanded so they may be used.
; datadir=~/.pkgrelayd/data

; Storage engine backing the confirmed output set.  Supported engines are
; leveldb, pebble and memory.  The memory engine keeps nothing across restarts.
; dbtype=leveldb


; ------------------------------------------------------------------------------
; Network settings
; ------------------------------------------------------------------------------

; Use testnet.
; testnet=1

; Use the regression test network.
; regtest=1

; Use the simulation test network.
; simnet=1


; ------------------------------------------------------------------------------
; RPC server options
; ------------------------------------------------------------------------------

; Username and password to authenticate connections to the RPC server and to the
; fee filter peer session endpoint.  Both are required.
; rpcuser=
; rpcpass=

; Specify the interfaces for the RPC server listen on.  One listen address per
; line.  The default port is 8335 on mainnet, 18335 on testnet, 18445 on
; regtest and 18557 on simnet.
; rpclisten=127.0.0.1
; rpclisten=[::1]:8335

; Highest fee rate in BTC/kvB testmempoolaccept, submitpackage and
; sendrawtransaction accept unless the request overrides it.
; maxfeerate=0.10


; ------------------------------------------------------------------------------
; Admission policy
; ------------------------------------------------------------------------------

; Minimum fee rate in BTC/kvB for a transaction to be admitted.
; minrelaytxfee=0.00001

; Fee rate in BTC/kvB a replacement must pay on top of everything it evicts.
; incrementalrelayfee=0.00001

; Absolute fee ceiling in BTC.  Zero disables the check.
; maxfee=0.1

; Reject every transaction conflicting with the pool, regardless of signaling.
; rejectreplacement=1

; Maximum number of transactions and total weight of a package.
; maxpackagecount=25
; maxpackageweight=404000

; Maximum number of unconfirmed ancestors of a transaction and descendants of a
; pool transaction, the transaction itself included.  Neither may be below
; maxpackagecount.
; limitancestorcount=25
; limitdescendantcount=25

; Accept and relay non-standard transactions.  The default depends on the
; network: only the test networks relay them.
; relaynonstd=1
; rejectnonstd=1

; Number of successful script verifications remembered, and signatures kept in
; the signature cache.
; scriptcachesize=50000
; sigcachemaxsize=100000


; ------------------------------------------------------------------------------
; Fee filter
; ------------------------------------------------------------------------------

; Start as if the node were synced.  Otherwise peer sessions are announced the
; maximum fee filter until setsyncstate is called.
; synced=1

; Pool memory usage in megabytes after which the announced fee filter follows
; the lowest fee rate in the pool instead of the minimum relay fee.
; maxmempool=300

; Fee filter in sat/kvB announced while syncing.
; maxfeefilter=9170997

; Interval between recomputations of the announced fee filters.
; feefilterinterval=10m


; ------------------------------------------------------------------------------
; Debug
; ------------------------------------------------------------------------------

; Debug logging level.
; Valid levels are {trace, debug, info, warn, error, critical}
; You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set
; log level for individual subsystems.  Use pkgrelayd --debuglevel=show to list
; available subsystems.
; debuglevel=info

; The directory to store log files.
; logdir=~/.pkgrelayd/logs
`
