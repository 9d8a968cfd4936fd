// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/pkgrelay/chainview"
	"github.com/btcsuite/pkgrelay/database/engine"
	"github.com/btcsuite/pkgrelay/feefilter"
	"github.com/btcsuite/pkgrelay/internal/log"
	"github.com/btcsuite/pkgrelay/internal/version"
	"github.com/btcsuite/pkgrelay/mempool"
	"github.com/btcsuite/pkgrelay/rpcserver"
	"github.com/davecgh/go-spew/spew"
	"github.com/rcrowley/go-metrics"
)

// dbNamePrefix is the prefix for the confirmed output set database name.  The
// database type is appended to this value to form the full name.
const dbNamePrefix = "outputs"

// logClosure is used to provide a closure over expensive logging operations so
// they don't have to be performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// openStore opens the confirmed output set, creating it when missing.
func openStore(cfg *config) (engine.Engine, error) {
	dbPath := filepath.Join(cfg.DataDir, dbNamePrefix+"_"+cfg.DbType)
	log.AdmdLog.Infof("Loading confirmed output set from '%s'", dbPath)
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	return engine.Open(cfg.DbType, dbPath)
}

// newScriptVerifier returns the engine verifier for standard flags behind the
// script cache.
func newScriptVerifier(cfg *config) (mempool.ScriptVerifier, error) {
	flags := txscript.StandardVerifyFlags
	sigCache := txscript.NewSigCache(cfg.SigCacheMaxSize)
	return mempool.NewCachingVerifier(
		mempool.NewEngineVerifier(flags, sigCache), flags,
		cfg.ScriptCacheSize,
	)
}

// logPoolEvent logs a pool notification.
func logPoolEvent(n *mempool.Notification) {
	switch n.Type {
	case mempool.NTTxAccepted:
		desc, ok := n.Data.(*mempool.TxDesc)
		if !ok {
			return
		}
		log.AdmdLog.Debugf("Accepted transaction %v (fee %v)",
			desc.Tx.Hash(), desc.Fee)
		log.AdmdLog.Tracef("%v", logClosure(func() string {
			return spew.Sdump(desc.Tx.MsgTx())
		}))

	case mempool.NTTxRemoved:
		if hash, ok := n.Data.(*chainhash.Hash); ok {
			log.AdmdLog.Debugf("Removed transaction %v", hash)
		}
	}
}

// debugLevel backs the debuglevel RPC.
func debugLevel(levelSpec string) (string, error) {
	if levelSpec == "show" {
		return fmt.Sprintf("Supported subsystems %v",
			log.SupportedSubsystems()), nil
	}
	if err := log.ParseAndSetDebugLevels(levelSpec); err != nil {
		return "", err
	}
	return "Done.", nil
}

// pkgrelaydMain is the real main function for pkgrelayd.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func pkgrelaydMain() error {
	// Load configuration and parse command line.
	cfg, _, err := loadConfig(os.Args[1:])
	switch {
	case errors.Is(err, errShowVersion):
		appName := filepath.Base(os.Args[0])
		appName = strings.TrimSuffix(appName, filepath.Ext(appName))
		fmt.Println(appName, "version", version.String())
		return nil

	case errors.Is(err, errShowSubsystems):
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		return nil

	case err != nil:
		// The help text is carried by the error as well.
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	err = log.InitLogRotator(logFile, defaultLogRotateSizeKiB,
		defaultMaxLogRolls)
	if err != nil {
		return err
	}
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the RPC server.
	interrupt := interruptListener()
	defer log.AdmdLog.Info("Shutdown complete")

	// Show version at startup.
	log.AdmdLog.Infof("Version %s", version.String())
	log.AdmdLog.Infof("Active network: %s", cfg.params.Name)

	db, err := openStore(cfg)
	if err != nil {
		log.AdmdLog.Errorf("%v", err)
		return err
	}
	defer func() {
		log.AdmdLog.Infof("Gracefully shutting down the database...")
		db.Close()
	}()

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	store := chainview.New(db)
	stats, err := store.Stats()
	if err != nil {
		log.AdmdLog.Errorf("%v", err)
		return err
	}
	log.AdmdLog.Infof("Confirmed output set at height %d: %d %s, %v",
		stats.Height, stats.Outputs, pickNoun(stats.Outputs, "output",
			"outputs"), stats.TotalAmount)

	verifier, err := newScriptVerifier(cfg)
	if err != nil {
		log.AdmdLog.Errorf("Unable to create script cache: %v", err)
		return err
	}
	txPool := mempool.New(&mempool.Config{
		Policy:         cfg.policy,
		ChainView:      store,
		ScriptVerifier: verifier,
		Metrics:        metrics.NewRegistry(),
	})
	txPool.Subscribe(logPoolEvent)

	sessions := rpcserver.NewPeerSessions(cfg.params.Net)
	feeFilter := feefilter.New(&feefilter.Config{
		PeerNotifier: sessions,
		Pool:         txPool,
		Policy: feefilter.UsagePolicy(cfg.MaxMempool*1024*1024,
			cfg.policy.IncrementalRelayFee),
		MaxFeeFilter:      cfg.MaxFeeFilter,
		RecomputeInterval: cfg.FeeFilterInterval,
		Synced:            cfg.Synced,
	})
	feeFilter.Start()
	defer feeFilter.Stop()

	listeners := make([]net.Listener, 0, len(cfg.RPCListeners))
	for _, addr := range cfg.RPCListeners {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.AdmdLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	if len(listeners) == 0 {
		err := errors.New("no valid listen address")
		log.AdmdLog.Errorf("Unable to start RPC server: %v", err)
		return err
	}

	server, err := rpcserver.New(&rpcserver.Config{
		Listeners:       listeners,
		RPCUser:         cfg.RPCUser,
		RPCPass:         cfg.RPCPass,
		ChainParams:     cfg.params.Params,
		TxPool:          txPool,
		Chain:           store,
		FeeFilter:       feeFilter,
		Sessions:        sessions,
		MaxFeeRate:      cfg.MaxFeeRate,
		DebugLevel:      debugLevel,
		RequestShutdown: requestShutdown,
	})
	if err != nil {
		for _, listener := range listeners {
			listener.Close()
		}
		log.AdmdLog.Errorf("Unable to start RPC server: %v", err)
		return err
	}
	server.Start()
	defer server.Stop()

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through the RPC server.
	<-interrupt
	return nil
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func main() {
	// Work around defer not working after os.Exit()
	if err := pkgrelaydMain(); err != nil {
		os.Exit(1)
	}
}
