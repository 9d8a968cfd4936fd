// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/pkgrelay/database/engine"
	"github.com/btcsuite/pkgrelay/feefilter"
	"github.com/btcsuite/pkgrelay/internal/log"
	"github.com/btcsuite/pkgrelay/mempool"
	"github.com/btcsuite/pkgrelay/rpcserver"
	"github.com/btcsuite/pkgrelay/sampleconfig"
	flags "github.com/jessevdk/go-flags"

	// Storage engine backends.
	_ "github.com/btcsuite/pkgrelay/database/engine/leveldb"
	_ "github.com/btcsuite/pkgrelay/database/engine/pebbledb"
)

const (
	defaultConfigFilename   = "pkgrelayd.conf"
	defaultDataDirname      = "data"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "pkgrelayd.log"
	defaultLogLevel         = "info"
	defaultDbType           = "leveldb"
	defaultMaxMempoolMB     = 300
	defaultScriptCacheSize  = mempool.DefaultScriptCacheSize
	defaultSigCacheMaxSize  = 100000
	defaultMaxLogRolls      = 3
	defaultLogRotateSizeKiB = 10 * 1024
)

var (
	defaultHomeDir    = btcutil.AppDataDir("pkgrelayd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for pkgrelayd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	DbType      string `long:"dbtype" description:"Storage engine for the confirmed output set"`

	TestNet3       bool `long:"testnet" description:"Use the test network"`
	RegressionTest bool `long:"regtest" description:"Use the regression test network"`
	SimNet         bool `long:"simnet" description:"Use the simulation test network"`

	RPCUser      string   `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass      string   `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RPCListeners []string `long:"rpclisten" description:"Add an interface/port to listen for RPC connections (default port: 8335, testnet: 18335)"`
	MaxFeeRate   float64  `long:"maxfeerate" description:"Default fee rate ceiling in BTC/kvB for RPC submissions"`

	MinRelayTxFee        float64 `long:"minrelaytxfee" description:"The minimum transaction fee in BTC/kvB to be admitted"`
	IncrementalRelayFee  float64 `long:"incrementalrelayfee" description:"The fee rate in BTC/kvB a replacement pays on top of what it evicts"`
	MaxFee               float64 `long:"maxfee" description:"Absolute fee ceiling in BTC, 0 disables the check"`
	RejectReplacement    bool    `long:"rejectreplacement" description:"Reject transactions that conflict with the pool"`
	MaxPackageCount      int     `long:"maxpackagecount" description:"Maximum number of transactions in a package"`
	MaxPackageWeight     int64   `long:"maxpackageweight" description:"Maximum total weight of a package"`
	RejectNonStd         bool    `long:"rejectnonstd" description:"Reject non-standard transactions regardless of the default settings for the active network."`
	RelayNonStd          bool    `long:"relaynonstd" description:"Relay non-standard transactions regardless of the default settings for the active network."`
	LimitAncestorCount   int     `long:"limitancestorcount" description:"Maximum number of unconfirmed ancestors of a transaction, itself included"`
	LimitDescendantCount int     `long:"limitdescendantcount" description:"Maximum number of unconfirmed descendants of a pool transaction, itself included"`
	ScriptCacheSize      uint    `long:"scriptcachesize" description:"The maximum number of successful script verifications to remember"`
	SigCacheMaxSize      uint    `long:"sigcachemaxsize" description:"The maximum number of entries in the signature verification cache"`

	Synced            bool          `long:"synced" description:"Start as if the node were synced"`
	MaxMempool        uint64        `long:"maxmempool" description:"Pool memory usage in MB after which the fee filter follows the pool"`
	MaxFeeFilter      int64         `long:"maxfeefilter" description:"Fee filter in sat/kvB announced while syncing"`
	FeeFilterInterval time.Duration `long:"feefilterinterval" description:"Interval between fee filter recomputations"`

	// The fields below are derived from the options above.
	params *params
	policy mempool.PolicyConfig
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range engine.SupportedDrivers() {
		if dbType == knownType {
			return true
		}
	}
	return false
}

// normalizeAddresses returns a new slice with all the passed addresses
// normalized with the given default port and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	result := make([]string, 0, len(addrs))
	seen := make(map[string]struct{})
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		if _, ok := seen[addr]; !ok {
			result = append(result, addr)
			seen[addr] = struct{}{}
		}
	}
	return result
}

// parseAmount converts a BTC denominated option to an amount, refusing
// negative and non-finite values.
func parseAmount(option string, value float64) (btcutil.Amount, error) {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("the %s option must be a non-negative "+
			"number -- parsed [%v]", option, value)
	}
	amt, err := btcutil.NewAmount(value)
	if err != nil {
		return 0, fmt.Errorf("the %s option is invalid: %w", option, err)
	}
	return amt, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// createDefaultConfigFile writes the sample configuration to destPath.
func createDefaultConfigFile(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.FileContents), 0600)
}

// errShowVersion is returned by loadConfig when the version flag was given.
var errShowVersion = errors.New("show version")

// errShowSubsystems is returned by loadConfig when the subsystems were
// requested through --debuglevel=show.
var errShowSubsystems = errors.New("show subsystems")

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in pkgrelayd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	policy := mempool.DefaultPolicyConfig()
	cfg := config{
		ConfigFile:           defaultConfigFile,
		DataDir:              defaultDataDir,
		LogDir:               defaultLogDir,
		DebugLevel:           defaultLogLevel,
		DbType:               defaultDbType,
		MaxFeeRate:           rpcserver.DefaultMaxFeeRate,
		MinRelayTxFee:        policy.MinRelayTxFee.ToBTC(),
		IncrementalRelayFee:  policy.IncrementalRelayFee.ToBTC(),
		MaxFee:               policy.MaxFee.ToBTC(),
		MaxPackageCount:      policy.MaxPackageCount,
		MaxPackageWeight:     policy.MaxPackageWeight,
		LimitAncestorCount:   policy.MaxAncestorCount,
		LimitDescendantCount: policy.MaxDescendantCount,
		ScriptCacheSize:      defaultScriptCacheSize,
		SigCacheMaxSize:      defaultSigCacheMaxSize,
		MaxMempool:           defaultMaxMempoolMB,
		MaxFeeFilter:         feefilter.DefaultMaxFeeFilter,
		FeeFilterInterval:    feefilter.DefaultRecomputeInterval,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}
	if preCfg.ShowVersion {
		return &preCfg, nil, errShowVersion
	}

	// Create the sample config file when the default one is missing.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(defaultConfigFile) {
		if err := createDefaultConfigFile(defaultConfigFile); err != nil {
			log.AdmdLog.Warnf("Error creating a default config file: %v",
				err)
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.HelpFlag)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			return nil, nil, err
		}
		log.AdmdLog.Warnf("%v", err)
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, remainingArgs, nil
}

// validate checks the parsed options and fills in the derived fields.
func (cfg *config) validate() error {
	const funcName = "loadConfig"

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	cfg.params = &mainNetParams
	if cfg.TestNet3 {
		numNets++
		cfg.params = &testNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		cfg.params = &regressionNetParams
	}
	if cfg.SimNet {
		numNets++
		cfg.params = &simNetParams
	}
	if numNets > 1 {
		return fmt.Errorf("%s: the testnet, regtest and simnet params "+
			"can't be used together -- choose one of the three",
			funcName)
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		return errShowSubsystems
	}

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return fmt.Errorf("%s: %w", funcName, err)
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		return fmt.Errorf("%s: the specified database type [%v] is "+
			"invalid -- supported types %v", funcName, cfg.DbType,
			engine.SupportedDrivers())
	}

	// The RPC server refuses to run without credentials.
	if cfg.RPCUser == "" || cfg.RPCPass == "" {
		return fmt.Errorf("%s: the rpcuser and rpcpass options are "+
			"required", funcName)
	}

	// Validate the fee options.
	var err error
	cfg.policy = mempool.DefaultPolicyConfig()
	cfg.policy.RejectReplacement = cfg.RejectReplacement
	cfg.policy.MinRelayTxFee, err = parseAmount("minrelaytxfee",
		cfg.MinRelayTxFee)
	if err != nil {
		return fmt.Errorf("%s: %w", funcName, err)
	}
	cfg.policy.IncrementalRelayFee, err = parseAmount("incrementalrelayfee",
		cfg.IncrementalRelayFee)
	if err != nil {
		return fmt.Errorf("%s: %w", funcName, err)
	}
	cfg.policy.MaxFee, err = parseAmount("maxfee", cfg.MaxFee)
	if err != nil {
		return fmt.Errorf("%s: %w", funcName, err)
	}
	if _, err := parseAmount("maxfeerate", cfg.MaxFeeRate); err != nil {
		return fmt.Errorf("%s: %w", funcName, err)
	}

	// Validate the package limits.
	if cfg.MaxPackageCount < 1 || cfg.MaxPackageCount > mempool.MaxPackageCount {
		return fmt.Errorf("%s: the maxpackagecount option must be in "+
			"the range [1, %d] -- parsed [%d]", funcName,
			mempool.MaxPackageCount, cfg.MaxPackageCount)
	}
	if cfg.MaxPackageWeight < 1 {
		return fmt.Errorf("%s: the maxpackageweight option must be "+
			"positive -- parsed [%d]", funcName, cfg.MaxPackageWeight)
	}
	cfg.policy.MaxPackageCount = cfg.MaxPackageCount
	cfg.policy.MaxPackageWeight = cfg.MaxPackageWeight

	// Validate the chain limits.  A package is a chain, so the limits may
	// not be below the package count.
	if cfg.LimitAncestorCount < cfg.MaxPackageCount {
		return fmt.Errorf("%s: the limitancestorcount option may not "+
			"be less than maxpackagecount -- parsed [%d]", funcName,
			cfg.LimitAncestorCount)
	}
	if cfg.LimitDescendantCount < cfg.MaxPackageCount {
		return fmt.Errorf("%s: the limitdescendantcount option may "+
			"not be less than maxpackagecount -- parsed [%d]",
			funcName, cfg.LimitDescendantCount)
	}
	cfg.policy.MaxAncestorCount = cfg.LimitAncestorCount
	cfg.policy.MaxDescendantCount = cfg.LimitDescendantCount

	// Set the default policy for relaying non-standard transactions
	// according to the default of the active network.  The set
	// configuration value takes precedence over the default value for the
	// selected network.
	relayNonStd := cfg.params.RelayNonStdTxs
	switch {
	case cfg.RelayNonStd && cfg.RejectNonStd:
		return fmt.Errorf("%s: rejectnonstd and relaynonstd cannot be "+
			"used together -- choose only one", funcName)
	case cfg.RejectNonStd:
		relayNonStd = false
	case cfg.RelayNonStd:
		relayNonStd = true
	}
	cfg.RelayNonStd = relayNonStd
	cfg.policy.AcceptNonStd = relayNonStd

	// Validate the fee filter options.
	if cfg.MaxFeeFilter < 1 {
		return fmt.Errorf("%s: the maxfeefilter option must be "+
			"positive -- parsed [%d]", funcName, cfg.MaxFeeFilter)
	}
	if cfg.FeeFilterInterval < time.Second {
		return fmt.Errorf("%s: the feefilterinterval option may not be "+
			"less than 1s -- parsed [%v]", funcName,
			cfg.FeeFilterInterval)
	}

	// Append the network type to the data and log directories so they
	// are "namespaced" per network.
	cfg.DataDir = filepath.Join(cleanAndExpandPath(cfg.DataDir),
		cfg.params.Name)
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir),
		cfg.params.Name)

	// Default to listening on localhost only.
	if len(cfg.RPCListeners) == 0 {
		cfg.RPCListeners = []string{"localhost"}
	}
	cfg.RPCListeners = normalizeAddresses(cfg.RPCListeners,
		cfg.params.rpcPort)

	return nil
}
