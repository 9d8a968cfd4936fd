// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcserver exposes the package admission pool over JSON-RPC and
// serves peer sessions that receive fee filter announcements over websockets.
package rpcserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/pkgrelay/chainview"
	"github.com/btcsuite/pkgrelay/feefilter"
	"github.com/btcsuite/pkgrelay/mempool"
)

const (
	// maxRequestSize is the largest accepted request body.
	maxRequestSize = 1 << 24

	// DefaultMaxFeeRate is the fee rate ceiling in BTC/kvB applied when a
	// request does not name one.
	DefaultMaxFeeRate = 0.10
)

// TxPool is the admission pool the server drives.  mempool.TxPool implements
// it.
type TxPool interface {
	mempool.TxSource

	TestAcceptPackage(pkg []*btcutil.Tx,
		opts *mempool.AcceptOptions) []*mempool.Verdict
	SubmitPackage(pkg []*btcutil.Tx,
		opts *mempool.AcceptOptions) []*mempool.Verdict
	RemoveTransaction(tx *btcutil.Tx, removeRedeemers bool)
	RemoveDoubleSpends(tx *btcutil.Tx)
	Metrics() map[string]int64
}

// FeeFilterManager tracks the fee filter of peer sessions.
// feefilter.Manager implements it.
type FeeFilterManager interface {
	NewPeer(id feefilter.PeerID)
	DonePeer(id feefilter.PeerID)
	SetSyncState(synced bool)
	IsSynced() bool
	Recompute()
	PeerFilter(id feefilter.PeerID) (feefilter.PeerFilter, bool)
}

// ChainStore is the confirmed output set.  chainview.Store implements it.
type ChainStore interface {
	ConnectTransactions(height int32, txns []*btcutil.Tx) error
	Stats() (*chainview.SetStats, error)
}

// Config is a configuration struct used to initialize a new server.
type Config struct {
	// Listeners defines a slice of listeners for which the RPC server will
	// take ownership of and accept connections.  Since the RPC server takes
	// ownership of these listeners, they will be closed when the RPC server
	// is stopped.
	Listeners []net.Listener

	// RPCUser and RPCPass are the HTTP basic auth credentials every
	// request must carry.
	RPCUser string
	RPCPass string

	// ChainParams identifies the network peer sessions speak.
	ChainParams *chaincfg.Params

	TxPool    TxPool
	Chain     ChainStore
	FeeFilter FeeFilterManager

	// Sessions holds the websocket peer sessions.  It is the PeerNotifier
	// of FeeFilter.
	Sessions *PeerSessions

	// MaxFeeRate is the default fee rate ceiling in BTC/kvB.
	// DefaultMaxFeeRate is used when zero.
	MaxFeeRate float64

	// DebugLevel changes the logging levels.  It backs the debuglevel
	// command and may be nil.
	DebugLevel func(levelSpec string) (string, error)

	// RequestShutdown is invoked by the stop command.  It may be nil.
	RequestShutdown func()
}

// Server provides a JSON-RPC interface to the admission pool and the fee
// filter peer sessions.
type Server struct {
	started  int32
	shutdown int32
	cfg      Config
	authsha  [sha256.Size]byte
	http     *http.Server
	wg       sync.WaitGroup
	quit     chan struct{}
}

// commandHandler describes a callback function used to handle a specific
// command.
type commandHandler func(*Server, *btcjson.Request, <-chan struct{}) (interface{}, error)

// rpcHandlers maps RPC command strings to appropriate handler functions.
// This is set by init because help references rpcHandlers and thus causes
// a dependency loop.
var rpcHandlers map[string]commandHandler
var rpcHandlersBeforeInit = map[string]commandHandler{
	"connecttransactions": handleConnectTransactions,
	"debuglevel":          handleDebugLevel,
	"getmempoolinfo":      handleGetMempoolInfo,
	"getpeerfeefilters":   handleGetPeerFeeFilters,
	"gettxoutsetinfo":     handleGetTxOutSetInfo,
	"help":                handleHelp,
	"sendrawtransaction":  handleSendRawTransaction,
	"setsyncstate":        handleSetSyncState,
	"stop":                handleStop,
	"submitpackage":       handleSubmitPackage,
	"testmempoolaccept":   handleTestMempoolAccept,
}

func init() {
	rpcHandlers = rpcHandlersBeforeInit
}

// New returns a new server using the provided configuration.  Use Start to
// begin serving the configured listeners.
func New(cfg *Config) (*Server, error) {
	if cfg.TxPool == nil || cfg.FeeFilter == nil || cfg.Sessions == nil {
		return nil, errors.New("rpcserver: pool, fee filter manager " +
			"and sessions are required")
	}
	if cfg.RPCUser == "" || cfg.RPCPass == "" {
		return nil, errors.New("rpcserver: credentials are required")
	}

	s := &Server{
		cfg:  *cfg,
		quit: make(chan struct{}),
	}
	if s.cfg.ChainParams == nil {
		s.cfg.ChainParams = &chaincfg.MainNetParams
	}
	if s.cfg.MaxFeeRate == 0 {
		s.cfg.MaxFeeRate = DefaultMaxFeeRate
	}
	login := cfg.RPCUser + ":" + cfg.RPCPass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	s.authsha = sha256.Sum256([]byte(auth))
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler serving JSON-RPC requests on / and peer
// sessions on /feefilter.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkAuth(r); err != nil {
			jsonAuthFail(w)
			return
		}
		w.Header().Set("Connection", "close")
		s.jsonRPCRead(w, r)
	})
	mux.HandleFunc("/feefilter", func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkAuth(r); err != nil {
			jsonAuthFail(w)
			return
		}
		s.handlePeerSession(w, r)
	})
	return mux
}

// Start is used by the daemon to start the rpc listeners.
func (s *Server) Start() {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	log.Trace("Starting RPC server")
	for _, listener := range s.cfg.Listeners {
		s.wg.Add(1)
		go func(listener net.Listener) {
			log.Infof("RPC server listening on %s", listener.Addr())
			err := s.http.Serve(listener)
			if !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("RPC listener %s failed: %v",
					listener.Addr(), err)
			}
			log.Tracef("RPC listener done for %s", listener.Addr())
			s.wg.Done()
		}(listener)
	}
}

// Stop is used by the daemon to stop the rpc listeners.  Peer sessions are
// closed as well.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		log.Infof("RPC server is already in the process of shutting down")
		return nil
	}
	log.Warnf("RPC server shutting down")
	close(s.quit)
	err := s.http.Close()
	if err != nil {
		log.Errorf("Problem shutting down rpc: %v", err)
	}
	s.wg.Wait()
	log.Infof("RPC server shutdown complete")
	return err
}

// checkAuth checks the HTTP Basic authentication supplied by a client in the
// HTTP request r.  If the supplied authentication does not match the username
// and password expected, a non-nil error is returned.
//
// This check is time-constant.
func (s *Server) checkAuth(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		log.Warnf("Auth failure from %s", r.RemoteAddr)
		return errors.New("auth failure")
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp != 1 {
		log.Warnf("Auth failure from %s", r.RemoteAddr)
		return errors.New("auth failure")
	}
	return nil
}

// jsonAuthFail sends a message back to the client if the http auth is
// rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="pkgrelayd RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// jsonRPCRead handles reading and responding to RPC messages.
func (s *Server) jsonRPCRead(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shutdown) != 0 {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		errCode := http.StatusBadRequest
		http.Error(w, fmt.Sprintf("%d error reading JSON message: %v",
			errCode, err), errCode)
		return
	}

	var (
		request btcjson.Request
		result  interface{}
		jsonErr *btcjson.RPCError
	)
	if err := json.Unmarshal(body, &request); err != nil {
		jsonErr = &btcjson.RPCError{
			Code:    btcjson.ErrRPCParse.Code,
			Message: "Failed to parse request: " + err.Error(),
		}
	} else {
		result, jsonErr = s.standardCmdResult(&request)
	}

	version := request.Jsonrpc
	if !version.IsValid() {
		version = btcjson.RpcVersion1
	}
	reply, err := btcjson.MarshalResponse(version, request.ID, result,
		jsonErr)
	if err != nil {
		log.Errorf("Failed to marshal reply: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(reply); err != nil {
		log.Errorf("Failed to write reply: %v", err)
	}
}

// standardCmdResult runs the handler of request.
func (s *Server) standardCmdResult(request *btcjson.Request) (interface{},
	*btcjson.RPCError) {

	handler, ok := rpcHandlers[request.Method]
	if !ok {
		return nil, btcjson.ErrRPCMethodNotFound
	}

	log.Debugf("Received command <%s>", request.Method)
	result, err := handler(s, request, s.quit)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInternal.Code,
			Message: err.Error(),
		}
	}
	return result, nil
}

// unmarshalParam decodes the parameter at idx into v.  A missing optional
// parameter leaves v untouched.
func unmarshalParam(request *btcjson.Request, idx int, name string,
	v interface{}, required bool) error {

	if idx >= len(request.Params) || string(request.Params[idx]) == "null" {
		if required {
			return &btcjson.RPCError{
				Code: btcjson.ErrRPCInvalidParams.Code,
				Message: fmt.Sprintf("missing parameter %q",
					name),
			}
		}
		return nil
	}
	if err := json.Unmarshal(request.Params[idx], v); err != nil {
		return &btcjson.RPCError{
			Code: btcjson.ErrRPCInvalidParams.Code,
			Message: fmt.Sprintf("invalid parameter %q: %v", name,
				err),
		}
	}
	return nil
}

// checkParamCount rejects requests with more than max parameters.
func checkParamCount(request *btcjson.Request, max int) error {
	if len(request.Params) > max {
		return &btcjson.RPCError{
			Code: btcjson.ErrRPCInvalidParams.Code,
			Message: fmt.Sprintf("wrong number of params (expected "+
				"at most %d, received %d)", max,
				len(request.Params)),
		}
	}
	return nil
}

// rpcDecodeHexError is a convenience function for returning a nicely formatted
// RPC error which indicates the provided hex string failed to decode.
func rpcDecodeHexError(gotHex string) *btcjson.RPCError {
	return btcjson.NewRPCError(btcjson.ErrRPCDecodeHexString,
		fmt.Sprintf("Argument must be hexadecimal string (not %q)",
			gotHex))
}

// internalRPCError is a convenience function to convert an internal error to
// an RPC error with the appropriate code set.  It also logs the error to the
// RPC server subsystem since internal errors really should not occur.
func internalRPCError(errStr, context string) *btcjson.RPCError {
	logStr := errStr
	if context != "" {
		logStr = context + ": " + errStr
	}
	log.Error(logStr)
	return btcjson.NewRPCError(btcjson.ErrRPCInternal.Code, errStr)
}

// hashStrings returns the string form of hashes.
func hashStrings(hashes []chainhash.Hash) []string {
	if len(hashes) == 0 {
		return nil
	}
	strs := make([]string, len(hashes))
	for i := range hashes {
		strs[i] = hashes[i].String()
	}
	return strs
}
