// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/pkgrelay/mempool"
)

// decodeRawTxns decodes hex encoded transactions into a package.
func decodeRawTxns(rawTxns []string) ([]*btcutil.Tx, error) {
	serialized := make([][]byte, len(rawTxns))
	for i, hexStr := range rawTxns {
		if len(hexStr)%2 != 0 {
			hexStr = "0" + hexStr
		}
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, rpcDecodeHexError(rawTxns[i])
		}
		serialized[i] = raw
	}

	pkg, err := mempool.DecodePackage(serialized)
	if err != nil {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCDeserialization,
			Message: "TX decode failed: " + err.Error(),
		}
	}
	return pkg, nil
}

// rawTxnsParam reads and decodes the transaction list parameter at idx.
func rawTxnsParam(request *btcjson.Request, idx int, name string,
	max int) ([]*btcutil.Tx, error) {

	var rawTxns []string
	if err := unmarshalParam(request, idx, name, &rawTxns, true); err != nil {
		return nil, err
	}
	switch {
	case len(rawTxns) == 0:
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"Array must contain at least one transaction.")

	case max > 0 && len(rawTxns) > max:
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			fmt.Sprintf("Array must contain between 1 and %d "+
				"transactions.", max))
	}
	return decodeRawTxns(rawTxns)
}

// maxFeeRateParam reads the optional fee rate ceiling in BTC/kvB at idx and
// returns it in Satoshi/1000 vbytes.  Zero disables the ceiling.
func (s *Server) maxFeeRateParam(request *btcjson.Request,
	idx int) (btcutil.Amount, error) {

	rate := s.cfg.MaxFeeRate
	if err := unmarshalParam(request, idx, "maxfeerate", &rate,
		false); err != nil {

		return 0, err
	}
	if rate < 0 {
		return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"maxfeerate cannot be negative")
	}

	// Check the range before converting so huge rates can't overflow.
	if rate > btcutil.Amount(btcutil.MaxSatoshi).ToBTC() {
		return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			fmt.Sprintf("maxfeerate %v exceeds the maximum of %v "+
				"BTC/kvB", rate,
				btcutil.Amount(btcutil.MaxSatoshi).ToBTC()))
	}
	amount, err := btcutil.NewAmount(rate)
	if err != nil {
		return 0, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			fmt.Sprintf("invalid maxfeerate: %v", err))
	}
	return amount, nil
}

// rejectString returns the short reject string of a rejected verdict.  Script
// failures carry the tripped rule and standardness failures are named by the
// rule itself.
func rejectString(v *mempool.Verdict) string {
	reason, ok := v.Reason()
	if !ok {
		return v.Err.Error()
	}
	switch reason {
	case mempool.RejectScriptVerificationFailed:
		return v.Err.Error()

	case mempool.RejectNonStandard:
		var rerr mempool.TxRuleError
		if errors.As(v.Err, &rerr) && rerr.Rule != "" {
			return rerr.Rule
		}
	}
	return reason.String()
}

// packageError returns the package wide failure of verdicts, if any.
func packageError(verdicts []*mempool.Verdict) string {
	for _, v := range verdicts {
		reason, ok := v.Reason()
		if ok && reason.IsPackageShape() && reason !=
			mempool.RejectPackageFailed {

			return reason.String()
		}
	}
	for _, v := range verdicts {
		reason, ok := v.Reason()
		if ok && reason == mempool.RejectPackageFailed {
			return v.Err.Error()
		}
	}
	return ""
}

// handleTestMempoolAccept implements the testmempoolaccept command.  Members
// are evaluated in the given order without requiring dependency order, so an
// out of order child reports missing-inputs.
func handleTestMempoolAccept(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if err := checkParamCount(request, 2); err != nil {
		return nil, err
	}
	pkg, err := rawTxnsParam(request, 0, "rawtxs", mempool.MaxPackageCount)
	if err != nil {
		return nil, err
	}
	maxFeeRate, err := s.maxFeeRateParam(request, 1)
	if err != nil {
		return nil, err
	}

	verdicts := s.cfg.TxPool.TestAcceptPackage(pkg, &mempool.AcceptOptions{
		MaxFeeRate: maxFeeRate,
	})

	pkgErr := packageError(verdicts)
	results := make([]*btcjson.TestMempoolAcceptResult, 0, len(verdicts))
	for _, v := range verdicts {
		result := &btcjson.TestMempoolAcceptResult{
			Txid:         v.TxHash.String(),
			Wtxid:        v.WitnessHash.String(),
			PackageError: pkgErr,
			Allowed:      v.Admitted,
		}
		if v.Admitted {
			result.Vsize = int32(v.VSize)
			result.Fees = &btcjson.TestMempoolAcceptFees{
				Base: v.Fee.ToBTC(),
				EffectiveFeeRate: btcutil.Amount(
					mempool.FeeRatePerKvB(v.Fee, v.VSize),
				).ToBTC(),
			}
		} else {
			result.RejectReason = rejectString(v)
		}
		results = append(results, result)
	}
	return results, nil
}

// submitPackageFees models the fees object of a submitpackage transaction
// result.
type submitPackageFees struct {
	Base             float64 `json:"base"`
	EffectiveFeeRate float64 `json:"effective-feerate"`
}

// submitPackageTxResult models the per transaction result of submitpackage.
type submitPackageTxResult struct {
	TxID  string             `json:"txid"`
	VSize int64              `json:"vsize,omitempty"`
	Fees  *submitPackageFees `json:"fees,omitempty"`
	Error string             `json:"error,omitempty"`
}

// submitPackageResult models the data returned by submitpackage.
type submitPackageResult struct {
	PackageMsg           string                           `json:"package_msg"`
	TxResults            map[string]submitPackageTxResult `json:"tx-results"`
	ReplacedTransactions []string                         `json:"replaced-transactions,omitempty"`
}

// handleSubmitPackage implements the submitpackage command.  The package must
// be in dependency order.  A package failing a package wide check is reported
// as an error since none of its members were evaluated.
func handleSubmitPackage(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if err := checkParamCount(request, 2); err != nil {
		return nil, err
	}
	pkg, err := rawTxnsParam(request, 0, "package", mempool.MaxPackageCount)
	if err != nil {
		return nil, err
	}
	maxFeeRate, err := s.maxFeeRateParam(request, 1)
	if err != nil {
		return nil, err
	}

	verdicts := s.cfg.TxPool.SubmitPackage(pkg, &mempool.AcceptOptions{
		MaxFeeRate:  maxFeeRate,
		StrictOrder: true,
	})
	if pkgErr := packageError(verdicts); pkgErr != "" {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCVerify, pkgErr)
	}

	summary := mempool.SummarizePackage(verdicts)
	result := &submitPackageResult{
		PackageMsg:           summary.PackageMsg,
		TxResults:            make(map[string]submitPackageTxResult),
		ReplacedTransactions: hashStrings(summary.ReplacedTxs),
	}
	for _, v := range verdicts {
		txResult := submitPackageTxResult{TxID: v.TxHash.String()}
		switch {
		case v.Admitted:
			txResult.VSize = v.VSize
			txResult.Fees = &submitPackageFees{
				Base: v.Fee.ToBTC(),
				EffectiveFeeRate: btcutil.Amount(
					summary.PackageFeeRate,
				).ToBTC(),
			}

		case v.Known():

		default:
			txResult.Error = rejectString(v)
		}
		result.TxResults[v.WitnessHash.String()] = txResult
	}

	log.Debugf("Package of %d transactions: %d admitted, %d known, "+
		"%d rejected", len(pkg), summary.AcceptedCount,
		summary.KnownCount, summary.RejectedCount)
	return result, nil
}

// handleSendRawTransaction implements the sendrawtransaction command.
func handleSendRawTransaction(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if err := checkParamCount(request, 2); err != nil {
		return nil, err
	}
	var hexStr string
	err := unmarshalParam(request, 0, "hexstring", &hexStr, true)
	if err != nil {
		return nil, err
	}
	pkg, err := decodeRawTxns([]string{hexStr})
	if err != nil {
		return nil, err
	}
	maxFeeRate, err := s.maxFeeRateParam(request, 1)
	if err != nil {
		return nil, err
	}

	tx := pkg[0]
	v := s.cfg.TxPool.SubmitPackage(pkg, &mempool.AcceptOptions{
		MaxFeeRate: maxFeeRate,
	})[0]
	if v.Admitted {
		log.Debugf("Accepted transaction %v", tx.Hash())
		return tx.Hash().String(), nil
	}

	reason, ok := v.Reason()
	switch {
	case ok && reason == mempool.RejectAlreadyKnown:
		if s.cfg.TxPool.HaveTransaction(tx.Hash()) {
			return tx.Hash().String(), nil
		}
		return nil, btcjson.NewRPCError(
			btcjson.ErrRPCVerifyAlreadyInChain,
			"Transaction already in block chain")

	case ok && reason == mempool.RejectEvaluationFault:
		// Something really did go wrong, so log it as an actual
		// error.
		log.Errorf("Failed to process transaction %v: %v", tx.Hash(),
			v.Err)
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCTxError,
			Message: "TX rejected: " + v.Err.Error(),
		}
	}

	// A rule error means the transaction was simply rejected as opposed to
	// something actually going wrong, so log it as such.
	log.Debugf("Rejected transaction %v: %v", tx.Hash(), v.Err)
	return nil, &btcjson.RPCError{
		Code:    btcjson.ErrRPCVerifyRejected,
		Message: rejectString(v),
	}
}

// getMempoolInfoResult models the data returned by getmempoolinfo.
type getMempoolInfoResult struct {
	Size          int              `json:"size"`
	Bytes         int64            `json:"bytes"`
	Usage         uint64           `json:"usage"`
	TotalFee      float64          `json:"total_fee"`
	MinFeeRate    float64          `json:"mempoolminfee"`
	MinRelayTxFee float64          `json:"minrelaytxfee"`
	Synced        bool             `json:"synced"`
	Metrics       map[string]int64 `json:"metrics"`
}

// handleGetMempoolInfo implements the getmempoolinfo command.
func handleGetMempoolInfo(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	summary := s.cfg.TxPool.Summary()
	return &getMempoolInfoResult{
		Size:          summary.Count,
		Bytes:         summary.TotalVSize,
		Usage:         summary.Usage,
		TotalFee:      summary.TotalFees.ToBTC(),
		MinFeeRate:    btcutil.Amount(summary.MinFeeRate).ToBTC(),
		MinRelayTxFee: summary.MinRelayFee.ToBTC(),
		Synced:        s.cfg.FeeFilter.IsSynced(),
		Metrics:       s.cfg.TxPool.Metrics(),
	}, nil
}

// handleSetSyncState implements the setsyncstate command.
func handleSetSyncState(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if err := checkParamCount(request, 1); err != nil {
		return nil, err
	}
	var synced bool
	err := unmarshalParam(request, 0, "synced", &synced, true)
	if err != nil {
		return nil, err
	}
	s.cfg.FeeFilter.SetSyncState(synced)
	return nil, nil
}

// peerFeeFilterResult models one entry of getpeerfeefilters.
type peerFeeFilterResult struct {
	ID            uint64 `json:"id"`
	State         string `json:"state"`
	FeeFilter     int64  `json:"feefilter"`
	Announcements int    `json:"announcements"`
	AnnouncedAt   int64  `json:"announcedat,omitempty"`
}

// handleGetPeerFeeFilters implements the getpeerfeefilters command.
func handleGetPeerFeeFilters(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	results := make([]peerFeeFilterResult, 0)
	for _, id := range s.cfg.Sessions.IDs() {
		filter, ok := s.cfg.FeeFilter.PeerFilter(id)
		if !ok {
			continue
		}
		result := peerFeeFilterResult{
			ID:            uint64(id),
			State:         filter.State.String(),
			FeeFilter:     filter.Announced,
			Announcements: filter.Announcements,
		}
		if !filter.AnnouncedAt.IsZero() {
			result.AnnouncedAt = filter.AnnouncedAt.Unix()
		}
		results = append(results, result)
	}
	return results, nil
}

// getTxOutSetInfoResult models the data returned by gettxoutsetinfo.
type getTxOutSetInfoResult struct {
	Height      int32   `json:"height"`
	TxOuts      int64   `json:"txouts"`
	TotalAmount float64 `json:"total_amount"`
}

// handleGetTxOutSetInfo implements the gettxoutsetinfo command.
func handleGetTxOutSetInfo(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if s.cfg.Chain == nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc,
			"No chain view store")
	}
	stats, err := s.cfg.Chain.Stats()
	if err != nil {
		return nil, internalRPCError(err.Error(),
			"Unable to walk the output set")
	}
	return &getTxOutSetInfoResult{
		Height:      stats.Height,
		TxOuts:      stats.Outputs,
		TotalAmount: stats.TotalAmount.ToBTC(),
	}, nil
}

// handleConnectTransactions implements the connecttransactions command.  The
// transactions are applied to the confirmed output set as if confirmed at the
// given height and then removed from the pool together with the entries
// they conflict with.
func handleConnectTransactions(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if s.cfg.Chain == nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc,
			"No chain view store")
	}
	if err := checkParamCount(request, 2); err != nil {
		return nil, err
	}
	txns, err := rawTxnsParam(request, 0, "rawtxs", 0)
	if err != nil {
		return nil, err
	}
	var height int32
	if err := unmarshalParam(request, 1, "height", &height, true); err != nil {
		return nil, err
	}
	if height < 0 {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"height cannot be negative")
	}

	if err := s.cfg.Chain.ConnectTransactions(height, txns); err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCVerify,
			err.Error())
	}
	for _, tx := range txns {
		s.cfg.TxPool.RemoveTransaction(tx, false)
		s.cfg.TxPool.RemoveDoubleSpends(tx)
	}
	s.cfg.FeeFilter.Recompute()
	return nil, nil
}

// handleDebugLevel handles debuglevel commands.
func handleDebugLevel(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if s.cfg.DebugLevel == nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc,
			"Log levels cannot be changed")
	}
	var levelSpec string
	err := unmarshalParam(request, 0, "levelspec", &levelSpec, true)
	if err != nil {
		return nil, err
	}
	reply, err := s.cfg.DebugLevel(levelSpec)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			err.Error())
	}
	return reply, nil
}

// handleHelp implements the help command by listing the supported commands.
func handleHelp(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	methods := make([]string, 0, len(rpcHandlers))
	for method := range rpcHandlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, "\n"), nil
}

// handleStop implements the stop command.
func handleStop(s *Server, request *btcjson.Request,
	closeChan <-chan struct{}) (interface{}, error) {

	if s.cfg.RequestShutdown == nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc,
			"Shutdown is not available")
	}
	s.cfg.RequestShutdown()
	return "pkgrelayd stopping.", nil
}
