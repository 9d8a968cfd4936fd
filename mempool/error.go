// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// RejectReason classifies why a transaction was not admitted.  Every rejected
// verdict carries exactly one reason.
type RejectReason int

// These constants are used to identify a specific RejectReason.
const (
	// RejectStructurallyInvalid indicates the transaction is malformed:
	// no inputs or outputs, duplicate inputs, out of range output values,
	// a standalone coinbase, or inputs worth less than its outputs.
	RejectStructurallyInvalid RejectReason = iota

	// RejectResourceLimitExceeded indicates the transaction exceeds the
	// standard weight or signature operation cost ceilings.
	RejectResourceLimitExceeded

	// RejectMissingInputs indicates at least one input could not be
	// resolved to an unspent output.  This is routinely expected when
	// packages arrive out of order and must never be held against the
	// submitting peer.
	RejectMissingInputs

	// RejectAlreadyKnown indicates the transaction is already in the pool
	// or already confirmed.  It is an idempotent outcome, not a failure.
	RejectAlreadyKnown

	// RejectConflictInPackage indicates two members of the same package
	// spend the same output.
	RejectConflictInPackage

	// RejectUnsortedPackage indicates a package member spends an output
	// created by a member that appears after it.
	RejectUnsortedPackage

	// RejectDuplicateInPackage indicates the same transaction appears more
	// than once in a package.
	RejectDuplicateInPackage

	// RejectReplacementRejected indicates the transaction conflicts with
	// pool entries and fails the replacement policy.
	RejectReplacementRejected

	// RejectFeeTooLow indicates the fee rate is below the effective
	// minimum relay fee rate.
	RejectFeeTooLow

	// RejectFeeTooHigh indicates the absolute fee exceeds the configured
	// sanity ceiling.
	RejectFeeTooHigh

	// RejectScriptVerificationFailed indicates a script or signature check
	// failed.  The tripped rule is available via TxRuleError.Rule.
	RejectScriptVerificationFailed

	// RejectEvaluationFault indicates a capability (chain view or script
	// verifier) failed internally, so no policy decision could be made.
	RejectEvaluationFault

	// RejectPackageFailed indicates the transaction was not evaluated
	// because its package as a whole failed a package level check.
	RejectPackageFailed

	// RejectNonStandard indicates the transaction is valid but does not
	// conform to the standardness rules: supported version, push only
	// signature scripts of bounded size, recognized output and input
	// script forms, no dust and at most one data carrier output.  The
	// tripped rule is available via TxRuleError.Rule.
	RejectNonStandard

	// numRejectReasons is the maximum reject reason number used in tests.
	numRejectReasons
)

// rejectReasonStrings is a map of reject reasons back to the short strings
// reported to RPC callers.
var rejectReasonStrings = map[RejectReason]string{
	RejectStructurallyInvalid:      "bad-txns-structure",
	RejectResourceLimitExceeded:    "tx-resource-limit",
	RejectMissingInputs:            "missing-inputs",
	RejectAlreadyKnown:             "txn-already-known",
	RejectConflictInPackage:        "conflict-in-package",
	RejectUnsortedPackage:          "package-not-sorted",
	RejectDuplicateInPackage:       "package-contains-duplicates",
	RejectReplacementRejected:      "replacement-rejected",
	RejectFeeTooLow:                "min-relay-fee-not-met",
	RejectFeeTooHigh:               "max-fee-exceeded",
	RejectScriptVerificationFailed: "mandatory-script-verify-flag-failed",
	RejectEvaluationFault:          "evaluation-fault",
	RejectPackageFailed:            "package-failed",
	RejectNonStandard:              "non-standard",
}

// String returns the RejectReason as a short, stable string.
func (r RejectReason) String() string {
	if s := rejectReasonStrings[r]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown RejectReason (%d)", int(r))
}

// IsFailure returns whether the reason describes an actual failure.
// AlreadyKnown is the idempotent re-submission outcome and is not one.
func (r RejectReason) IsFailure() bool {
	return r != RejectAlreadyKnown
}

// IsPackageShape returns whether the reason comes from the package level
// checks that run before any individual transaction is evaluated.
func (r RejectReason) IsPackageShape() bool {
	switch r {
	case RejectConflictInPackage, RejectUnsortedPackage,
		RejectDuplicateInPackage, RejectPackageFailed:
		return true
	}
	return false
}

// PenalizesPeer returns whether a peer relaying a transaction rejected for
// this reason should be considered misbehaving.
func (r RejectReason) PenalizesPeer() bool {
	switch r {
	case RejectMissingInputs, RejectAlreadyKnown, RejectEvaluationFault,
		RejectPackageFailed, RejectNonStandard:
		return false
	}
	return true
}

// RejectCode returns the reject code that would be sent to a peer in a reject
// message for the reason.
func (r RejectReason) RejectCode() wire.RejectCode {
	switch r {
	case RejectStructurallyInvalid, RejectScriptVerificationFailed:
		return wire.RejectInvalid
	case RejectAlreadyKnown, RejectConflictInPackage,
		RejectDuplicateInPackage, RejectReplacementRejected:
		return wire.RejectDuplicate
	case RejectFeeTooLow:
		return wire.RejectInsufficientFee
	default:
		return wire.RejectNonstandard
	}
}

// TxRuleError identifies a rule violation.  It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules.  The caller can use errors.As to determine if a failure was
// specifically due to a rule violation and access the Reason field to
// ascertain the specific reason for the rule violation.
type TxRuleError struct {
	Reason      RejectReason // Classification of the failure
	Description string       // Human readable description of the issue

	// Rule names the script or standardness rule that tripped.  Only
	// set for RejectScriptVerificationFailed and RejectNonStandard.
	Rule string

	// Err is the underlying cause, if any.
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying cause so errors.Is and errors.As can see
// through the rule error.
func (e TxRuleError) Unwrap() error {
	return e.Err
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules.  The underlying error is always a TxRuleError.
type RuleError struct {
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// Unwrap returns the encapsulated error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// txRuleError creates an underlying TxRuleError with the given a set of
// arguments and returns a RuleError that encapsulates it.
func txRuleError(reason RejectReason, desc string) RuleError {
	return RuleError{
		Err: TxRuleError{Reason: reason, Description: desc},
	}
}

// wrapRuleError is like txRuleError but keeps cause reachable for errors.Is.
func wrapRuleError(reason RejectReason, cause error, desc string) RuleError {
	return RuleError{
		Err: TxRuleError{Reason: reason, Description: desc, Err: cause},
	}
}

// nonStandardError returns a RuleError for a violation of the named
// standardness rule.
func nonStandardError(rule, desc string) RuleError {
	return RuleError{
		Err: TxRuleError{
			Reason:      RejectNonStandard,
			Description: desc,
			Rule:        rule,
		},
	}
}

// scriptRuleError returns a RuleError describing a script verification
// failure on the given rule.
func scriptRuleError(failure *ScriptFailure) RuleError {
	desc := fmt.Sprintf("%v (%s)", RejectScriptVerificationFailed,
		failure.Message)
	return RuleError{
		Err: TxRuleError{
			Reason:      RejectScriptVerificationFailed,
			Description: desc,
			Rule:        failure.Rule,
			Err:         failure,
		},
	}
}

// faultError wraps a capability failure so it is reported separately from
// policy rejections.
func faultError(source string, err error) RuleError {
	return wrapRuleError(RejectEvaluationFault, err,
		fmt.Sprintf("%s: %v", source, err))
}

// ReasonOf extracts the reject reason from an error produced by this package.
// It returns false when the error is not a rule error.
func ReasonOf(err error) (RejectReason, bool) {
	var rerr TxRuleError
	if errors.As(err, &rerr) {
		return rerr.Reason, true
	}
	return 0, false
}

// ErrToRejectErr examines the underlying type of the error and returns a reject
// code and string appropriate to be sent in a wire.MsgReject message.
func ErrToRejectErr(err error) (wire.RejectCode, string) {
	if reason, ok := ReasonOf(err); ok {
		return reason.RejectCode(), err.Error()
	}

	// Return a generic rejected string if there is no error.  This really
	// should not happen unless the code elsewhere is not setting an error
	// as it should be.
	if err == nil {
		return wire.RejectInvalid, "rejected"
	}

	return wire.RejectInvalid, "rejected: " + err.Error()
}
