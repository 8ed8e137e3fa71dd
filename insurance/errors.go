/*
errors.go - Error taxonomy of the reconciliation engine

PURPOSE:
  Every failure that leaves the façade is one of five kinds. Callers branch
  on the kind, never on message text.

ERROR CATEGORIES:
  1. Validation:           local guard failed, nothing was submitted
  2. InsufficientFunds:    payout pre-flight failed, nothing was submitted
  3. LedgerRevert:         the ledger rejected the transaction
  4. Transport:            network/RPC failure, retry is the caller's call
  5. Decode:               a ledger record could not be reconstructed

USAGE:
  if errors.Is(err, insurance.ErrValidation) { ... }

  var funds *insurance.InsufficientFundsError
  if errors.As(err, &funds) {
      fmt.Println(funds.Available, funds.Required)
  }

SEE ALSO:
  - facade/normalize.go: maps ledger.Error into this taxonomy
*/
package insurance

import (
	"errors"
	"fmt"

	"github.com/warp/claims-engine/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a local guard rejects an operation
	// before any ledger I/O.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientLedgerFunds is returned when the contract cannot cover
	// an expected payout.
	ErrInsufficientLedgerFunds = errors.New("insufficient ledger funds")

	// ErrLedgerRevert is returned when the ledger rejected a transaction.
	ErrLedgerRevert = errors.New("ledger reverted transaction")

	// ErrTransport is returned when the ledger could not be reached.
	ErrTransport = errors.New("ledger transport error")

	// ErrDecode is returned when a ledger record is malformed.
	ErrDecode = errors.New("malformed ledger record")
)

// Kind is the stable, serializable error category.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInsufficientFunds Kind = "insufficient_ledger_funds"
	KindLedgerRevert      Kind = "ledger_revert"
	KindTransport         Kind = "transport"
	KindDecode            Kind = "decode"
	KindUnknown           Kind = "unknown"
)

// GenericRevertMessage is shown when the ledger gave no revert reason.
const GenericRevertMessage = "transaction failed"

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Validation codes.
const (
	CodeInvalidAmount     = "invalid_amount"
	CodeAmountOutOfRange  = "amount_out_of_range"
	CodePaymentNotDue     = "payment_not_due"
	CodeNotMonthly        = "not_monthly_policy"
	CodePolicyNotActive   = "policy_not_active"
	CodePolicyNotValid    = "policy_not_valid"
	CodeNotPolicyholder   = "not_policyholder"
	CodeUnauthorized      = "unauthorized"
	CodeNotOwner          = "not_owner"
	CodeClaimNotPending   = "claim_not_pending"
	CodeCoverageExceeded  = "coverage_exceeded"
	CodePlanInactive      = "plan_inactive"
	CodeInvalidPlan       = "invalid_plan"
	CodeInvalidPayment    = "invalid_payment_kind"
	CodeInvalidAddress    = "invalid_address"
	CodeNotFound          = "not_found"
	CodeTxInFlight        = "tx_in_flight"
	CodeContractPaused    = "contract_paused"
	CodeBalanceExceeded   = "balance_exceeded"
	CodeInvalidTransition = "invalid_transition"
)

// ValidationError is a user-actionable local guard failure.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError reports a failed payout pre-flight.
type InsufficientFundsError struct {
	Available money.Amount
	Required  money.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient ledger funds: available %s, required %s",
		money.ToDecimalString(e.Available), money.ToDecimalString(e.Required))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientLedgerFunds }

// RevertError carries the ledger's revert reason verbatim, or the generic
// message when the ledger supplied none.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string { return e.Reason }
func (e *RevertError) Unwrap() error { return ErrLedgerRevert }

// TransportError wraps a network failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// DecodeError reports a malformed ledger record.
type DecodeError struct {
	Entity string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s.%s: %s", e.Entity, e.Field, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err into the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientLedgerFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrLedgerRevert):
		return KindLedgerRevert
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrDecode):
		return KindDecode
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if the error might succeed on retry. Only
// transport failures qualify, and only at the caller's discretion.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsClientError returns true if correcting the input fixes the error.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}
