package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode classifies treasury failures
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors, rejected before any I/O
	ErrCodeInvalidInput   ErrorCode = 1000
	ErrCodeNotFound       ErrorCode = 1001
	ErrCodeIntentReplayed ErrorCode = 1002

	// Ledger errors
	ErrCodeLedgerUnreachable ErrorCode = 2000
	ErrCodeLedgerRejected    ErrorCode = 2001
	ErrCodeLedgerTimeout     ErrorCode = 2002

	// Mirror and reconciliation
	ErrCodeMirrorWriteFailed ErrorCode = 3000
	ErrCodeStaleQuorum       ErrorCode = 3001

	ErrCodeInternal ErrorCode = 9000
)

// String returns the wire name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidInput:
		return "INVALID_INPUT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeIntentReplayed:
		return "INTENT_REPLAYED"
	case ErrCodeLedgerUnreachable:
		return "LEDGER_UNREACHABLE"
	case ErrCodeLedgerRejected:
		return "LEDGER_REJECTED"
	case ErrCodeLedgerTimeout:
		return "LEDGER_TIMEOUT"
	case ErrCodeMirrorWriteFailed:
		return "MIRROR_WRITE_FAILED"
	case ErrCodeStaleQuorum:
		return "STALE_QUORUM"
	default:
		return "INTERNAL"
	}
}

// TreasuryError is a structured error with a code and context
type TreasuryError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *TreasuryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *TreasuryError) Unwrap() error {
	return e.Cause
}

// GRPCStatus lets status.FromError recognise treasury errors
func (e *TreasuryError) GRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *TreasuryError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidInput:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeIntentReplayed:
		return codes.AlreadyExists
	case ErrCodeLedgerUnreachable:
		return codes.Unavailable
	case ErrCodeLedgerRejected:
		return codes.FailedPrecondition
	case ErrCodeLedgerTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// NewTreasuryError creates a new TreasuryError
func NewTreasuryError(code ErrorCode, message string, cause error) *TreasuryError {
	return &TreasuryError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *TreasuryError) WithDetail(key string, value interface{}) *TreasuryError {
	e.Details[key] = value
	return e
}

func InvalidInput(field, reason string) *TreasuryError {
	return NewTreasuryError(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// InvalidAmount is the InvalidInput raised for amounts the ledger cannot represent
func InvalidAmount(amount, reason string) *TreasuryError {
	return InvalidInput("amount", reason).WithDetail("amount", amount)
}

func NotFound(entity, id string) *TreasuryError {
	return NewTreasuryError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", entity, id), nil).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

func IntentReplayed(intentID string) *TreasuryError {
	return NewTreasuryError(ErrCodeIntentReplayed, fmt.Sprintf("intent %s was already submitted", intentID), nil).
		WithDetail("intent_id", intentID)
}

func LedgerUnreachable(op string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeLedgerUnreachable, fmt.Sprintf("ledger unreachable during %s", op), cause).
		WithDetail("operation", op)
}

// LedgerRejected keeps the ledger's reason as the message so it reaches the user verbatim
func LedgerRejected(op, reason string) *TreasuryError {
	return NewTreasuryError(ErrCodeLedgerRejected, reason, nil).
		WithDetail("operation", op)
}

func LedgerTimeout(op, ref string) *TreasuryError {
	return NewTreasuryError(ErrCodeLedgerTimeout, fmt.Sprintf("confirmation of %s not observed in time", op), nil).
		WithDetail("operation", op).
		WithDetail("settlement_ref", ref)
}

func MirrorWriteFailed(entity, id string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeMirrorWriteFailed, fmt.Sprintf("mirror write failed for %s %s", entity, id), cause).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

func StaleQuorum(requestID string, frozen, present int) *TreasuryError {
	return NewTreasuryError(ErrCodeStaleQuorum,
		fmt.Sprintf("request %s requires %d approvals, present electorate implies %d", requestID, frozen, present), nil).
		WithDetail("request_id", requestID).
		WithDetail("frozen", frozen).
		WithDetail("present", present)
}

func InternalError(message string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeInternal, message, cause)
}

// IsTreasuryError checks if an error is, or wraps, a TreasuryError
func IsTreasuryError(err error) bool {
	var te *TreasuryError
	return errors.As(err, &te)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var te *TreasuryError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsRetryable reports whether the caller may retry with a fresh intent
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeLedgerUnreachable, ErrCodeLedgerTimeout:
		return true
	default:
		return false
	}
}

// DetailOf returns a detail recorded on err, if err is a TreasuryError
func DetailOf(err error, key string) (interface{}, bool) {
	var te *TreasuryError
	if !errors.As(err, &te) {
		return nil, false
	}
	v, ok := te.Details[key]
	return v, ok
}
