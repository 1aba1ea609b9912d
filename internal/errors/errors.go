package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput               ErrorCode = "invalid_input"
	InvalidAmount              ErrorCode = "invalid_amount"
	InvalidAddress             ErrorCode = "invalid_address"
	InsufficientAccountBalance ErrorCode = "insufficient_account_balance"
	InsufficientPoolLiquidity  ErrorCode = "insufficient_pool_liquidity"
	LoanAlreadyOutstanding     ErrorCode = "loan_already_outstanding"
	NoOutstandingLoan          ErrorCode = "no_outstanding_loan"
	InsufficientRepaymentFunds ErrorCode = "insufficient_repayment_funds"
	AssetTransferFailed        ErrorCode = "asset_transfer_failed"
	Overflow                   ErrorCode = "overflow"
	NotFound                   ErrorCode = "not_found"
	DuplicateTransaction       ErrorCode = "duplicate_transaction"
	IdempotencyConflict        ErrorCode = "idempotency_conflict"
	InternalError              ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`

	cause error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError with the same code. Predefined
// errors can therefore be matched with errors.Is even after WithDetails or
// Wrap produced a new value.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns a new AppError with the given code that carries cause.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// WithDetails returns a copy of e with details attached. Predefined errors are
// shared, so they are never mutated in place.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.cause = cause
	return &cp
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidAmount, InvalidAddress:
		return http.StatusBadRequest
	case NotFound, NoOutstandingLoan:
		return http.StatusNotFound
	case LoanAlreadyOutstanding, DuplicateTransaction, IdempotencyConflict:
		return http.StatusConflict
	case InsufficientAccountBalance, InsufficientPoolLiquidity, InsufficientRepaymentFunds:
		return http.StatusUnprocessableEntity
	case AssetTransferFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsAppError converts any error into an AppError, classifying unknown errors
// as internal.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(InternalError, "an unexpected error occurred", err)
}

// Predefined errors for common cases. Messages of ledger rejections keep the
// revert strings clients of the original contract match on.
var (
	ErrInvalidInput               = NewAppError(InvalidInput, "invalid request")
	ErrInvalidAmount              = NewAppError(InvalidAmount, "amount must be greater than zero")
	ErrInvalidAddress             = NewAppError(InvalidAddress, "invalid address")
	ErrInsufficientAccountBalance = NewAppError(InsufficientAccountBalance, "Withdraw amount more than deposited")
	ErrInsufficientPoolLiquidity  = NewAppError(InsufficientPoolLiquidity, "Bank run!")
	ErrLoanAlreadyOutstanding     = NewAppError(LoanAlreadyOutstanding, "Already loaned")
	ErrNoOutstandingLoan          = NewAppError(NoOutstandingLoan, "no outstanding loan")
	ErrInsufficientRepaymentFunds = NewAppError(InsufficientRepaymentFunds, "Not enough fund to return")
	ErrAssetTransferFailed        = NewAppError(AssetTransferFailed, "asset transfer failed")
	ErrOverflow                   = NewAppError(Overflow, "arithmetic overflow")
	ErrNotFound                   = NewAppError(NotFound, "not found")
	ErrDuplicateTransaction       = NewAppError(DuplicateTransaction, "transaction already processed")
	ErrIdempotencyConflict        = NewAppError(IdempotencyConflict, "idempotency key already used for a different operation")
	ErrInternal                   = NewAppError(InternalError, "internal error")
	ErrCannotBeginTransaction     = NewAppError(InternalError, "cannot begin a transaction inside another transaction")
)
