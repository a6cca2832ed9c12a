// Package errors defines the application error type shared by every layer.
//
// Domain packages declare their sentinel errors with New and a code from the
// table below; infrastructure code wraps driver failures with WrapCode so the
// original cause stays reachable through errors.Unwrap.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries a business code, a caller-facing message and an optional cause.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on the code, so a wrapped copy of a sentinel still satisfies
// errors.Is(err, sentinel).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e that wraps cause.
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: cause}
}

// HTTPStatus maps the code class to an HTTP status.
func (e *AppError) HTTPStatus() int {
	switch e.Code / 100 {
	case 404:
		return http.StatusNotFound
	case 409:
		return http.StatusBadRequest
	case 400:
		return http.StatusConflict
	case 503:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New declares a sentinel error with a business code.
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapCode wraps err with an explicit code.
func WrapCode(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes. The first three digits select the class.
const (
	ErrCodeInternal       = 50000
	ErrCodeDatabaseError  = 50001
	ErrCodeRedisError     = 50002
	ErrCodeMessagingError = 50003

	ErrCodeContentionExceeded = 50301 // retryable by the caller

	ErrCodeNotFound            = 40400
	ErrCodeSKUNotFound         = 40401
	ErrCodeReservationNotFound = 40402

	ErrCodeBusinessError          = 40000
	ErrCodeInsufficientStock      = 40001
	ErrCodeReservationExpired     = 40002
	ErrCodeAlreadyTerminated      = 40003
	ErrCodeCannotReleaseCommitted = 40004
	ErrCodeInvariantViolation     = 40005
	ErrCodeSKUExists              = 40006
	ErrCodeDuplicateEntry         = 40009

	// never leave the ledger package
	ErrCodeVersionConflict = 40020
	ErrCodeStatusConflict  = 40021

	ErrCodeInvalidParams   = 40900
	ErrCodeBindError       = 40901
	ErrCodeInvalidQuantity = 40902
	ErrCodeInvalidTTL      = 40903
)

var (
	ErrInternal       = New(ErrCodeInternal, "internal error")
	ErrMessagingError = New(ErrCodeMessagingError, "messaging error")

	ErrInvalidParams = New(ErrCodeInvalidParams, "invalid query")
	ErrBindError     = New(ErrCodeBindError, "invalid request")
)

// GetAppError returns the AppError in err's chain, or wraps err as internal.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// CodeOf returns the code of the AppError in err's chain, or ErrCodeInternal.
func CodeOf(err error) int {
	return GetAppError(err).Code
}
