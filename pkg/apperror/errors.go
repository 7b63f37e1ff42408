package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Payment Lifecycle (PAY) ----

// ErrDuplicateOrder signals the orderId has already been used.
// Not retriable with the same id; the caller must pick a new one.
func ErrDuplicateOrder(orderID string) *AppError {
	return New("PAY_001", fmt.Sprintf("order %s already exists", orderID), http.StatusConflict)
}

func ErrTransactionNotFound(orderID string) *AppError {
	return New("PAY_002", fmt.Sprintf("transaction %s not found", orderID), http.StatusNotFound)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_003", "Invalid amount", http.StatusBadRequest)
}

func ErrUnknownBank(code string) *AppError {
	return New("PAY_004", fmt.Sprintf("no paybill mapping for bank code %s", code), http.StatusBadRequest)
}

// ---- Upstream Gateway (UPS) ----

// ErrUpstreamAuthFailure signals a failed token exchange. The cached
// token slot has been cleared; the payment request must not proceed.
func ErrUpstreamAuthFailure(err error) *AppError {
	return Wrap("UPS_001", "Upstream authentication failed", http.StatusBadGateway, err)
}

// ErrUpstreamRejected signals the push request was acknowledged but
// business-rejected. Terminal; not retried.
func ErrUpstreamRejected(code, desc string) *AppError {
	return New("UPS_002", fmt.Sprintf("push request rejected by upstream (%s): %s", code, desc), http.StatusUnprocessableEntity)
}

// ErrTransportFailure signals a network-level failure talking to the
// upstream gateway.
func ErrTransportFailure(err error) *AppError {
	return Wrap("UPS_003", "Upstream gateway unreachable", http.StatusBadGateway, err)
}

// ---- Request Validation (VAL) ----

func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
