package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Standard error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("resource conflict")
	ErrInternal          = errors.New("internal server error")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrRefundExceeded    = errors.New("refund exceeds purchased quantity")
	ErrRetryExhausted    = errors.New("concurrent modification retries exhausted")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Allocation error constructors

// InsufficientStock reports a consumption request that exceeds available
// batch stock. The shortfall is the unmet portion of the request.
func InsufficientStock(productID string, requested, shortfall int) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock for product %s: short %d of %d requested", productID, shortfall, requested),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"product_id": productID,
			"requested":  strconv.Itoa(requested),
			"shortfall":  strconv.Itoa(shortfall),
		},
	}
}

// InvalidQuantity rejects a zero or negative quantity before any store access.
func InvalidQuantity(quantity int) *AppError {
	return &AppError{
		Err:        ErrInvalidQuantity,
		Code:       "INVALID_QUANTITY",
		Message:    fmt.Sprintf("quantity must be a positive integer, got %d", quantity),
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"quantity": strconv.Itoa(quantity)},
	}
}

// RefundExceedsPurchased rejects a refund larger than the refundable
// remainder of an order line.
func RefundExceedsPurchased(productID string, requested, refundable int) *AppError {
	return &AppError{
		Err:        ErrRefundExceeded,
		Code:       "REFUND_EXCEEDS_PURCHASED",
		Message:    fmt.Sprintf("refund of %d exceeds refundable quantity %d for product %s", requested, refundable, productID),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"product_id": productID,
			"requested":  strconv.Itoa(requested),
			"refundable": strconv.Itoa(refundable),
		},
	}
}

// RetryExhausted surfaces a write conflict that persisted through every
// transaction retry attempt.
func RetryExhausted(attempts int) *AppError {
	return &AppError{
		Err:        ErrRetryExhausted,
		Code:       "CONCURRENT_MODIFICATION",
		Message:    fmt.Sprintf("stock allocation conflicted with concurrent updates after %d attempts", attempts),
		StatusCode: http.StatusConflict,
	}
}

// InvalidTransition rejects an order status or remarks change the state
// machine does not allow.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Err:        ErrInvalidTransition,
		Code:       "INVALID_TRANSITION",
		Message:    fmt.Sprintf("cannot transition from %s to %s", from, to),
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"from": from, "to": to},
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
