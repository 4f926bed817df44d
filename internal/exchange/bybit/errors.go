package bybit

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError carries a Bybit retCode alongside the message so callers can
// classify failures.
type APIError struct {
	Code    int
	Message string
	Op      string
}

func (e *APIError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("bybit %s: error %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("bybit: error %d: %s", e.Code, e.Message)
}

// Error codes the engine reacts to.
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInsufficientBalance = 110007
	ErrCodeDuplicateOrderID    = 110072
	ErrCodeLeverageNotModified = 110043
)

// NewAPIError creates a typed API error.
func NewAPIError(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// ParseRet converts a retCode/retMsg pair into an error, nil on retCode 0.
func ParseRet(op string, retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return &APIError{Code: retCode, Message: retMsg, Op: op}
}

// IsRetryable reports whether the error is transient: rate limits and
// server-side 5xx conditions. Auth and validation errors are permanent.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeRateLimitExceeded,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Transport-level failures without a retCode are assumed transient.
	return err != nil
}

// IsAuthError reports whether the error is an authentication failure.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// IsDuplicateOrderID reports whether the order link ID was already used.
// The engine treats this as confirmation that a prior attempt went through.
func IsDuplicateOrderID(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeDuplicateOrderID
	}
	return false
}

// IsInsufficientBalance reports whether the account lacks margin.
func IsInsufficientBalance(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeInsufficientBalance
	}
	return false
}

// IsLeverageNotModified reports the benign "leverage already set" response.
func IsLeverageNotModified(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeLeverageNotModified
	}
	return false
}
