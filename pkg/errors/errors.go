package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error. RPCCode is the EIP-1193 /
// JSON-RPC code surfaced to dapps; StatusCode is used by the HTTP bridge.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RPCCode    int    `json:"rpc_code"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so sentinel comparisons work through wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
const (
	ErrCodeUserRejected        = "user_rejected"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeUnsupportedMethod   = "unsupported_method"
	ErrCodeMethodNotFound      = "method_not_found"
	ErrCodeInvalidParams       = "invalid_params"
	ErrCodeInternalError       = "internal_error"
	ErrCodeResourceUnavailable = "resource_unavailable"
	ErrCodeChainNotAdded       = "chain_not_added"
	ErrCodeHardwareRejected    = "hardware_rejected"
	ErrCodeApprovalPending     = "approval_pending"
	ErrCodeRequestBlocked      = "request_blocked"
	ErrCodeNotFound            = "not_found"
	ErrCodeBadRequest          = "bad_request"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeTransactionFailed   = "transaction_failed"
)

// EIP-1193 and JSON-RPC 2.0 numeric codes
const (
	RPCUserRejected        = 4001
	RPCUnauthorized        = 4100
	RPCUnsupportedMethod   = 4200
	RPCChainNotAdded       = 4902
	RPCInvalidParams       = -32602
	RPCMethodNotFound      = -32601
	RPCInternal            = -32603
	RPCResourceUnavailable = -32002
	RPCLimitExceeded       = -32005
)

// HardwareRejectedEvent is attached to signing failures raised by the keyring.
const HardwareRejectedEvent = "HARDWARE_REJECTED"

// Predefined errors
var (
	ErrUserRejected = &AppError{
		Code:       ErrCodeUserRejected,
		Message:    "User rejected the request.",
		RPCCode:    RPCUserRejected,
		StatusCode: http.StatusOK,
	}

	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "The requested account and/or method has not been authorized by the user.",
		RPCCode:    RPCUnauthorized,
		StatusCode: http.StatusOK,
	}

	ErrMethodNotFound = &AppError{
		Code:       ErrCodeMethodNotFound,
		Message:    "The method does not exist / is not available.",
		RPCCode:    RPCMethodNotFound,
		StatusCode: http.StatusOK,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		RPCCode:    RPCInternal,
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		RPCCode:    RPCInvalidParams,
		StatusCode: http.StatusBadRequest,
	}

	ErrRateLimited = &AppError{
		Code:       ErrCodeRateLimited,
		Message:    "Request limit exceeded",
		RPCCode:    RPCLimitExceeded,
		StatusCode: http.StatusTooManyRequests,
	}
)

// New creates a new AppError
func New(code, message string, rpcCode, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		RPCCode:    rpcCode,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, rpcCode, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		RPCCode:    rpcCode,
		StatusCode: statusCode,
	}
}

func providerError(code, message string, rpcCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		RPCCode:    rpcCode,
		StatusCode: http.StatusOK,
	}
}

// UserRejected creates a user rejection error. An empty message uses the default text.
func UserRejected(message string) *AppError {
	if message == "" {
		message = ErrUserRejected.Message
	}
	return providerError(ErrCodeUserRejected, message, RPCUserRejected)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	if message == "" {
		message = ErrUnauthorized.Message
	}
	return providerError(ErrCodeUnauthorized, message, RPCUnauthorized)
}

// MethodNotFound creates a method-not-found error for the named method
func MethodNotFound(method string) *AppError {
	e := providerError(ErrCodeMethodNotFound, ErrMethodNotFound.Message, RPCMethodNotFound)
	e.Detail = "method: " + method
	return e
}

// UnsupportedMethod creates an unsupported-method error
func UnsupportedMethod(message string) *AppError {
	return providerError(ErrCodeUnsupportedMethod, message, RPCUnsupportedMethod)
}

// InvalidParams creates an invalid params error
func InvalidParams(message string) *AppError {
	return providerError(ErrCodeInvalidParams, message, RPCInvalidParams)
}

// Internal creates an internal error
func Internal(message string) *AppError {
	return providerError(ErrCodeInternalError, message, RPCInternal)
}

// ResourceUnavailable creates a resource-unavailable error, used for single-flight rejections
func ResourceUnavailable(message string) *AppError {
	return providerError(ErrCodeResourceUnavailable, message, RPCResourceUnavailable)
}

// ChainNotAdded creates the 4902 error for chains the wallet does not know
func ChainNotAdded(chainID string) *AppError {
	return providerError(ErrCodeChainNotAdded,
		fmt.Sprintf("Unrecognized chain ID %q. Try adding the chain using wallet_addEthereumChain first.", chainID),
		RPCChainNotAdded)
}

// HardwareRejected wraps a keyring signing failure
func HardwareRejected(err error) *AppError {
	e := providerError(ErrCodeHardwareRejected, "Signing failed", RPCUserRejected)
	e.Detail = HardwareRejectedEvent
	if err != nil {
		e.Detail = HardwareRejectedEvent + ": " + err.Error()
	}
	return e
}

// ProcessCurrentApprovalFirst is returned when a non-stackable approval is already outstanding
func ProcessCurrentApprovalFirst() *AppError {
	return providerError(ErrCodeApprovalPending, "please request after current approval resolve", RPCUserRejected)
}

// RequestBlocked is returned for origins blocked after repeated rejections
func RequestBlocked(origin string) *AppError {
	e := providerError(ErrCodeRequestBlocked, "Request blocked", RPCUserRejected)
	e.Detail = "origin: " + origin
	return e
}

// TransactionFailed wraps a broadcast or relay failure
func TransactionFailed(err error) *AppError {
	e := providerError(ErrCodeTransactionFailed, "Failed to submit transaction", RPCInternal)
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError with the given code
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}
