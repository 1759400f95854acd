package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the class of failure reported by a table API call,
// a credential exchange, or a payload extraction
type ErrorType string

const (
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeAPI         ErrorType = "api"
	ErrorTypeTransport   ErrorType = "transport"
	ErrorTypeExtraction  ErrorType = "extraction"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries the type, the remote code (API code or HTTP status) and a message.
// Err holds the underlying cause when there is one.
type Error struct {
	Type    ErrorType
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthError reports a rejected or unreachable credential exchange
func NewAuthError(code int, msg string, cause error) *Error {
	return &Error{Type: ErrorTypeAuth, Code: code, Message: msg, Err: cause}
}

// NewAPIError reports a well-formed request the remote rejected
func NewAPIError(code int, msg string) *Error {
	return &Error{Type: ErrorTypeAPI, Code: code, Message: msg}
}

// NewTransportError reports a failure to reach the remote at all
func NewTransportError(msg string, cause error) *Error {
	return &Error{Type: ErrorTypeTransport, Message: msg, Err: cause}
}

// NewExtractionError reports a malformed payload for a single item
func NewExtractionError(msg string, cause error) *Error {
	return &Error{Type: ErrorTypeExtraction, Message: msg, Err: cause}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err is not an *Error
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

func IsAuth(err error) bool       { return err != nil && TypeOf(err) == ErrorTypeAuth }
func IsAPI(err error) bool        { return err != nil && TypeOf(err) == ErrorTypeAPI }
func IsTransport(err error) bool  { return err != nil && TypeOf(err) == ErrorTypeTransport }
func IsExtraction(err error) bool { return err != nil && TypeOf(err) == ErrorTypeExtraction }

// IsRetryable checks if an error type should be retried.
// Table API and auth failures are surfaced to the caller and never retried.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps a non-2xx HTTP status to an Error
func FromStatus(statusCode int, msg string) *Error {
	switch {
	case statusCode == 404:
		return &Error{Type: ErrorTypeNotFound, Code: statusCode, Message: msg}
	case statusCode == 429:
		return &Error{Type: ErrorTypeRateLimit, Code: statusCode, Message: msg}
	case statusCode >= 500:
		return &Error{Type: ErrorTypeServerError, Code: statusCode, Message: msg}
	default:
		return &Error{Type: ErrorTypeUnknown, Code: statusCode, Message: msg}
	}
}
