package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// Sync engine taxonomy
	ErrorTypeTransport    ErrorType = "transport"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypePersistence  ErrorType = "persistence"
	ErrorTypeUpstreamData ErrorType = "upstream_data"

	// Remote API client
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries a type, the failed operation and an optional cause.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		if e.Code != 0 {
			return fmt.Sprintf("%s: %s error (code %d): %s", e.Op, e.Type, e.Code, msg)
		}
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Type, msg)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error without a cause.
func New(t ErrorType, op, message string) *Error {
	return &Error{Type: t, Op: op, Message: message}
}

// Wrap attaches a type and operation to err. A nil err stays nil.
func Wrap(t ErrorType, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Type: t, Op: op, Err: err}
}

// Transport reports a connection failure or non-success status.
func Transport(op string, code int, err error) *Error {
	return &Error{Type: ErrorTypeTransport, Op: op, Code: code, Err: err}
}

// IO reports a local write, rename or directory failure.
func IO(op string, err error) *Error {
	return &Error{Type: ErrorTypeIO, Op: op, Err: err}
}

// Persistence reports a ledger failure.
func Persistence(op string, err error) *Error {
	return &Error{Type: ErrorTypePersistence, Op: op, Err: err}
}

// UpstreamData reports a malformed or empty response from the remote.
func UpstreamData(op, message string) *Error {
	return &Error{Type: ErrorTypeUpstreamData, Op: op, Message: message}
}

// TypeOf returns the type of the first *Error in err's chain, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err's chain contains an *Error of type t.
func Is(err error, t ErrorType) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable reports whether a request that failed with errorType may be
// repeated in place. Connection failures are not: the item is left
// uncommitted and the next run picks it up.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeTransport, ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return false
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps an HTTP status code to an error type.
func FromStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeTransport
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode == 400 || statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}
