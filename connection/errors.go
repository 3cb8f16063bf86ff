package connection

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for transport failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNetwork indicates the request never produced a response.
	ErrNetwork = errors.New("network error")

	// ErrAuth indicates missing, invalid or expired credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrThrottled indicates the remote side rejected the request for rate or quota reasons.
	ErrThrottled = errors.New("rate limited")

	// ErrMalformedResponse indicates a response that could not be decoded
	// or lacked a required field such as an ID.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRemote indicates any other error reported by the remote side.
	ErrRemote = errors.New("remote error")
)

// TransportError wraps a collaborator failure with its classification.
type TransportError struct {
	// Kind is the sentinel error for classification (e.g. ErrAuth).
	Kind error
	// Op is the collaborator operation that failed (e.g. "submit_job").
	Op string
	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *TransportError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewTransportError creates a classified transport error.
func NewTransportError(kind error, op string, err error) *TransportError {
	return &TransportError{Kind: kind, Op: op, Err: err}
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// remoteError is the decoded body of a non-2xx response.
type remoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *remoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
}

// classifyStatus maps an HTTP status and remote exception code to a sentinel.
func classifyStatus(status int, code string) error {
	switch code {
	case "InvalidSessionId", "INVALID_SESSION_ID", "INVALID_AUTH_HEADER":
		return ErrAuth
	case "ExceededQuota", "REQUEST_LIMIT_EXCEEDED":
		return ErrThrottled
	}

	switch {
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	default:
		return ErrRemote
	}
}
