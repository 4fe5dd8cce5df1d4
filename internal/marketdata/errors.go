// errors.go classifies venue REST failures so callers can pick the right
// recovery policy: adapters back off on transient and rate-limit errors,
// auth failures are fatal at startup, and everything else is logged.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the failure taxonomy for venue REST calls.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota + 1
	KindConnection
	KindRateLimited
	KindAuth
	KindStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// APIError is a classified venue REST failure.
type APIError struct {
	Kind   ErrorKind
	Status int // HTTP status when Kind is RateLimited, Auth, or Status
	Op     string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or 0 for unclassified errors.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// classifyTransport maps a transport-level error to timeout or connection.
func classifyTransport(op string, err error) *APIError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimeout, Op: op, Err: err}
	}
	return &APIError{Kind: KindConnection, Op: op, Err: err}
}

// classifyStatus maps a non-2xx HTTP status to its error kind.
func classifyStatus(op string, status int) *APIError {
	switch status {
	case http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, Status: status, Op: op}
	case http.StatusUnauthorized:
		return &APIError{Kind: KindAuth, Status: status, Op: op}
	default:
		return &APIError{Kind: KindStatus, Status: status, Op: op}
	}
}
