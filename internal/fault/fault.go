// Package fault classifies orchestration errors so handlers and callers can
// react uniformly: validation and precondition failures are the caller's
// problem, configuration gaps are the operator's, and remote gateway errors
// are the billing processor's.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error classification.
type Kind int

const (
	// KindValidation covers bad identifiers and business-rule denials.
	KindValidation Kind = iota
	// KindPrecondition covers state-based refusals (not activated, in trial,
	// duplicate engagement). Never retried automatically.
	KindPrecondition
	// KindRemoteGateway covers billing-processor failures and timeouts.
	KindRemoteGateway
	// KindConfiguration covers missing price mappings and similar operator
	// errors. Always fatal to the attempted operation.
	KindConfiguration
	// KindNotFound covers missing or foreign-owned records.
	KindNotFound
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindRemoteGateway:
		return "remote_gateway"
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified orchestration error. Reason is machine-readable
// (e.g. "too_many_clients"), Message is human-readable.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error // wrapped cause, optional
	status  int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for this error.
func (e *Error) Status() int {
	if e.status != 0 {
		return e.status
	}
	switch e.Kind {
	case KindValidation, KindPrecondition:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRemoteGateway:
		return http.StatusBadGateway
	case KindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Validation creates a business-rule denial.
func Validation(reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message}
}

// Precondition creates a state-based refusal.
func Precondition(reason, message string) *Error {
	return &Error{Kind: KindPrecondition, Reason: reason, Message: message}
}

// Conflict creates a precondition error that maps to 409, for races lost to
// a concurrent writer (duplicate pending/active engagement).
func Conflict(reason, message string) *Error {
	return &Error{Kind: KindPrecondition, Reason: reason, Message: message, status: http.StatusConflict}
}

// Remote wraps a billing-gateway failure.
func Remote(reason, message string, err error) *Error {
	return &Error{Kind: KindRemoteGateway, Reason: reason, Message: message, Err: err}
}

// Configuration creates a "not configured" error, distinct from user error
// so operators can tell a missing price mapping from a bad request.
func Configuration(reason, message string) *Error {
	return &Error{Kind: KindConfiguration, Reason: reason, Message: message}
}

// NotFound creates a missing-record error.
func NotFound(reason, message string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: message}
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsKind reports whether err is a fault of the given kind.
func IsKind(err error, k Kind) bool {
	fe, ok := As(err)
	return ok && fe.Kind == k
}
