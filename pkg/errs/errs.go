// Package errs defines the error taxonomy shared by the billing domain
// packages. Services classify failures so that handlers can map them to
// HTTP statuses and so that mutation boundaries know which errors are
// retryable (conflicts) or ignorable (degraded dependencies).
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindValidation covers malformed or rule-breaking input: negative
	// payments, refunds exceeding the paid amount, cancelling a paid invoice.
	KindValidation Kind = iota + 1
	// KindNotFound covers missing invoices, claims, companies, records.
	KindNotFound
	// KindConflict covers optimistic-version mismatches and lock contention.
	// Conflicts are retryable at the mutation boundary.
	KindConflict
	// KindPolicyViolation covers exceeded annual caps and missing approvals.
	KindPolicyViolation
	// KindDependencyDegraded covers non-fatal external failures such as an
	// unavailable exchange-rate service. Callers log and fall back.
	KindDependencyDegraded
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPolicyViolation:
		return "policy_violation"
	case KindDependencyDegraded:
		return "dependency_degraded"
	}
	return "unknown"
}

// Error carries a kind alongside the message so callers can branch on the
// class of failure without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func PolicyViolation(format string, args ...interface{}) error {
	return &Error{Kind: KindPolicyViolation, Msg: fmt.Sprintf(format, args...)}
}

func DependencyDegraded(msg string, err error) error {
	return &Error{Kind: KindDependencyDegraded, Msg: msg, Err: err}
}

// Wrap attaches a kind to an underlying error.
func Wrap(k Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool      { return kindOf(err) == KindValidation }
func IsNotFound(err error) bool        { return kindOf(err) == KindNotFound }
func IsConflict(err error) bool        { return kindOf(err) == KindConflict }
func IsPolicyViolation(err error) bool { return kindOf(err) == KindPolicyViolation }
func IsDegraded(err error) bool        { return kindOf(err) == KindDependencyDegraded }

// HTTPStatus maps an error to the status code handlers should respond with.
func HTTPStatus(err error) int {
	switch kindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindDependencyDegraded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
