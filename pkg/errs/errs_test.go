package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindMatchers(t *testing.T) {
	if !IsValidation(Validation("bad amount")) {
		t.Error("expected validation kind")
	}
	if !IsConflict(Conflict("version mismatch")) {
		t.Error("expected conflict kind")
	}
	if !IsNotFound(NotFound("invoice %s", "abc")) {
		t.Error("expected not found kind")
	}
	if !IsPolicyViolation(PolicyViolation("annual cap exceeded")) {
		t.Error("expected policy violation kind")
	}
	if !IsDegraded(DependencyDegraded("rate unavailable", nil)) {
		t.Error("expected degraded kind")
	}
}

func TestMatchersSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("add payment: %w", Conflict("version mismatch"))
	if !IsConflict(err) {
		t.Error("expected conflict through fmt.Errorf wrapping")
	}
	if IsValidation(err) {
		t.Error("wrapped conflict misclassified as validation")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	err := DependencyDegraded("rate unavailable", inner)
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to reach the inner error")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("x"), http.StatusBadRequest},
		{NotFound("x"), http.StatusNotFound},
		{Conflict("x"), http.StatusConflict},
		{PolicyViolation("x"), http.StatusUnprocessableEntity},
		{DependencyDegraded("x", nil), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
