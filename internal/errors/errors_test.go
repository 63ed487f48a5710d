package errors

import (
	"errors"
	"testing"
)

func TestPhaseError(t *testing.T) {
	underlying := errors.New("plan summary has no operators")
	err := NewPhaseError("PLAN_ANALYSIS", underlying)

	if err.Phase != "PLAN_ANALYSIS" {
		t.Errorf("expected Phase 'PLAN_ANALYSIS', got %q", err.Phase)
	}

	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to match underlying error")
	}

	expected := "phase PLAN_ANALYSIS: plan summary has no operators"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestPhaseErrorWrapsSentinel(t *testing.T) {
	err := NewPhaseError("BASELINE", ErrExecutionTimeout)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Error("PhaseError should surface the wrapped sentinel")
	}
}

func TestInputError(t *testing.T) {
	err := NewInputError("plan")

	if !errors.Is(err, ErrMissingInput) {
		t.Error("InputError should match ErrMissingInput")
	}

	expected := "plan: required input missing"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("timeout", "-5s", "must be positive")

	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("ValidationError should match ErrInvalidConfig")
	}

	expected := `invalid timeout "-5s": must be positive`
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestValidationErrorNoValue(t *testing.T) {
	err := NewValidationError("url", "", "required")
	expected := "invalid url: required"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestCollectionError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewCollectionError("fetch statistics", underlying, true)

	if err.Op != "fetch statistics" {
		t.Errorf("expected Op 'fetch statistics', got %q", err.Op)
	}

	if !err.Partial {
		t.Error("expected Partial to be true")
	}

	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to match underlying error")
	}

	expected := "partial collection error in fetch statistics: connection refused"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestCollectionErrorNonPartial(t *testing.T) {
	err := NewCollectionError("connect", errors.New("timeout"), false)
	expected := "collection error in connect: timeout"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestMultiError(t *testing.T) {
	me := &MultiError{}

	if me.ErrorOrNil() != nil {
		t.Error("empty MultiError should return nil")
	}

	me.Add(nil) // Should be ignored
	if me.ErrorOrNil() != nil {
		t.Error("MultiError with only nil should return nil")
	}

	err1 := errors.New("error 1")
	err2 := errors.New("error 2")

	me.Add(err1)
	me.Add(err2)

	if len(me.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(me.Errors))
	}

	if !errors.Is(me, err1) {
		t.Error("MultiError should match first error")
	}

	expected := "2 errors occurred; first: error 1"
	if me.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, me.Error())
	}
}

func TestMultiErrorSingle(t *testing.T) {
	me := &MultiError{}
	err := errors.New("single error")
	me.Add(err)

	if me.Error() != "single error" {
		t.Errorf("single error should return just the error message")
	}
}

func TestMultiErrorEmpty(t *testing.T) {
	me := &MultiError{}
	if me.Error() != "no errors" {
		t.Errorf("empty MultiError.Error() should return 'no errors'")
	}
	if me.Unwrap() != nil {
		t.Error("empty MultiError.Unwrap() should return nil")
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify sentinel errors are distinct
	sentinels := []error{
		ErrExecutionTimeout,
		ErrMissingInput,
		ErrMalformedPlan,
		ErrAmbiguousContext,
		ErrInvalidConfig,
		ErrSessionConcluded,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}
