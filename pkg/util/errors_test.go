package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		msg := err.Error()
		if !strings.Contains(msg, "field is required") {
			t.Errorf("Error message should contain the error: %s", msg)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("field1 is required", "field2 is invalid", "field3 out of range")
		msg := err.Error()
		if !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") || !strings.Contains(msg, "field3") {
			t.Errorf("Error message should contain all errors: %s", msg)
		}
	})
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(true, "this should not appear")

		if v.HasErrors() {
			t.Error("Should not have errors when all conditions are true")
		}
		if err := v.Build(); err != nil {
			t.Errorf("Build() should return nil when no errors: %v", err)
		}
	})

	t.Run("with errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(false, "first error")
		v.Add(true, "this passes")
		v.Add(false, "second error")
		v.AddError("unconditional error")
		v.AddErrorf("formatted error: %d", 42)

		err := v.Build()
		if err == nil {
			t.Fatal("Build() should return error")
		}

		validationErr, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("Expected *ValidationError, got %T", err)
		}
		if len(validationErr.Errors) != 4 {
			t.Errorf("Expected 4 errors, got %d", len(validationErr.Errors))
		}
	})
}

func TestIntentError(t *testing.T) {
	err := NewIntentError("TUNNEL_DECAP_TABLE", "MuxTunnel0",
		(&ValidationBuilder{}).AddError("unsupported tunnel_type GRE").Build())

	if !errors.Is(err, ErrInvalidIntent) {
		t.Error("IntentError should unwrap to ErrInvalidIntent")
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Error("IntentError should expose the wrapped ValidationError")
	}
	if !strings.Contains(err.Error(), "TUNNEL_DECAP_TABLE|MuxTunnel0") {
		t.Errorf("Error message should name the record: %s", err)
	}

	short := InvalidIntentf("PFC_WD", "Ethernet0", "bad action %q", "shout")
	if !errors.Is(short, ErrInvalidIntent) || !strings.Contains(short.Error(), "shout") {
		t.Errorf("InvalidIntentf() = %v", short)
	}
}

func TestBoundaryError(t *testing.T) {
	cause := errors.New("connection reset")

	transient := NewBoundaryError("create", "SAI_OBJECT_TYPE_ROUTE_ENTRY", cause)
	if !IsTransient(transient) || IsFatal(transient) {
		t.Errorf("transient boundary error misclassified: %v", transient)
	}
	if !errors.Is(transient, cause) {
		t.Error("BoundaryError should unwrap to its cause")
	}

	exhausted := &BoundaryError{Op: "create", Object: "SAI_OBJECT_TYPE_NEXT_HOP", Exhausted: true, Err: cause}
	if IsTransient(exhausted) || !IsFatal(exhausted) {
		t.Errorf("exhausted boundary error misclassified: %v", exhausted)
	}

	wrapped := fmt.Errorf("applying route: %w", exhausted)
	if !IsFatal(wrapped) {
		t.Error("IsFatal should see through wrapping")
	}
}

func TestIsDeferrable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"missing prerequisite", NewDependencyError("Ethernet8|10.0.0.0/31", "router interface", "Ethernet8"), true},
		{"in use", NewInUseError("rif:Ethernet8", "route:default:10.0.0.0/31"), true},
		{"wrapped", fmt.Errorf("resolve: %w", NewDependencyError("a", "b", "c")), true},
		{"invalid intent", InvalidIntentf("T", "k", "bad"), false},
		{"boundary", NewBoundaryError("remove", "x", errors.New("boom")), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDeferrable(tt.err); got != tt.want {
				t.Errorf("IsDeferrable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDependencyErrorMessage(t *testing.T) {
	err := NewDependencyError("Ethernet8|fc00::1/126", "router interface", "Ethernet8")
	want := "Ethernet8|fc00::1/126 requires router interface 'Ethernet8' to exist"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestReferenceError(t *testing.T) {
	err := &ReferenceError{Key: "rif:Ethernet8", Owner: "intf", Reason: "release of unknown key"}
	if !errors.Is(err, ErrReferenceInvariant) {
		t.Error("ReferenceError should unwrap to ErrReferenceInvariant")
	}
	if !strings.Contains(err.Error(), "owner intf") {
		t.Errorf("Error message should name the owner: %s", err)
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrMissingPrerequisite,
		ErrInUse,
		ErrInvalidIntent,
		ErrValidationFailed,
		ErrBoundaryFailure,
		ErrReferenceInvariant,
		ErrNotFound,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}
