package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeUnknownAgent, "no such agent", WithAgentID("worker-1"))

	if err.Code() != CodeUnknownAgent {
		t.Errorf("Code = %v, want %v", err.Code(), CodeUnknownAgent)
	}
	if err.Category() != CategoryValidation {
		t.Errorf("Category = %v, want %v", err.Category(), CategoryValidation)
	}
	if err.Retryable() {
		t.Error("validation errors should not be retryable")
	}
	if err.AgentID() != "worker-1" {
		t.Errorf("AgentID = %q, want %q", err.AgentID(), "worker-1")
	}
	if err.Timestamp().IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestCapacityShortfall(t *testing.T) {
	err := FromCode(CodeCapacity, WithShortfall(1.5), WithAgentID("worker-2"))

	if err.Category() != CategoryCapacity {
		t.Errorf("Category = %v, want %v", err.Category(), CategoryCapacity)
	}
	if !err.Retryable() {
		t.Error("capacity errors should be retryable")
	}
	if err.Shortfall() != 1.5 {
		t.Errorf("Shortfall = %v, want 1.5", err.Shortfall())
	}
}

func TestDefaultCategories(t *testing.T) {
	tests := []struct {
		code Code
		want Category
	}{
		{CodeUnknownAgent, CategoryValidation},
		{CodeDuplicateAgent, CategoryValidation},
		{CodeUnknownLock, CategoryValidation},
		{CodeCapacity, CategoryCapacity},
		{CodeNoCapableAgent, CategoryCapability},
		{CodeDependencyCycle, CategoryInternal},
		{CodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		if got := tt.code.DefaultCategory(); got != tt.want {
			t.Errorf("%s: category = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New(CodeCapacity, "pool exhausted", WithShortfall(2))
	wrapped := Wrap(inner, "requesting cpu")

	if wrapped.Code() != CodeCapacity {
		t.Errorf("Code = %v, want %v", wrapped.Code(), CodeCapacity)
	}
	if wrapped.Shortfall() != 2 {
		t.Errorf("Shortfall = %v, want 2", wrapped.Shortfall())
	}
	if !stderrors.Is(wrapped, inner) {
		t.Error("wrapped error should match inner via errors.Is")
	}
}

func TestWrapUnknownError(t *testing.T) {
	wrapped := Wrap(fmt.Errorf("boom"), "sweep failed")

	if wrapped.Code() != CodeInternal {
		t.Errorf("Code = %v, want %v", wrapped.Code(), CodeInternal)
	}
	if wrapped.Unwrap() == nil {
		t.Error("cause should be preserved")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", FromCode(CodeNoCapableAgent))

	if !HasCode(err, CodeNoCapableAgent) {
		t.Error("HasCode should see through wrapping")
	}
	if HasCode(err, CodeCapacity) {
		t.Error("HasCode matched wrong code")
	}
	if HasCode(fmt.Errorf("plain"), CodeInternal) {
		t.Error("HasCode matched a non-hub error")
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeCapacity, "cpu pool exhausted",
		WithShortfall(0.5), WithAgentID("worker-1"), WithTaskID("t-9"))

	data, merr := json.Marshal(err)
	if merr != nil {
		t.Fatalf("marshal: %v", merr)
	}

	var j map[string]interface{}
	if uerr := json.Unmarshal(data, &j); uerr != nil {
		t.Fatalf("unmarshal: %v", uerr)
	}
	if j["code"] != "CAPACITY" {
		t.Errorf("code = %v, want CAPACITY", j["code"])
	}
	if j["retryable"] != true {
		t.Error("retryable should be true")
	}
	if j["shortfall"] != 0.5 {
		t.Errorf("shortfall = %v, want 0.5", j["shortfall"])
	}
}
