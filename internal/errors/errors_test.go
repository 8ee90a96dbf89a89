package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRegisterAndAttributes(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Retryable: true})

	if !Registered(code) {
		t.Fatalf("expected %s to be registered", code)
	}
	attr := AttributesOf(code)
	if attr.Message != "registered" || !attr.Retryable {
		t.Fatalf("unexpected attributes: %+v", attr)
	}
	if got := AttributesOf("NEVER_REGISTERED"); got != AttributesOf(CodeUnknown) {
		t.Fatalf("unregistered code should fall back to UNKNOWN, got %+v", got)
	}

	err := New(code, "")
	if err.Message() != "registered" {
		t.Fatalf("empty message should use registered default, got %q", err.Message())
	}
	if !err.Retryable() || err.Severity() != SeverityWarning {
		t.Fatalf("defaults not applied: retryable=%v severity=%s", err.Retryable(), err.Severity())
	}
}

func TestWrapAndCodeLookup(t *testing.T) {
	cause := stdErrors.New("disk full")
	wrapped := Wrap(CodeStorageFailure, cause, "write journal", WithMetadata("table", "behavior_events"))
	outer := fmt.Errorf("record: %w", wrapped)

	if CodeOf(outer) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(outer))
	}
	if !HasCode(outer, CodeStorageFailure) {
		t.Fatalf("HasCode should find STORAGE_FAILURE in chain")
	}
	if HasCode(outer, CodeNotFound) {
		t.Fatalf("HasCode matched an unrelated code")
	}
	if !stdErrors.Is(outer, cause) {
		t.Fatalf("cause should stay reachable through Unwrap")
	}
	if got := wrapped.Metadata()["table"]; got != "behavior_events" {
		t.Fatalf("unexpected metadata: %q", got)
	}
	if !RetryableError(outer) || !ShouldAlert(outer) {
		t.Fatalf("storage failures should be retryable and alerting")
	}
	if CodeOf(cause) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
}

func TestOptionOverrides(t *testing.T) {
	err := New(CodeTimeout, "slow", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("overrides not applied: %+v", err)
	}
	if got := err.Error(); got != "[TIMEOUT] slow" {
		t.Fatalf("unexpected error string: %s", got)
	}

	formatted := Newf(CodeNotFound, "bundle %s missing after %d tries", "b1", 3)
	if formatted.Code() != CodeNotFound || formatted.Message() != "bundle b1 missing after 3 tries" {
		t.Fatalf("unexpected formatted error: %v", formatted)
	}
}

func TestCodesSorted(t *testing.T) {
	codes := Codes()
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("codes not sorted at %d: %s >= %s", i, codes[i-1], codes[i])
		}
	}
}
