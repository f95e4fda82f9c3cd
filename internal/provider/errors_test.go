package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"rate limit phrase", errors.New("Rate limit exceeded, retry later"), KindRateLimit},
		{"status 429 text", errors.New("request failed with status 429"), KindRateLimit},
		{"too many requests", errors.New("too many requests"), KindRateLimit},
		{"timeout", errors.New("request timeout"), KindTransient},
		{"deadline", errors.New("context deadline exceeded"), KindTransient},
		{"connection reset", errors.New("read: connection reset by peer"), KindTransient},
		{"bad gateway", errors.New("upstream returned 502"), KindTransient},
		{"overloaded", errors.New("anthropic: overloaded_error"), KindTransient},
		{"invalid request", errors.New("invalid request: missing field"), KindFatal},
		{"auth", errors.New("incorrect api key provided"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != KindFatal {
		t.Errorf("Classify(nil) = %v, want %v", got, KindFatal)
	}
}

func TestIsRateLimitAndIsTransient(t *testing.T) {
	rl := &Error{Kind: KindRateLimit, Provider: "openai"}
	if !IsRateLimit(rl) {
		t.Error("expected structured rate-limit error to be detected")
	}
	if IsTransient(rl) {
		t.Error("rate-limit error must not classify as transient")
	}

	tr := &Error{Kind: KindTransient, Provider: "anthropic"}
	if !IsTransient(tr) {
		t.Error("expected structured transient error to be detected")
	}

	// Wrapped errors unwrap through fmt.Errorf chains.
	wrapped := fmt.Errorf("stream failed: %w", rl)
	if !IsRateLimit(wrapped) {
		t.Error("expected wrapped rate-limit error to be detected")
	}

	// Plain errors fall back to text classification.
	if !IsTransient(errors.New("service temporarily unavailable, try again")) {
		t.Error("expected plain transient text to be detected")
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindRateLimit, Provider: "openai", Status: 429, Message: "slow down"}
	got := e.Error()
	want := "[rate_limit] openai status=429 slow down"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	e2 := &Error{Kind: KindFatal, Cause: errors.New("boom")}
	if e2.Error() != "[fatal] boom" {
		t.Errorf("Error() = %q", e2.Error())
	}
}

func TestValidateTools(t *testing.T) {
	good := []Tool{{Type: "function", Function: FunctionDef{Name: "restart_service"}}}
	if !ValidateTools(good) {
		t.Error("expected valid tool list to pass")
	}
	if !ValidateTools(nil) {
		t.Error("empty list is valid")
	}
	if ValidateTools([]Tool{{Type: "retrieval"}}) {
		t.Error("non-function type must fail")
	}
	if ValidateTools([]Tool{{Type: "function"}}) {
		t.Error("unnamed function must fail")
	}
}
