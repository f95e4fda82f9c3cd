package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// FailureKind categorizes why a provider request failed. The model-turn
// runner selects its retry schedule from this.
type FailureKind string

const (
	// KindRateLimit indicates throttling (HTTP 429).
	KindRateLimit FailureKind = "rate_limit"

	// KindTransient indicates a temporary fault worth retrying:
	// timeouts, connection resets, 5xx responses.
	KindTransient FailureKind = "transient"

	// KindFatal indicates a failure that retrying cannot fix.
	KindFatal FailureKind = "fatal"
)

// Error is a structured provider failure carrying the classification
// retry logic depends on.
type Error struct {
	Kind     FailureKind
	Provider string
	Status   int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRateLimit reports whether err is a throttling failure.
func IsRateLimit(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindRateLimit
	}
	return Classify(err) == KindRateLimit
}

// IsTransient reports whether err is a temporary fault worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	return Classify(err) == KindTransient
}

// Classify inspects an error's text and returns a FailureKind.
// Providers emitting opaque errors still get sensible retry behavior.
func Classify(err error) FailureKind {
	if err == nil {
		return KindFatal
	}
	s := strings.ToLower(err.Error())

	if strings.Contains(s, "rate limit") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429") {
		return KindRateLimit
	}

	if strings.Contains(s, "timeout") ||
		strings.Contains(s, "timed out") ||
		strings.Contains(s, "deadline exceeded") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "network") ||
		strings.Contains(s, "temporarily unavailable") ||
		strings.Contains(s, "try again") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "internal server") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "504") {
		return KindTransient
	}

	return KindFatal
}

func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

func wrapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	pe := &Error{Provider: "openai", Cause: err, Kind: Classify(err)}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.HTTPStatusCode
		pe.Message = apiErr.Message
		if k := classifyStatus(apiErr.HTTPStatusCode); k != KindFatal {
			pe.Kind = k
		}
	}
	return pe
}

func wrapAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	pe := &Error{Provider: "anthropic", Cause: err, Kind: Classify(err)}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.StatusCode
		if k := classifyStatus(apiErr.StatusCode); k != KindFatal {
			pe.Kind = k
		}
	}
	return pe
}
