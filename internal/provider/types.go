// Package provider implements streaming completion clients for the
// model backends Helmsman can drive. Providers pass stream fragments
// through unmodified; buffering and finalization of partial tool calls
// belong to the orchestrator's model-turn runner.
package provider

import (
	"context"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Client is the interface for Large Language Model backends.
//
// Implementations must be safe for concurrent use: multiple goroutines
// may call Stream simultaneously for different runs.
type Client interface {
	// Stream issues one streaming completion request. The returned
	// channel is closed when the stream ends; a terminal chunk carries
	// Done and, when the backend supplies it, Usage.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Complete issues a one-shot, non-streaming completion. Used for
	// secondary judgment calls (next speaker, titles).
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// Name returns the stable lowercase provider identifier.
	Name() string

	// Close releases network resources held by the client.
	Close() error
}

// Request contains all parameters for a completion request.
type Request struct {
	// Model specifies which model to use. If empty, the provider's
	// default model is used.
	Model string

	// Messages is the prepared conversation history, chronological.
	Messages []models.Message

	// Tools defines the tools available to the model, in
	// completion-API shape. Empty disables tool calling.
	Tools []Tool

	// Temperature is the sampling temperature. Callers clamp it to
	// [0.0, 2.0] before issuing the request.
	Temperature float32

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int

	// JSONOnly constrains the response to a JSON object where the
	// backend supports it. Used by judgment calls.
	JSONOnly bool
}

// Tool is a tool definition in completion-API shape.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes one callable function.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ValidateTools reports whether a tool list is structurally sound for a
// completion request: every entry typed "function" with a named
// function. An invalid list is dropped by callers rather than sent.
func ValidateTools(tools []Tool) bool {
	for _, t := range tools {
		if t.Type != "function" {
			return false
		}
		if t.Function.Name == "" {
			return false
		}
	}
	return true
}

// Chunk is a single fragment of a streaming completion response.
//
// Exactly one of Text, ToolCall, or Err is meaningful per chunk, except
// the terminal chunk which carries Done and optionally Usage.
type Chunk struct {
	// Text is an incremental content delta.
	Text string

	// ToolCall is a raw tool-call fragment. Backends may split one
	// logical call across many fragments sharing an index.
	ToolCall *ToolCallDelta

	// Usage is token accounting, present on the terminal chunk when
	// the backend reports it.
	Usage *Usage

	// Done marks the end of the stream.
	Done bool

	// Err is a stream-level failure; the channel closes after it.
	Err error
}

// ToolCallDelta is one fragment of a streamed tool call, keyed by the
// backend's content index. ID and Name may appear only on the first
// fragment; Arguments accumulates across all of them.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Usage is token accounting for one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CachedTokens     int
}

// Completion is the result of a one-shot Complete call.
type Completion struct {
	Content string
	Usage   *Usage
}
