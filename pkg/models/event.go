package models

import "time"

// EventType identifies the kind of run event.
type EventType string

const (
	// Model streaming
	EventGenerationStart    EventType = "generation.start"
	EventToken              EventType = "token"
	EventTTFT               EventType = "ttft"
	EventTokenUsage         EventType = "token.usage"
	EventGenerationComplete EventType = "generation.complete"

	// Tool lifecycle
	EventToolsPending         EventType = "tools.pending"
	EventToolAwaitingApproval EventType = "tool.awaiting_approval"
	EventToolApproved         EventType = "tool.approved"
	EventToolDenied           EventType = "tool.denied"
	EventToolExecuting        EventType = "tool.executing"
	EventToolResult           EventType = "tool.result"
	EventToolError            EventType = "tool.error"

	// Failure recovery
	EventRateLimit      EventType = "rate_limit"
	EventTransientError EventType = "transient_error"
	EventWorkflowError  EventType = "workflow.error"

	// Run lifecycle
	EventCompleted EventType = "completed"
)

// RunStatus is the terminal status carried on a completed event.
type RunStatus string

const (
	StatusCompleted        RunStatus = "completed"
	StatusStopped          RunStatus = "stopped"
	StatusAwaitingApproval RunStatus = "awaiting_approval"
)

// UsageSource tags token usage events by the call that incurred them.
type UsageSource string

const (
	UsageSourceMain      UsageSource = "main"
	UsageSourceTurnCheck UsageSource = "turn_check"
)

// Event is a typed, timestamped record of observable orchestration
// progress. Exactly one payload pointer is non-nil for types that carry
// one; small scalar payloads live inline.
type Event struct {
	Type           EventType `json:"type"`
	RunID          string    `json:"run_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`

	// Timestamp is wall-clock epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	Generation *GenerationPayload `json:"generation,omitempty"`
	Token      *TokenPayload      `json:"token,omitempty"`
	TTFT       *TTFTPayload       `json:"ttft,omitempty"`
	Usage      *UsagePayload      `json:"usage,omitempty"`
	Pending    *PendingPayload    `json:"pending,omitempty"`
	Tool       *ToolPayload       `json:"tool,omitempty"`
	Retry      *RetryPayload      `json:"retry,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`
	Completed  *CompletedPayload  `json:"completed,omitempty"`
}

// NewEvent builds an event of the given type stamped with the current
// wall-clock time.
func NewEvent(t EventType, runID string) Event {
	return Event{Type: t, RunID: runID, Timestamp: time.Now().UnixMilli()}
}

// GenerationPayload describes a model turn starting or finishing.
type GenerationPayload struct {
	Model           string `json:"model,omitempty"`
	ToolsAvailable  int    `json:"tools_available,omitempty"`
	TokensGenerated int    `json:"tokens_generated,omitempty"`
	ToolCalls       int    `json:"tool_calls,omitempty"`
	Content         string `json:"content,omitempty"`
}

// TokenPayload carries one incremental text delta.
type TokenPayload struct {
	Text            string `json:"text"`
	TokensGenerated int    `json:"tokens_generated"`
}

// TTFTPayload reports time to first token, emitted once per run.
type TTFTPayload struct {
	DurationMs int64 `json:"duration_ms"`
}

// UsagePayload reports token accounting for one completion call.
type UsagePayload struct {
	Source           UsageSource `json:"source"`
	Model            string      `json:"model"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
	CachedTokens     int         `json:"cached_tokens,omitempty"`
	Cost             float64     `json:"cost"`
}

// PendingToolInfo is the per-call detail on a tools.pending event.
type PendingToolInfo struct {
	CallID           string         `json:"call_id"`
	Tool             string         `json:"tool"`
	Title            string         `json:"title"`
	Args             map[string]any `json:"args"`
	RequiresApproval bool           `json:"requires_approval"`
}

// PendingPayload previews a batch of tool calls about to be gated.
type PendingPayload struct {
	Tools []PendingToolInfo `json:"tools"`
}

// ToolPayload describes one tool call's lifecycle transition.
type ToolPayload struct {
	CallID string         `json:"call_id"`
	Tool   string         `json:"tool"`
	Title  string         `json:"title,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result []ContentBlock `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// RetryPayload announces a backoff before another model-turn attempt.
type RetryPayload struct {
	RetryInSeconds int    `json:"retry_in"`
	Attempt        int    `json:"attempt"`
	MaxRetries     int    `json:"max_retries"`
	Error          string `json:"error,omitempty"`
}

// ErrorPayload carries a structured, user-visible workflow error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CompletedPayload is the terminal run report.
type CompletedPayload struct {
	Status     RunStatus `json:"status"`
	DurationMs int64     `json:"duration_ms"`
}
