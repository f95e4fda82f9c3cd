// Package models provides domain types shared across the Helmsman
// orchestration engine: transcript messages, tool calls, normalized
// tool-result content, and the run event stream.
package models

// Role indicates the transcript turn author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the allowed transcript roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Message is a single role-tagged turn in a run transcript.
// Within a run, messages are append-only: state-machine steps merge by
// appending, never by replacing or reordering.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries the assistant's tool invocation requests.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a RoleTool turn with the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name for RoleTool turns.
	Name string `json:"name,omitempty"`
}

// ToolCall is a request to execute a tool. ID is stable across a
// paused and resumed run so approval decisions can be matched to it.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ContentBlock is the normalized result unit exchanged with the tool
// registry and carried on events. Unknown shapes are stringified into
// text blocks rather than dropped.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// FlattenBlocks concatenates the text of all text blocks, stringifying
// non-text blocks by their type tag.
func FlattenBlocks(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		} else {
			out += "[" + b.Type + "]"
		}
	}
	return out
}
