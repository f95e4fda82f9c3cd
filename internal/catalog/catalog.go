// Package catalog manages the tool catalog exposed by the tool
// registry: fetching tool specifications, caching them per run, and
// validating call arguments against their schemas.
package catalog

import (
	"context"

	"github.com/helmsman-ai/helmsman/internal/provider"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// ToolSpec describes one tool offered by the registry.
type ToolSpec struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Annotations *Annotations   `json:"annotations,omitempty"`
}

// Annotations carry registry-supplied behavior hints.
type Annotations struct {
	// ReadOnlyHint marks tools that only observe state. Read-only
	// tools execute without operator approval.
	ReadOnlyHint bool `json:"readOnlyHint,omitempty"`
}

// DisplayTitle returns the human-facing name for the tool.
func (s *ToolSpec) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Name
}

// CallResult is the outcome of one tool invocation.
type CallResult struct {
	Content []models.ContentBlock `json:"content"`
	IsError bool                  `json:"isError,omitempty"`
}

// Invoker lists and calls tools on a registry.
type Invoker interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
}

// AsCompletionTools converts registry specs into completion-API tool
// definitions. Tools without a schema get an empty object schema so
// backends accept them.
func AsCompletionTools(specs []ToolSpec) []provider.Tool {
	out := make([]provider.Tool, 0, len(specs))
	for _, s := range specs {
		params := s.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, provider.Tool{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
