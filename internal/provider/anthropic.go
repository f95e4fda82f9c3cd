package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicClient implements Client for the Anthropic Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	logger       *slog.Logger
}

// NewAnthropicClient creates an Anthropic provider. An empty model
// selects the package default.
func NewAnthropicClient(apiKey, model string, logger *slog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: model,
		logger:       logger.With("provider", "anthropic"),
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Close() error { return nil }

// Stream starts a streaming messages request and forwards raw deltas.
// Anthropic keys tool-use fragments by content block index, which maps
// directly onto ToolCallDelta.Index.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)

	out := make(chan *Chunk)
	go func() {
		defer close(out)
		c.pump(ctx, stream, out)
	}()
	return out, nil
}

func (c *AnthropicClient) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- *Chunk) {
	usage := &Usage{}
	send := func(ch *Chunk) bool {
		select {
		case out <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			u := event.AsMessageStart().Message.Usage
			usage.PromptTokens = int(u.InputTokens)
			usage.CachedTokens = int(u.CacheReadInputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				frag := &ToolCallDelta{
					Index: int(event.Index),
					ID:    tu.ID,
					Name:  tu.Name,
				}
				if !send(&Chunk{ToolCall: frag}) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(&Chunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				frag := &ToolCallDelta{
					Index:     int(event.Index),
					Arguments: delta.PartialJSON,
				}
				if !send(&Chunk{ToolCall: frag}) {
					return
				}
			}

		case "message_delta":
			usage.CompletionTokens = int(event.AsMessageDelta().Usage.OutputTokens)

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			send(&Chunk{Done: true, Usage: usage})
			return
		}
	}
	if err := stream.Err(); err != nil {
		send(&Chunk{Err: wrapAnthropicError(err)})
		return
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	send(&Chunk{Done: true, Usage: usage})
}

// Complete issues a non-streaming messages request. JSONOnly has no
// API-level equivalent here; callers constrain output via the prompt.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	usage := &Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		CachedTokens:     int(msg.Usage.CacheReadInputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &Completion{Content: content, Usage: usage}, nil
}

func (c *AnthropicClient) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		if !ValidateTools(req.Tools) {
			c.logger.Warn("dropping malformed tool definitions")
		} else {
			tools, err := toAnthropicTools(req.Tools)
			if err != nil {
				return anthropic.MessageNewParams{}, err
			}
			params.Tools = tools
		}
	}
	return params, nil
}

// toAnthropicMessages converts the prepared history. System-role
// messages are concatenated into the API's dedicated system field; tool
// results become tool_result blocks on user messages.
func toAnthropicMessages(in []models.Message) (string, []anthropic.MessageParam, error) {
	var system string
	var out []anthropic.MessageParam

	for _, m := range in {
		if !m.Role.Valid() {
			return "", nil, fmt.Errorf("anthropic: invalid message role %q", m.Role)
		}
		if m.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		} else if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			input := tc.Args
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return system, out, nil
}

func toAnthropicTools(in []Tool) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range in {
		raw, err := json.Marshal(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", t.Function.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", t.Function.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s", t.Function.Name)
		}
		param.OfTool.Description = anthropic.String(t.Function.Description)
		out = append(out, param)
	}
	return out, nil
}
