package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient implements Client for the OpenAI chat completions API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewOpenAIClient creates an OpenAI provider. An empty model selects
// the package default.
func NewOpenAIClient(apiKey, model string, logger *slog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		defaultModel: model,
		logger:       logger.With("provider", "openai"),
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Close() error { return nil }

// Stream starts a streaming chat completion and forwards raw deltas.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	ccr, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	ccr.Stream = true
	ccr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	out := make(chan *Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var usage *Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case out <- &Chunk{Done: true, Usage: usage}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case out <- &Chunk{Err: wrapOpenAIError(err)}:
				case <-ctx.Done():
				}
				return
			}

			// The usage-bearing frame has no choices.
			if resp.Usage != nil {
				usage = &Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
				if d := resp.Usage.PromptTokensDetails; d != nil {
					usage.CachedTokens = d.CachedTokens
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				select {
				case out <- &Chunk{Text: delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				frag := &ToolCallDelta{
					Index:     idx,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
				select {
				case out <- &Chunk{ToolCall: frag}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Complete issues a one-shot completion and returns the full content.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	ccr, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	if req.JSONOnly {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	out := &Completion{Content: resp.Choices[0].Message.Content}
	out.Usage = &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		out.Usage.CachedTokens = d.CachedTokens
	}
	return out, nil
}

func (c *OpenAIClient) buildRequest(req *Request) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	msgs, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	ccr := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		ccr.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		if !ValidateTools(req.Tools) {
			c.logger.Warn("dropping malformed tool definitions")
		} else {
			ccr.Tools = toOpenAITools(req.Tools)
		}
	}
	return ccr, nil
}

func toOpenAIMessages(in []models.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("openai: invalid message role %q", m.Role)
		}
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == models.RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal tool args for %s: %w", tc.Name, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

func toOpenAITools(in []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(in))
	for _, t := range in {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
