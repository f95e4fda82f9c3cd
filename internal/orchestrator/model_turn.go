package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helmsman-ai/helmsman/internal/backoff"
	"github.com/helmsman-ai/helmsman/internal/catalog"
	"github.com/helmsman-ai/helmsman/internal/provider"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// errStopRequested aborts a run cooperatively; it is never retried and
// terminates the run with status stopped, not an error.
var errStopRequested = errors.New("stop requested")

// turnResult is the outcome of one model turn.
type turnResult struct {
	messages    []models.Message
	toolCalls   []models.ToolCall
	ttftEmitted bool
}

// toolCallAccumulator collects fragments of one streamed tool call.
// The id keeps its first non-empty value; name and arguments
// concatenate across chunks.
type toolCallAccumulator struct {
	id        string
	name      strings.Builder
	arguments strings.Builder
}

// runModelTurn issues one streaming completion, buffering content and
// tool-call fragments, with bounded retries on rate-limit and transient
// failures. The last encountered error surfaces when retries exhaust.
func (o *Orchestrator) runModelTurn(ctx context.Context, state *RunState) (*turnResult, error) {
	ctx, span := o.tracer.Start(ctx, "model_turn")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		result, err := o.streamOnce(ctx, state)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, errStopRequested) || errors.Is(err, errInvalidInput) {
			return nil, err
		}
		lastErr = err

		var policy backoff.Policy
		var eventType models.EventType
		switch {
		case provider.IsRateLimit(err):
			policy = backoff.RateLimitPolicy()
			eventType = models.EventRateLimit
		case provider.IsTransient(err):
			policy = backoff.TransientPolicy()
			eventType = models.EventTransientError
		default:
			return nil, err
		}
		if attempt == o.cfg.MaxRetries {
			break
		}

		wait := backoff.Compute(policy, attempt+1)
		o.logger.Warn("model turn failed, retrying",
			"run_id", state.RunID, "attempt", attempt+1,
			"max_retries", o.cfg.MaxRetries, "wait", wait, "error", err)
		if o.metrics != nil {
			o.metrics.RetryCounter.WithLabelValues(string(eventType)).Inc()
		}

		e := models.NewEvent(eventType, state.RunID)
		e.Retry = &models.RetryPayload{
			RetryInSeconds: int(wait / time.Second),
			Attempt:        attempt + 1,
			MaxRetries:     o.cfg.MaxRetries,
			Error:          err.Error(),
		}
		o.emit(&e)

		if err := o.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.Bool("retries_exhausted", true))
	return nil, fmt.Errorf("model turn failed after %d retries: %w", o.cfg.MaxRetries, lastErr)
}

// errInvalidInput marks malformed message history or tool schemas;
// retrying cannot fix it.
var errInvalidInput = errors.New("invalid turn input")

func (o *Orchestrator) streamOnce(ctx context.Context, state *RunState) (*turnResult, error) {
	tools := o.loadTools(ctx)

	prepared, err := prepareMessages(state.Messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidInput, err)
	}

	temperature := clampTemperature(o.cfg.Temperature)
	model := o.modelName()

	startEvent := models.NewEvent(models.EventGenerationStart, state.RunID)
	startEvent.ConversationID = state.ConversationID
	startEvent.Generation = &models.GenerationPayload{Model: model, ToolsAvailable: len(tools)}
	o.emit(&startEvent)

	if o.metrics != nil {
		o.metrics.TurnCounter.WithLabelValues(o.provider.Name(), model).Inc()
	}

	// Cancelling on return unblocks the producer goroutine when the
	// stream is abandoned mid-way, such as on a stop request, so the
	// provider can release its network resources.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := o.provider.Stream(ctx, &provider.Request{
		Model:       model,
		Messages:    prepared,
		Tools:       tools,
		Temperature: temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var (
		content         strings.Builder
		buffers         = map[int]*toolCallAccumulator{}
		tokensGenerated int
		usage           *provider.Usage
		streamErr       error
		ttftEmitted     = state.TTFTEmitted
	)

	emitTTFT := func() {
		if ttftEmitted || state.Start.IsZero() {
			return
		}
		elapsed := time.Since(state.Start)
		e := models.NewEvent(models.EventTTFT, state.RunID)
		e.ConversationID = state.ConversationID
		e.TTFT = &models.TTFTPayload{DurationMs: elapsed.Milliseconds()}
		o.emit(&e)
		if o.metrics != nil {
			o.metrics.TTFT.WithLabelValues(o.provider.Name(), model).Observe(elapsed.Seconds())
		}
		ttftEmitted = true
	}

	for chunk := range stream {
		if tokensGenerated%o.cfg.StopPollInterval == 0 && o.stops.ShouldStop(state.RunID) {
			return nil, errStopRequested
		}

		switch {
		case chunk.Err != nil:
			streamErr = chunk.Err

		case chunk.Text != "":
			content.WriteString(chunk.Text)
			tokensGenerated++
			emitTTFT()
			e := models.NewEvent(models.EventToken, state.RunID)
			e.ConversationID = state.ConversationID
			e.Token = &models.TokenPayload{Text: chunk.Text, TokensGenerated: tokensGenerated}
			o.emit(&e)

		case chunk.ToolCall != nil:
			emitTTFT()
			frag := chunk.ToolCall
			acc, ok := buffers[frag.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				buffers[frag.Index] = acc
			}
			if acc.id == "" && frag.ID != "" {
				acc.id = frag.ID
			}
			acc.name.WriteString(frag.Name)
			acc.arguments.WriteString(frag.Arguments)

		case chunk.Done:
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		}
	}

	// A mid-stream failure with nothing buffered is a turn failure;
	// with partial output we keep what arrived, matching the stance
	// that a visible partial answer beats a retry loop.
	if streamErr != nil && content.Len() == 0 && len(buffers) == 0 {
		return nil, streamErr
	}

	if usage != nil {
		o.emitUsage(state, models.UsageSourceMain, model, usage)
	}

	result := o.finalizeTurn(state, model, content.String(), buffers, tools, tokensGenerated)
	result.ttftEmitted = ttftEmitted
	return result, nil
}

// finalizeTurn assembles the assistant message and parses buffered tool
// calls. Calls naming tools absent from the catalog are dropped.
func (o *Orchestrator) finalizeTurn(state *RunState, model, content string, buffers map[int]*toolCallAccumulator, tools []provider.Tool, tokensGenerated int) *turnResult {
	known := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		known[t.Function.Name] = struct{}{}
	}

	indexes := make([]int, 0, len(buffers))
	for idx := range buffers {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var formatted []models.ToolCall
	var accepted []models.ToolCall
	for _, idx := range indexes {
		acc := buffers[idx]
		id := strings.TrimSpace(acc.id)
		if id == "" {
			id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		name := strings.TrimSpace(acc.name.String())
		args := parseToolArguments(acc.arguments.String())
		formatted = append(formatted, models.ToolCall{ID: id, Name: name, Args: args})

		if name == "" {
			continue
		}
		if _, ok := known[name]; !ok {
			o.logger.Debug("dropping call to unknown tool", "tool", name, "run_id", state.RunID)
			continue
		}
		accepted = append(accepted, models.ToolCall{ID: id, Name: name, Args: args})
	}

	result := &turnResult{toolCalls: accepted}
	if content != "" || len(formatted) > 0 {
		result.messages = append(result.messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: formatted,
		})
	}

	doneEvent := models.NewEvent(models.EventGenerationComplete, state.RunID)
	doneEvent.ConversationID = state.ConversationID
	doneEvent.Generation = &models.GenerationPayload{
		Model:           model,
		TokensGenerated: tokensGenerated,
		ToolCalls:       len(accepted),
		Content:         content,
	}
	o.emit(&doneEvent)

	return result
}

// loadTools fetches the catalog in completion shape, failing open to an
// empty tool set on any error or shape problem.
func (o *Orchestrator) loadTools(ctx context.Context) []provider.Tool {
	if o.catalog == nil {
		return nil
	}
	specs, err := o.catalog.GetAll(ctx)
	if err != nil {
		o.logger.Warn("failed to load tools, proceeding without", "error", err)
		return nil
	}
	tools := catalog.AsCompletionTools(specs)
	if !provider.ValidateTools(tools) {
		o.logger.Warn("tool catalog failed shape validation, proceeding without")
		return nil
	}
	return tools
}

// prepareMessages injects the system preamble and validates the final
// shape. An empty history or a bad role fails the turn immediately.
func prepareMessages(history []models.Message) ([]models.Message, error) {
	if len(history) == 0 {
		return nil, errors.New("no messages provided")
	}

	prepared := make([]models.Message, 0, len(history)+1)
	hasSystem := false
	for _, m := range history {
		if m.Role == models.RoleSystem {
			hasSystem = true
		}
	}
	if !hasSystem {
		prepared = append(prepared, models.Message{Role: models.RoleSystem, Content: systemPreamble})
	}
	prepared = append(prepared, history...)

	for i, m := range prepared {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
		if m.Role == models.RoleTool && m.ToolCallID == "" {
			return nil, fmt.Errorf("tool message %d missing call id", i)
		}
	}
	return prepared, nil
}

func clampTemperature(t float32) float32 {
	if t < 0 {
		return 0
	}
	if t > 2 {
		return 2
	}
	return t
}

func (o *Orchestrator) modelName() string {
	if o.cfg.Model != "" {
		return o.cfg.Model
	}
	return ""
}

func (o *Orchestrator) emitUsage(state *RunState, source models.UsageSource, model string, usage *provider.Usage) {
	e := models.NewEvent(models.EventTokenUsage, state.RunID)
	e.ConversationID = state.ConversationID
	e.Usage = &models.UsagePayload{
		Source:           source,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CachedTokens:     usage.CachedTokens,
		Cost:             computeCost(model, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens),
	}
	o.emit(&e)

	if o.metrics != nil {
		o.metrics.TokensUsed.WithLabelValues(model, "prompt", string(source)).Add(float64(usage.PromptTokens))
		o.metrics.TokensUsed.WithLabelValues(model, "completion", string(source)).Add(float64(usage.CompletionTokens))
	}
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`(\w+):`)
)

// parseToolArguments decodes a buffered argument string, applying a
// best-effort repair pass (trailing commas, unquoted keys, single
// quotes) before defaulting to empty arguments.
func parseToolArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}

	fixed := trailingCommaRe.ReplaceAllString(raw, "$1")
	fixed = unquotedKeyRe.ReplaceAllString(fixed, `"$1":`)
	fixed = strings.ReplaceAll(fixed, "'", `"`)
	if err := json.Unmarshal([]byte(fixed), &args); err == nil && args != nil {
		return args
	}
	return map[string]any{}
}

// decideNextSpeaker asks a low-temperature judgment call whether the
// model should continue autonomously. Any failure defaults to "user".
func (o *Orchestrator) decideNextSpeaker(ctx context.Context, state *RunState, history []models.Message) string {
	curated := history
	if len(curated) > 6 {
		curated = curated[len(curated)-6:]
	}
	judge := make([]models.Message, 0, len(curated)+1)
	for _, m := range curated {
		// Tool turns and call metadata confuse the judgment call;
		// flatten to plain role/content pairs.
		role := m.Role
		if role == models.RoleTool {
			role = models.RoleUser
		}
		judge = append(judge, models.Message{Role: role, Content: m.Content})
	}
	judge = append(judge, models.Message{Role: models.RoleUser, Content: nextSpeakerPrompt})

	model := o.modelName()
	resp, err := o.provider.Complete(ctx, &provider.Request{
		Model:       model,
		Messages:    judge,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		o.logger.Debug("next-speaker judgment failed, defaulting to user", "error", err)
		return "user"
	}
	if resp.Usage != nil {
		o.emitUsage(state, models.UsageSourceTurnCheck, model, resp.Usage)
	}

	var decision struct {
		NextSpeaker string `json:"next_speaker"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &decision); err != nil {
		o.logger.Debug("next-speaker judgment unparseable, defaulting to user", "error", err)
		return "user"
	}
	if decision.NextSpeaker != "model" {
		return "user"
	}
	return "model"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
