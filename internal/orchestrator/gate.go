package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/helmsman-ai/helmsman/internal/catalog"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// gateOutcome is the tagged result of one gate pass. Pausing for
// approval is control flow, not an error, and must stay distinguishable
// from a tool execution failure.
type gateOutcome struct {
	// messages are the tool-result turns produced before any pause.
	messages []models.Message

	// remaining holds the unexecuted suffix of the batch when paused,
	// starting with the call that needs a decision.
	remaining []models.ToolCall

	paused bool
}

// runGate processes the pending batch in order, applying validation and
// the approval policy to each call. It mutates state with the outcome.
func (o *Orchestrator) runGate(ctx context.Context, state *RunState) {
	ctx, span := o.tracer.Start(ctx, "tool_gate")
	defer span.End()

	defer func() {
		// A batch-level failure must not leave the machine stuck on a
		// stale pending list.
		if r := recover(); r != nil {
			err := fmt.Errorf("tool execution gate panicked: %v", r)
			o.logger.Error("gate failure", "run_id", state.RunID, "error", err)
			state.AppendMessages(models.Message{
				Role:    models.RoleAssistant,
				Content: fmt.Sprintf("Error in tool execution gate: %v", err),
			})
			state.PendingTools = nil
			state.AwaitingApproval = false
			state.SuppressPendingEvent = false
			state.Error = err.Error()
		}
	}()

	batch := state.PendingTools
	if len(batch) == 0 {
		state.PendingTools = nil
		state.SuppressPendingEvent = false
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	if !state.SuppressPendingEvent {
		o.emitPendingPreview(ctx, state, batch)
	}

	outcome := gateOutcome{}
	for idx, call := range batch {
		blocks, pause := o.executeCall(ctx, state, call)
		if pause {
			outcome.remaining = batch[idx:]
			outcome.paused = true
			break
		}
		outcome.messages = append(outcome.messages, models.Message{
			Role:       models.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    models.FlattenBlocks(blocks),
		})
	}

	state.AppendMessages(outcome.messages...)
	state.SuppressPendingEvent = false
	if outcome.paused {
		state.PendingTools = outcome.remaining
		state.AwaitingApproval = true
		state.AutoContinueTurns = 0
		return
	}
	state.PendingTools = nil
	state.AwaitingApproval = false
}

// executeCall runs the per-call pipeline. It returns the result blocks
// or pause=true when the call needs an approval decision that does not
// exist yet. Every failure mode becomes a visible content block; a
// single bad call never aborts the batch.
func (o *Orchestrator) executeCall(ctx context.Context, state *RunState, call models.ToolCall) (blocks []models.ContentBlock, pause bool) {
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	spec := o.toolSpec(ctx, call.Name)
	title := call.Name
	if spec != nil {
		title = spec.DisplayTitle()
	}

	if o.inject != nil {
		injected, errMsg := o.inject(call.Name, args, spec)
		if errMsg != "" {
			o.emitToolEvent(models.EventToolError, state, &models.ToolPayload{
				CallID: call.ID, Tool: call.Name, Title: title, Error: errMsg,
			})
			return []models.ContentBlock{models.TextBlock(errMsg)}, false
		}
		if injected != nil {
			args = injected
		}
	}

	if spec == nil {
		msg := fmt.Sprintf("Tool validation failed: tool '%s' not found in available tools", call.Name)
		return []models.ContentBlock{models.TextBlock(msg)}, false
	}
	if err := catalog.CompileSchema(spec).Validate(args); err != nil {
		msg := fmt.Sprintf("Tool validation failed: %v", err)
		return []models.ContentBlock{models.TextBlock(msg)}, false
	}

	if o.requiresApproval(ctx, call.Name) {
		decision, decided := state.ApprovalDecisions[call.ID]
		if !decided {
			o.emitToolEvent(models.EventToolAwaitingApproval, state, &models.ToolPayload{
				CallID: call.ID, Tool: call.Name, Title: title, Args: args,
			})
			return nil, true
		}
		if !decision {
			o.emitToolEvent(models.EventToolDenied, state, &models.ToolPayload{
				CallID: call.ID, Tool: call.Name, Title: title, Args: args,
			})
			if o.metrics != nil {
				o.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "denied").Inc()
			}
			return []models.ContentBlock{models.TextBlock("Tool call was denied by the user")}, false
		}
		o.emitToolEvent(models.EventToolApproved, state, &models.ToolPayload{
			CallID: call.ID, Tool: call.Name, Title: title, Args: args,
		})
	}

	o.emitToolEvent(models.EventToolExecuting, state, &models.ToolPayload{
		CallID: call.ID, Tool: call.Name, Title: title, Args: args,
	})

	started := time.Now()
	result, err := o.invoker.CallTool(ctx, call.Name, args)
	if o.metrics != nil {
		o.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		o.logger.Error("tool execution failed", "tool", call.Name, "run_id", state.RunID, "error", err)
		o.emitToolEvent(models.EventToolError, state, &models.ToolPayload{
			CallID: call.ID, Tool: call.Name, Title: title, Error: err.Error(),
		})
		if o.metrics != nil {
			o.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "error").Inc()
		}
		return []models.ContentBlock{models.TextBlock(fmt.Sprintf("Error executing %s: %v", call.Name, err))}, false
	}

	if result.IsError {
		msg := models.FlattenBlocks(result.Content)
		if msg == "" {
			msg = "Tool execution failed"
		}
		o.emitToolEvent(models.EventToolError, state, &models.ToolPayload{
			CallID: call.ID, Tool: call.Name, Title: title, Error: msg,
		})
		if o.metrics != nil {
			o.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "error").Inc()
		}
		return []models.ContentBlock{models.TextBlock("Tool error: " + msg)}, false
	}

	o.emitToolEvent(models.EventToolResult, state, &models.ToolPayload{
		CallID: call.ID, Tool: call.Name, Title: title, Result: result.Content,
	})
	if o.metrics != nil {
		o.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "success").Inc()
	}
	return result.Content, false
}

// emitPendingPreview announces the batch before execution with per-call
// approval requirements. Preview assembly is best effort.
func (o *Orchestrator) emitPendingPreview(ctx context.Context, state *RunState, batch []models.ToolCall) {
	infos := make([]models.PendingToolInfo, 0, len(batch))
	for _, call := range batch {
		title := call.Name
		if spec := o.toolSpec(ctx, call.Name); spec != nil {
			title = spec.DisplayTitle()
		}
		infos = append(infos, models.PendingToolInfo{
			CallID:           call.ID,
			Tool:             call.Name,
			Title:            title,
			Args:             call.Args,
			RequiresApproval: o.requiresApproval(ctx, call.Name),
		})
	}
	e := models.NewEvent(models.EventToolsPending, state.RunID)
	e.ConversationID = state.ConversationID
	e.Pending = &models.PendingPayload{Tools: infos}
	o.emit(&e)
}

// toolSpec fetches cached tool metadata, nil on any failure.
func (o *Orchestrator) toolSpec(ctx context.Context, name string) *catalog.ToolSpec {
	if o.catalog == nil {
		return nil
	}
	spec, err := o.catalog.GetByName(ctx, name)
	if err != nil {
		o.logger.Error("failed to fetch tool metadata", "tool", name, "error", err)
		return nil
	}
	return spec
}
