package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// node is a state of the fixed-topology turn machine.
type node int

const (
	nodeEntry node = iota
	nodeModel
	nodeGate
	nodeFinal
)

func (n node) String() string {
	switch n {
	case nodeEntry:
		return "entry"
	case nodeModel:
		return "model"
	case nodeGate:
		return "gate"
	default:
		return "final"
	}
}

// Invoke drives one run through the turn machine until it completes,
// pauses for approval, is stopped, or hits the iteration ceiling. The
// returned state is terminal in all four cases; process-level errors
// never escape as panics.
func (o *Orchestrator) Invoke(ctx context.Context, state *RunState) (*RunState, error) {
	if state == nil {
		return nil, errors.New("nil run state")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if state.Start.IsZero() {
		state.Start = time.Now()
	}

	ctx, span := o.tracer.Start(ctx, "run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", state.RunID))

	cur := nodeEntry
	visits := 0
	for {
		// Cancellation outranks every other transition.
		if o.stops.ShouldStop(state.RunID) {
			return o.finishStopped(ctx, state), nil
		}
		visits++
		if visits > o.cfg.MaxIterations {
			return o.finishIterationLimit(ctx, state), nil
		}
		o.logger.Debug("state machine step", "run_id", state.RunID, "node", cur.String(), "visit", visits)

		switch cur {
		case nodeEntry:
			state.TTFTEmitted = false
			state.AwaitingApproval = false
			if len(state.PendingTools) > 0 {
				cur = nodeGate
			} else {
				cur = nodeModel
			}

		case nodeModel:
			if stopped := o.modelStep(ctx, state); stopped {
				return o.finishStopped(ctx, state), nil
			}
			switch {
			case len(state.PendingTools) > 0:
				cur = nodeGate
			case state.AutoContinueTurns > 0:
				cur = nodeModel
			default:
				cur = nodeFinal
			}

		case nodeGate:
			o.runGate(ctx, state)
			if state.AwaitingApproval {
				cur = nodeFinal
			} else {
				cur = nodeModel
			}

		case nodeFinal:
			return o.finishRun(ctx, state), nil
		}

		o.saveCheckpoint(ctx, state)
	}
}

// Run starts or continues a conversation with a new user message,
// restoring any checkpointed transcript for the conversation key.
func (o *Orchestrator) Run(ctx context.Context, conversationID, prompt string) (*RunState, error) {
	state := NewRunState(conversationID, prompt)

	if prior := o.loadCheckpoint(ctx, state.ConversationID); prior != nil {
		// A new prompt supersedes any batch still waiting on approval;
		// the transcript is kept, the unexecuted calls are not.
		if prior.AwaitingApproval {
			o.logger.Warn("conversation was awaiting approval, discarding pending tool calls",
				"conversation_id", state.ConversationID, "pending_tools", len(prior.PendingTools))
		}
		restored := prior.Clone()
		restored.RunID = state.RunID
		restored.Done = false
		restored.Error = ""
		restored.Start = time.Time{}
		restored.End = time.Time{}
		restored.Duration = 0
		restored.PendingTools = nil
		restored.AwaitingApproval = false
		restored.ApprovalDecisions = nil
		restored.SuppressPendingEvent = false
		restored.AutoContinueTurns = 0
		restored.AppendMessages(models.Message{Role: models.RoleUser, Content: prompt})
		state = restored
	}
	return o.Invoke(ctx, state)
}

// Resume continues a run paused for approval, applying the operator's
// decisions to the outstanding calls.
func (o *Orchestrator) Resume(ctx context.Context, conversationID string, decisions map[string]bool) (*RunState, error) {
	prior := o.loadCheckpoint(ctx, conversationID)
	if prior == nil {
		return nil, fmt.Errorf("no checkpoint for conversation %s", conversationID)
	}
	if !prior.AwaitingApproval {
		return nil, fmt.Errorf("conversation %s is not awaiting approval", conversationID)
	}
	return o.Invoke(ctx, ResumeRunState(prior, decisions))
}

// modelStep runs one model turn and applies its outcome to the state.
// Turn failures fold into the transcript as a visible assistant error
// message; only a cooperative stop escapes.
func (o *Orchestrator) modelStep(ctx context.Context, state *RunState) (stopped bool) {
	autoBefore := state.AutoContinueTurns

	result, err := o.runModelTurn(ctx, state)
	if errors.Is(err, errStopRequested) {
		return true
	}
	if err != nil {
		o.logger.Error("model turn failed", "run_id", state.RunID, "error", err)
		state.AppendMessages(models.Message{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("Error in model turn: %v", err),
		})
		state.PendingTools = nil
		state.Error = err.Error()
		return false
	}

	state.TTFTEmitted = state.TTFTEmitted || result.ttftEmitted
	state.AppendMessages(result.messages...)

	if len(result.toolCalls) > 0 {
		state.PendingTools = result.toolCalls
		if autoBefore > 0 {
			state.AutoContinueTurns = autoBefore - 1
		}
		return false
	}

	state.PendingTools = nil
	if o.decideNextSpeaker(ctx, state, state.Messages) == "model" {
		state.AppendMessages(models.Message{Role: models.RoleUser, Content: continuePrompt})
		next := autoBefore + 1
		if next > o.cfg.AutoContinueMax {
			next = o.cfg.AutoContinueMax
		}
		state.AutoContinueTurns = next
	} else if autoBefore > 0 {
		state.AutoContinueTurns = autoBefore - 1
	}
	return false
}

func (o *Orchestrator) finishRun(ctx context.Context, state *RunState) *RunState {
	status := models.StatusCompleted
	if state.AwaitingApproval {
		status = models.StatusAwaitingApproval
	}
	return o.finish(ctx, state, status)
}

func (o *Orchestrator) finishStopped(ctx context.Context, state *RunState) *RunState {
	o.stops.ClearStop(state.RunID)
	o.stops.ClearStop(state.ConversationID)
	return o.finish(ctx, state, models.StatusStopped)
}

func (o *Orchestrator) finishIterationLimit(ctx context.Context, state *RunState) *RunState {
	msg := fmt.Sprintf(
		"The agent has reached the maximum number of iterations of %d for the current prompt. "+
			"You can continue the conversation. To allow longer runs, raise the run.max_iterations setting.",
		o.cfg.MaxIterations)
	o.logger.Warn("iteration limit exceeded", "run_id", state.RunID, "limit", o.cfg.MaxIterations)

	e := models.NewEvent(models.EventWorkflowError, state.RunID)
	e.ConversationID = state.ConversationID
	e.Error = &models.ErrorPayload{Message: msg}
	o.emit(&e)

	state.Error = msg
	if o.metrics != nil {
		o.metrics.RunCounter.WithLabelValues("error").Inc()
	}
	state.Done = true
	state.End = time.Now()
	state.Duration = state.End.Sub(state.Start)
	o.saveCheckpoint(ctx, state)
	return state
}

func (o *Orchestrator) finish(ctx context.Context, state *RunState, status models.RunStatus) *RunState {
	state.Done = true
	state.End = time.Now()
	state.Duration = state.End.Sub(state.Start)

	e := models.NewEvent(models.EventCompleted, state.RunID)
	e.ConversationID = state.ConversationID
	e.Completed = &models.CompletedPayload{
		Status:     status,
		DurationMs: state.Duration.Milliseconds(),
	}
	o.emit(&e)

	if o.metrics != nil {
		o.metrics.RunCounter.WithLabelValues(string(status)).Inc()
		o.metrics.RunDuration.Observe(state.Duration.Seconds())
	}

	o.saveCheckpoint(ctx, state)
	return state
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, state *RunState) {
	if o.store == nil {
		return
	}
	raw, err := state.Marshal()
	if err != nil {
		o.logger.Warn("failed to serialize run state", "run_id", state.RunID, "error", err)
		return
	}
	if err := o.store.Save(ctx, state.ConversationID, raw); err != nil {
		o.logger.Warn("failed to save checkpoint", "conversation_id", state.ConversationID, "error", err)
	}
}

func (o *Orchestrator) loadCheckpoint(ctx context.Context, conversationID string) *RunState {
	if o.store == nil {
		return nil
	}
	raw, err := o.store.Load(ctx, conversationID)
	if err != nil {
		o.logger.Warn("failed to load checkpoint", "conversation_id", conversationID, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	prior, err := UnmarshalRunState(raw)
	if err != nil {
		o.logger.Warn("failed to decode checkpoint", "conversation_id", conversationID, "error", err)
		return nil
	}
	return prior
}
