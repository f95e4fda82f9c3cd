// Package orchestrator implements the turn-based run engine: a
// four-state machine sequencing streaming model turns and gated tool
// execution, with cooperative cancellation, bounded retries, and
// resumable state for human-in-the-loop approval.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// RunState is the mutable state of one orchestration run. It is owned
// exclusively by a single Orchestrator for the run's lifetime and
// serializes to JSON for the checkpoint store.
type RunState struct {
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id"`

	// Messages is append-only within a run; turns are never reordered
	// or deleted.
	Messages []models.Message `json:"messages"`

	// PendingTools is non-empty only when control is about to enter
	// the gate.
	PendingTools []models.ToolCall `json:"pending_tools,omitempty"`

	// AwaitingApproval is true exactly when the gate paused mid-batch
	// on a call requiring approval; it implies PendingTools holds the
	// remaining unexecuted suffix.
	AwaitingApproval bool `json:"awaiting_approval,omitempty"`

	// ApprovalDecisions maps tool-call id to the operator's decision,
	// supplied when resuming a paused run.
	ApprovalDecisions map[string]bool `json:"approval_decisions,omitempty"`

	// AutoContinueTurns permits the model to keep speaking without new
	// user input, bounded by the configured ceiling.
	AutoContinueTurns int `json:"auto_continue_turns,omitempty"`

	// TTFTEmitted records that the one-per-run first-token event has
	// fired.
	TTFTEmitted bool `json:"ttft_emitted,omitempty"`

	// SuppressPendingEvent stops a resumed gate pass from
	// re-announcing the same batch.
	SuppressPendingEvent bool `json:"suppress_pending_event,omitempty"`

	Done     bool          `json:"done,omitempty"`
	Error    string        `json:"error,omitempty"`
	Start    time.Time     `json:"start_time"`
	End      time.Time     `json:"end_time,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NewRunState creates the state for a fresh run seeded with one user
// message. An empty conversation id gets the run id as its key.
func NewRunState(conversationID, userMessage string) *RunState {
	runID := uuid.NewString()
	if conversationID == "" {
		conversationID = runID
	}
	return &RunState{
		RunID:          runID,
		ConversationID: conversationID,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: userMessage},
		},
	}
}

// ResumeRunState builds the state for resuming a paused approval: the
// conversation association is kept, the orchestration run id is fresh,
// and the supplied decisions are merged over any existing ones. The
// pending batch is not re-announced.
func ResumeRunState(prev *RunState, decisions map[string]bool) *RunState {
	next := prev.Clone()
	next.RunID = uuid.NewString()
	next.Done = false
	next.Error = ""
	next.Start = time.Time{}
	next.End = time.Time{}
	next.Duration = 0
	next.SuppressPendingEvent = true
	if next.ApprovalDecisions == nil {
		next.ApprovalDecisions = make(map[string]bool, len(decisions))
	}
	for id, approved := range decisions {
		next.ApprovalDecisions[id] = approved
	}
	return next
}

// Clone deep-copies the state.
func (s *RunState) Clone() *RunState {
	cp := *s
	cp.Messages = make([]models.Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	cp.PendingTools = make([]models.ToolCall, len(s.PendingTools))
	copy(cp.PendingTools, s.PendingTools)
	if s.ApprovalDecisions != nil {
		cp.ApprovalDecisions = make(map[string]bool, len(s.ApprovalDecisions))
		for k, v := range s.ApprovalDecisions {
			cp.ApprovalDecisions[k] = v
		}
	}
	return &cp
}

// AppendMessages merges new turns additively; the existing transcript
// is never replaced.
func (s *RunState) AppendMessages(msgs ...models.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Validate checks the state's structural invariants.
func (s *RunState) Validate() error {
	if s.RunID == "" {
		return fmt.Errorf("run state missing run id")
	}
	if s.AwaitingApproval && len(s.PendingTools) == 0 {
		return fmt.Errorf("awaiting approval with no pending tools")
	}
	if s.AutoContinueTurns < 0 {
		return fmt.Errorf("negative auto-continue counter")
	}
	for i, m := range s.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}

// Marshal serializes the state for the checkpoint store.
func (s *RunState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalRunState restores a checkpointed state.
func UnmarshalRunState(raw []byte) (*RunState, error) {
	var s RunState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	return &s, nil
}
