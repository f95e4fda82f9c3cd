package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/helmsman-ai/helmsman/internal/catalog"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

func gateState(calls ...models.ToolCall) *RunState {
	state := NewRunState("conv", "do the thing")
	state.PendingTools = calls
	return state
}

func TestGateExecutesReadOnlyToolWithoutApproval(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{readOnlySpec("get_logs")}}
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec)

	state := gateState(models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}})
	o.runGate(context.Background(), state)

	if state.AwaitingApproval {
		t.Fatal("read-only tool must not pause for approval")
	}
	if inv.callCount() != 1 {
		t.Fatalf("call count = %d, want 1", inv.callCount())
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleTool || last.ToolCallID != "call_1" || last.Content != "ok" {
		t.Errorf("unexpected tool turn: %+v", last)
	}
	if len(rec.byType(models.EventToolResult)) != 1 {
		t.Error("tool.result event missing")
	}
	if len(rec.byType(models.EventToolsPending)) != 1 {
		t.Error("tools.pending preview missing")
	}
}

func TestGatePausesForUndecidedApproval(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{mutatingSpec("restart_service", "unit")}}
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec)

	call := models.ToolCall{ID: "call_1", Name: "restart_service", Args: map[string]any{"unit": "nginx"}}
	state := gateState(call)
	state.AutoContinueTurns = 2
	o.runGate(context.Background(), state)

	if !state.AwaitingApproval {
		t.Fatal("mutating tool without a decision must pause")
	}
	if inv.callCount() != 0 {
		t.Fatalf("tool invoked before approval: %d calls", inv.callCount())
	}
	if len(state.PendingTools) != 1 || state.PendingTools[0].ID != "call_1" {
		t.Errorf("pending batch = %+v", state.PendingTools)
	}
	if state.AutoContinueTurns != 0 {
		t.Error("pause must clear the auto-continue counter")
	}
	if len(rec.byType(models.EventToolAwaitingApproval)) != 1 {
		t.Error("tool.awaiting_approval event missing")
	}
}

func TestGateDeniedCallIsNeverInvoked(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{mutatingSpec("restart_service", "unit")}}
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec)

	state := gateState(models.ToolCall{ID: "call_1", Name: "restart_service", Args: map[string]any{"unit": "nginx"}})
	state.ApprovalDecisions = map[string]bool{"call_1": false}
	o.runGate(context.Background(), state)

	if inv.callCount() != 0 {
		t.Fatalf("denied tool was invoked: %d calls", inv.callCount())
	}
	if state.AwaitingApproval {
		t.Fatal("denied call must not pause again")
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Content != "Tool call was denied by the user" {
		t.Errorf("denial turn content = %q", last.Content)
	}
	if len(rec.byType(models.EventToolDenied)) != 1 {
		t.Error("tool.denied event missing")
	}
}

func TestGateApprovedCallExecutes(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{mutatingSpec("restart_service", "unit")}}
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec)

	state := gateState(models.ToolCall{ID: "call_1", Name: "restart_service", Args: map[string]any{"unit": "nginx"}})
	state.ApprovalDecisions = map[string]bool{"call_1": true}
	o.runGate(context.Background(), state)

	if inv.callCount() != 1 {
		t.Fatalf("approved tool not invoked: %d calls", inv.callCount())
	}
	if len(rec.byType(models.EventToolApproved)) != 1 {
		t.Error("tool.approved event missing")
	}
	if len(rec.byType(models.EventToolResult)) != 1 {
		t.Error("tool.result event missing")
	}
}

func TestGateMidBatchPauseKeepsSuffix(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{
		readOnlySpec("get_logs"),
		mutatingSpec("restart_service", "unit"),
		readOnlySpec("get_status"),
	}}
	o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})

	state := gateState(
		models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}},
		models.ToolCall{ID: "call_2", Name: "restart_service", Args: map[string]any{"unit": "nginx"}},
		models.ToolCall{ID: "call_3", Name: "get_status", Args: map[string]any{}},
	)
	o.runGate(context.Background(), state)

	if !state.AwaitingApproval {
		t.Fatal("expected mid-batch pause")
	}
	if inv.callCount() != 1 {
		t.Fatalf("calls before pause = %d, want 1", inv.callCount())
	}
	// The suffix starts with the call awaiting a decision.
	if len(state.PendingTools) != 2 || state.PendingTools[0].ID != "call_2" || state.PendingTools[1].ID != "call_3" {
		t.Errorf("pending suffix = %+v", state.PendingTools)
	}
	// The executed prefix already produced its tool turn.
	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleTool || last.ToolCallID != "call_1" {
		t.Errorf("prefix result turn missing: %+v", last)
	}
}

func TestGateUnknownToolProducesValidationTurn(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{readOnlySpec("get_logs")}}
	o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})

	state := gateState(models.ToolCall{ID: "call_1", Name: "vanished_tool", Args: map[string]any{}})
	o.runGate(context.Background(), state)

	if inv.callCount() != 0 {
		t.Fatal("unknown tool must not be invoked")
	}
	last := state.Messages[len(state.Messages)-1]
	want := "Tool validation failed: tool 'vanished_tool' not found in available tools"
	if last.Content != want {
		t.Errorf("content = %q, want %q", last.Content, want)
	}
}

func TestGateMissingRequiredParamFailsValidation(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{mutatingSpec("restart_service", "unit")}}
	o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})

	state := gateState(models.ToolCall{ID: "call_1", Name: "restart_service", Args: map[string]any{}})
	state.ApprovalDecisions = map[string]bool{"call_1": true}
	o.runGate(context.Background(), state)

	if inv.callCount() != 0 {
		t.Fatal("invalid arguments must not reach the tool")
	}
	last := state.Messages[len(state.Messages)-1]
	if !strings.HasPrefix(last.Content, "Tool validation failed:") {
		t.Errorf("content = %q", last.Content)
	}
	if !strings.Contains(last.Content, "unit") {
		t.Errorf("validation message should name the missing parameter: %q", last.Content)
	}
}

func TestGateToolErrorBecomesResultTurn(t *testing.T) {
	inv := &recordingInvoker{
		tools: []catalog.ToolSpec{readOnlySpec("get_logs")},
		results: map[string]*catalog.CallResult{
			"get_logs": {Content: []models.ContentBlock{models.TextBlock("journal unavailable")}, IsError: true},
		},
	}
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec)

	state := gateState(models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}})
	o.runGate(context.Background(), state)

	last := state.Messages[len(state.Messages)-1]
	if last.Content != "Tool error: journal unavailable" {
		t.Errorf("content = %q", last.Content)
	}
	if len(rec.byType(models.EventToolError)) != 1 {
		t.Error("tool.error event missing")
	}
	if state.Error != "" {
		t.Error("a per-call tool error must not fail the run")
	}
}

func TestGateInvokerErrorBecomesResultTurn(t *testing.T) {
	inv := &recordingInvoker{
		tools:   []catalog.ToolSpec{readOnlySpec("get_logs")},
		callErr: context.DeadlineExceeded,
	}
	o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})

	state := gateState(models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}})
	o.runGate(context.Background(), state)

	last := state.Messages[len(state.Messages)-1]
	if !strings.HasPrefix(last.Content, "Error executing get_logs:") {
		t.Errorf("content = %q", last.Content)
	}
	if state.AwaitingApproval || len(state.PendingTools) != 0 {
		t.Error("batch must complete despite the failed call")
	}
}

func TestGatePanicRecoversIntoAssistantTurn(t *testing.T) {
	inv := &recordingInvoker{
		tools:  []catalog.ToolSpec{readOnlySpec("get_logs")},
		panics: true,
	}
	o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})

	state := gateState(models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}})
	o.runGate(context.Background(), state)

	if state.Error == "" {
		t.Fatal("panic must surface on the run state")
	}
	if len(state.PendingTools) != 0 || state.AwaitingApproval {
		t.Error("panic must clear the pending batch")
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleAssistant || !strings.HasPrefix(last.Content, "Error in tool execution gate:") {
		t.Errorf("recovery turn = %+v", last)
	}
}

func TestGateEmptyBatchIsNoOp(t *testing.T) {
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, &recordingInvoker{}, rec)

	state := gateState()
	state.SuppressPendingEvent = true
	before := len(state.Messages)
	o.runGate(context.Background(), state)

	if len(state.Messages) != before {
		t.Error("empty batch must not append turns")
	}
	if state.SuppressPendingEvent {
		t.Error("suppress flag must reset")
	}
	if len(rec.events) != 0 {
		t.Errorf("empty batch emitted %d events", len(rec.events))
	}
}

func TestGateSuppressedPreviewOnResume(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{readOnlySpec("get_logs")}}
	rec := &eventRecorder{}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec)

	state := gateState(models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}})
	state.SuppressPendingEvent = true
	o.runGate(context.Background(), state)

	if len(rec.byType(models.EventToolsPending)) != 0 {
		t.Error("preview must be suppressed on resume")
	}
	if state.SuppressPendingEvent {
		t.Error("suppress flag must reset after one pass")
	}
}

func TestGateParamInjectorErrorIsCallLocal(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{
		readOnlySpec("get_logs"),
		readOnlySpec("get_status"),
	}}
	rec := &eventRecorder{}
	inject := func(tool string, args map[string]any, spec *catalog.ToolSpec) (map[string]any, string) {
		if tool == "get_logs" {
			return nil, "credential resolution failed for get_logs"
		}
		return args, ""
	}
	o := newTestOrchestrator(&scriptedProvider{}, inv, rec, WithParamInjector(inject))

	state := gateState(
		models.ToolCall{ID: "call_1", Name: "get_logs", Args: map[string]any{}},
		models.ToolCall{ID: "call_2", Name: "get_status", Args: map[string]any{}},
	)
	o.runGate(context.Background(), state)

	if inv.callCount() != 1 {
		t.Fatalf("call count = %d, want only the uninjected call", inv.callCount())
	}
	first := state.Messages[len(state.Messages)-2]
	if first.Content != "credential resolution failed for get_logs" {
		t.Errorf("injector error turn = %q", first.Content)
	}
	if len(rec.byType(models.EventToolError)) != 1 {
		t.Error("tool.error event missing for injector failure")
	}
}

func TestGateParamInjectorMergesArgs(t *testing.T) {
	inv := &recordingInvoker{tools: []catalog.ToolSpec{mutatingSpec("restart_service", "unit")}}
	inject := func(tool string, args map[string]any, spec *catalog.ToolSpec) (map[string]any, string) {
		merged := map[string]any{"unit": "nginx", "requested_by": "oncall"}
		return merged, ""
	}
	o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{}, WithParamInjector(inject))

	state := gateState(models.ToolCall{ID: "call_1", Name: "restart_service"})
	state.ApprovalDecisions = map[string]bool{"call_1": true}
	o.runGate(context.Background(), state)

	if inv.callCount() != 1 {
		t.Fatal("tool not invoked")
	}
	inv.mu.Lock()
	got := inv.calls[0].args
	inv.mu.Unlock()
	if got["requested_by"] != "oncall" {
		t.Errorf("injected args not forwarded: %#v", got)
	}
}
