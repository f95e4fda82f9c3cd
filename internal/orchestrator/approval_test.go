package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/helmsman-ai/helmsman/internal/catalog"
)

func TestRequiresApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("read-only hint skips approval", func(t *testing.T) {
		inv := &recordingInvoker{tools: []catalog.ToolSpec{readOnlySpec("get_logs")}}
		o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})
		if o.requiresApproval(ctx, "get_logs") {
			t.Error("read-only tool should not require approval")
		}
	})

	t.Run("mutating tool requires approval", func(t *testing.T) {
		inv := &recordingInvoker{tools: []catalog.ToolSpec{mutatingSpec("restart_service", "unit")}}
		o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})
		if !o.requiresApproval(ctx, "restart_service") {
			t.Error("mutating tool must require approval")
		}
	})

	t.Run("missing annotations require approval", func(t *testing.T) {
		inv := &recordingInvoker{tools: []catalog.ToolSpec{{Name: "unannotated"}}}
		o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})
		if !o.requiresApproval(ctx, "unannotated") {
			t.Error("absent annotations must fail closed")
		}
	})

	t.Run("unknown tool requires approval", func(t *testing.T) {
		inv := &recordingInvoker{tools: []catalog.ToolSpec{readOnlySpec("get_logs")}}
		o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})
		if !o.requiresApproval(ctx, "vanished_tool") {
			t.Error("unknown tool must fail closed")
		}
	})

	t.Run("metadata failure requires approval", func(t *testing.T) {
		inv := &recordingInvoker{listErr: errors.New("registry unreachable")}
		o := newTestOrchestrator(&scriptedProvider{}, inv, &eventRecorder{})
		if !o.requiresApproval(ctx, "get_logs") {
			t.Error("metadata failure must fail closed")
		}
	})
}
