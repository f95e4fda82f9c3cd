package orchestrator

import (
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// EventSink receives orchestration progress events. Emission order
// matches generation order within a run. A nil sink drops all events.
type EventSink func(event *models.Event)

func (o *Orchestrator) emit(event *models.Event) {
	if o.sink == nil || event == nil {
		return
	}
	o.sink(event)
}

func (o *Orchestrator) emitToolEvent(t models.EventType, state *RunState, payload *models.ToolPayload) {
	e := models.NewEvent(t, state.RunID)
	e.ConversationID = state.ConversationID
	e.Tool = payload
	o.emit(&e)
}
