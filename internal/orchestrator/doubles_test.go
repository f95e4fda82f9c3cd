package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/internal/catalog"
	"github.com/helmsman-ai/helmsman/internal/provider"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// scriptedProvider replays canned streams and completions in order.
type scriptedProvider struct {
	mu sync.Mutex

	// streams are consumed one per Stream call. A script with a
	// non-nil err fails the Stream call itself.
	streams []streamScript

	// completions are consumed one per Complete call. Exhaustion
	// returns an error, which judgment callers treat as "user".
	completions []completionScript

	streamCalls   int
	completeCalls int
	closed        bool
}

type streamScript struct {
	chunks []*provider.Chunk
	err    error
}

type completionScript struct {
	content string
	err     error
}

func textChunks(texts ...string) []*provider.Chunk {
	out := make([]*provider.Chunk, 0, len(texts)+1)
	for _, t := range texts {
		out = append(out, &provider.Chunk{Text: t})
	}
	out = append(out, &provider.Chunk{Done: true, Usage: &provider.Usage{PromptTokens: 10, CompletionTokens: len(texts), TotalTokens: 10 + len(texts)}})
	return out
}

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamCalls++
	if len(p.streams) == 0 {
		return nil, errors.New("scripted provider: no streams left")
	}
	script := p.streams[0]
	p.streams = p.streams[1:]
	if script.err != nil {
		return nil, script.err
	}
	ch := make(chan *provider.Chunk, len(script.chunks))
	for _, c := range script.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeCalls++
	if len(p.completions) == 0 {
		return nil, errors.New("scripted provider: no completions left")
	}
	script := p.completions[0]
	p.completions = p.completions[1:]
	if script.err != nil {
		return nil, script.err
	}
	return &provider.Completion{Content: script.content, Usage: &provider.Usage{TotalTokens: 5}}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// recordingInvoker serves a fixed catalog and records every CallTool.
type recordingInvoker struct {
	mu      sync.Mutex
	tools   []catalog.ToolSpec
	listErr error

	calls   []recordedCall
	results map[string]*catalog.CallResult
	callErr error
	panics  bool
}

type recordedCall struct {
	name string
	args map[string]any
}

func (r *recordingInvoker) ListTools(ctx context.Context) ([]catalog.ToolSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]catalog.ToolSpec, len(r.tools))
	copy(out, r.tools)
	return out, nil
}

func (r *recordingInvoker) CallTool(ctx context.Context, name string, args map[string]any) (*catalog.CallResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("invoker exploded")
	}
	r.calls = append(r.calls, recordedCall{name: name, args: args})
	if r.callErr != nil {
		return nil, r.callErr
	}
	if res, ok := r.results[name]; ok {
		return res, nil
	}
	return &catalog.CallResult{Content: []models.ContentBlock{models.TextBlock("ok")}}, nil
}

func (r *recordingInvoker) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// eventRecorder captures the event stream for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *eventRecorder) sink() EventSink {
	return func(e *models.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		cp := *e
		r.events = append(r.events, &cp)
	}
}

func (r *eventRecorder) byType(t models.EventType) []*models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func readOnlySpec(name string) catalog.ToolSpec {
	return catalog.ToolSpec{
		Name:        name,
		Annotations: &catalog.Annotations{ReadOnlyHint: true},
	}
}

func mutatingSpec(name string, required ...string) catalog.ToolSpec {
	props := map[string]any{}
	req := make([]any, 0, len(required))
	for _, k := range required {
		props[k] = map[string]any{"type": "string"}
		req = append(req, k)
	}
	return catalog.ToolSpec{
		Name: name,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   req,
		},
	}
}

func newTestOrchestrator(p *scriptedProvider, inv *recordingInvoker, rec *eventRecorder, opts ...Option) *Orchestrator {
	base := []Option{WithEventSink(rec.sink())}
	o := New(p, inv, append(base, opts...)...)
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return o
}
