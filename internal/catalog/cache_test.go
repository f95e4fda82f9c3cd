package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

type fakeInvoker struct {
	mu    sync.Mutex
	lists atomic.Int64
	tools []ToolSpec
	err   error
}

func (f *fakeInvoker) ListTools(ctx context.Context) ([]ToolSpec, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ToolSpec, len(f.tools))
	copy(out, f.tools)
	return out, nil
}

func (f *fakeInvoker) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	return &CallResult{Content: []models.ContentBlock{models.TextBlock("ok")}}, nil
}

func (f *fakeInvoker) setTools(tools []ToolSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
	f.err = nil
}

func TestCacheCoalescesFirstLoad(t *testing.T) {
	inv := &fakeInvoker{}
	inv.setTools([]ToolSpec{{Name: "restart_service"}, {Name: "get_logs"}})
	cache := NewCache(inv, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tools, err := cache.GetAll(context.Background())
			if err != nil {
				t.Errorf("GetAll: %v", err)
				return
			}
			if len(tools) != 2 {
				t.Errorf("got %d tools, want 2", len(tools))
			}
		}()
	}
	wg.Wait()

	if got := inv.lists.Load(); got != 1 {
		t.Errorf("registry fetched %d times, want 1", got)
	}
}

func TestCacheLoadErrorIsNotCached(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("registry down")}
	cache := NewCache(inv, nil)

	if _, err := cache.GetAll(context.Background()); err == nil {
		t.Fatal("expected error from failed load")
	}

	inv.setTools([]ToolSpec{{Name: "get_logs"}})
	tools, err := cache.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll after recovery: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("got %d tools, want 1", len(tools))
	}
}

func TestCacheGetByNameReloadsOnMiss(t *testing.T) {
	inv := &fakeInvoker{}
	inv.setTools([]ToolSpec{{Name: "get_logs"}})
	cache := NewCache(inv, nil)

	if _, err := cache.GetAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A tool added after the first load is found via the one-shot
	// reload, costing exactly one extra fetch.
	inv.setTools([]ToolSpec{{Name: "get_logs"}, {Name: "restart_service"}})
	spec, err := cache.GetByName(context.Background(), "restart_service")
	if err != nil {
		t.Fatal(err)
	}
	if spec == nil || spec.Name != "restart_service" {
		t.Fatalf("got %+v, want restart_service", spec)
	}
	if got := inv.lists.Load(); got != 2 {
		t.Errorf("registry fetched %d times, want 2", got)
	}

	// A genuinely unknown tool yields nil, no error.
	spec, err = cache.GetByName(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if spec != nil {
		t.Errorf("got %+v, want nil", spec)
	}
}

func TestCacheInvalidate(t *testing.T) {
	inv := &fakeInvoker{}
	inv.setTools([]ToolSpec{{Name: "get_logs"}})
	cache := NewCache(inv, nil)

	if _, err := cache.GetAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate()
	if _, err := cache.GetAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := inv.lists.Load(); got != 2 {
		t.Errorf("registry fetched %d times, want 2", got)
	}
}

func TestAsCompletionTools(t *testing.T) {
	specs := []ToolSpec{
		{Name: "restart_service", Description: "Restart a unit", InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"unit"},
			"properties": map[string]any{
				"unit": map[string]any{"type": "string"},
			},
		}},
		{Name: "get_status"},
	}
	tools := AsCompletionTools(specs)
	if len(tools) != 2 {
		t.Fatalf("got %d tools", len(tools))
	}
	if tools[0].Type != "function" || tools[0].Function.Name != "restart_service" {
		t.Errorf("unexpected conversion: %+v", tools[0])
	}
	if tools[1].Function.Parameters == nil {
		t.Error("schemaless tool should get an empty object schema")
	}
}
