package stop

import (
	"sync"
	"testing"
)

func TestRegistry_RequestShouldClear(t *testing.T) {
	r := NewRegistry()

	if r.ShouldStop("run-1") {
		t.Fatal("fresh registry should not report stop")
	}

	r.RequestStop("run-1")
	if !r.ShouldStop("run-1") {
		t.Fatal("expected stop after RequestStop")
	}
	if r.ShouldStop("run-2") {
		t.Fatal("stop flag leaked across runs")
	}

	r.ClearStop("run-1")
	if r.ShouldStop("run-1") {
		t.Fatal("expected no stop after ClearStop")
	}
}

func TestRegistry_EmptyKey(t *testing.T) {
	r := NewRegistry()
	r.RequestStop("")
	if r.ShouldStop("") {
		t.Fatal("empty run id must never report stop")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RequestStop("shared")
			_ = r.ShouldStop("shared")
			r.ClearStop("shared")
		}()
	}
	wg.Wait()
}
