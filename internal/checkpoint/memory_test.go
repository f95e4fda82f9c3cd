package checkpoint

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	got, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("load before save = %q, want nil", got)
	}

	state := []byte(`{"turns":[]}`)
	if err := store.Save(ctx, "conv-1", state); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, state) {
		t.Errorf("load = %q, want %q", got, state)
	}

	// Overwrite replaces the prior state.
	next := []byte(`{"turns":[{"role":"user"}]}`)
	if err := store.Save(ctx, "conv-1", next); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Load(ctx, "conv-1")
	if !bytes.Equal(got, next) {
		t.Errorf("load after overwrite = %q, want %q", got, next)
	}

	// Other keys are untouched.
	got, _ = store.Load(ctx, "conv-2")
	if got != nil {
		t.Errorf("unrelated key = %q, want nil", got)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := []byte(`{"a":1}`)
	if err := store.Save(ctx, "conv", state); err != nil {
		t.Fatal(err)
	}
	state[1] = 'X'

	got, _ := store.Load(ctx, "conv")
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Errorf("stored state aliased caller buffer: %q", got)
	}

	got[1] = 'Y'
	again, _ := store.Load(ctx, "conv")
	if !bytes.Equal(again, []byte(`{"a":1}`)) {
		t.Errorf("loaded state aliased internal buffer: %q", again)
	}
}
