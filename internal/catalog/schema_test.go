package catalog

import (
	"strings"
	"testing"
)

func restartSpec() *ToolSpec {
	return &ToolSpec{
		Name: "restart_service",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"unit"},
			"properties": map[string]any{
				"unit":    map[string]any{"type": "string"},
				"timeout": map[string]any{"type": "integer", "minimum": float64(0)},
			},
		},
	}
}

func TestValidatorAcceptsValidArgs(t *testing.T) {
	v := CompileSchema(restartSpec())
	if err := v.Validate(map[string]any{"unit": "nginx", "timeout": float64(30)}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
}

func TestValidatorMissingRequired(t *testing.T) {
	v := CompileSchema(restartSpec())
	err := v.Validate(map[string]any{"timeout": float64(30)})
	if err == nil {
		t.Fatal("expected missing-required error")
	}
	if !strings.Contains(err.Error(), "unit") {
		t.Errorf("error should name the missing key, got %q", err)
	}
}

func TestValidatorTypeMismatch(t *testing.T) {
	v := CompileSchema(restartSpec())
	if err := v.Validate(map[string]any{"unit": float64(7)}); err == nil {
		t.Error("expected type mismatch to fail schema validation")
	}
}

func TestValidatorDegradesWhenSchemaBroken(t *testing.T) {
	spec := &ToolSpec{
		Name: "broken",
		InputSchema: map[string]any{
			"type":     []any{12345},
			"required": []any{"target"},
		},
	}
	v := CompileSchema(spec)

	// Required-list checking still works.
	if err := v.Validate(map[string]any{}); err == nil {
		t.Error("expected missing-required error from degraded validator")
	}
	// Anything satisfying the required list passes.
	if err := v.Validate(map[string]any{"target": 42}); err != nil {
		t.Errorf("degraded validator should only check required keys: %v", err)
	}
}

func TestValidatorNoSchema(t *testing.T) {
	v := CompileSchema(&ToolSpec{Name: "bare"})
	if err := v.Validate(map[string]any{"anything": "goes"}); err != nil {
		t.Errorf("schemaless tool should accept any args: %v", err)
	}
}

func TestDisplayTitle(t *testing.T) {
	s := &ToolSpec{Name: "get_logs"}
	if s.DisplayTitle() != "get_logs" {
		t.Errorf("got %q", s.DisplayTitle())
	}
	s.Title = "Fetch service logs"
	if s.DisplayTitle() != "Fetch service logs" {
		t.Errorf("got %q", s.DisplayTitle())
	}
}
