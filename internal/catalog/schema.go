package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks tool call arguments against a tool's input schema.
// When the schema does not compile, validation degrades to checking the
// schema's required list so calls are not rejected for registry bugs.
type Validator struct {
	schema   *jsonschema.Schema
	required []string
}

// CompileSchema builds a Validator for a tool spec. It never fails;
// an uncompilable or absent schema yields a degraded validator.
func CompileSchema(spec *ToolSpec) *Validator {
	v := &Validator{required: requiredKeys(spec.InputSchema)}
	if spec.InputSchema == nil {
		return v
	}
	raw, err := json.Marshal(spec.InputSchema)
	if err != nil {
		return v
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("tool://%s/input", spec.Name)
	if err := compiler.AddResource(resource, strings.NewReader(string(raw))); err != nil {
		return v
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return v
	}
	v.schema = schema
	return v
}

// Validate reports the first problem with the given arguments, or nil.
func (v *Validator) Validate(args map[string]any) error {
	if missing := v.MissingRequired(args); len(missing) > 0 {
		return fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	if v.schema == nil {
		return nil
	}
	// Round-trip so the value matches what encoding/json would have
	// decoded; the validator is strict about numeric types.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not serializable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	if err := v.schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

// MissingRequired returns schema-required keys absent from args.
func (v *Validator) MissingRequired(args map[string]any) []string {
	var missing []string
	for _, key := range v.required {
		if _, ok := args[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func requiredKeys(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var keys []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}
