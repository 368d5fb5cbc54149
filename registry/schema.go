package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompiledSchema wraps a compiled JSON Schema used to validate a kernel's
// semantic-key argument map, grounded on the jsonschema/v6 usage in
// registry/service.go's validatePayloadJSONAgainstSchema: compile once at
// registration time, validate a decoded document on every call.
type CompiledSchema struct {
	schema *jsonschema.Schema
	raw    json.RawMessage
}

// CompileSchema compiles a JSON Schema document (as raw JSON bytes) for use
// as a Kernel.ArgSchema.
func CompileSchema(name string, doc []byte) (*CompiledSchema, error) {
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, &Error{Kind: ErrKindSchemaCompile, Name: name, Detail: err.Error(), Wrapped: err}
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, parsed); err != nil {
		return nil, &Error{Kind: ErrKindSchemaCompile, Name: name, Detail: err.Error(), Wrapped: err}
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, &Error{Kind: ErrKindSchemaCompile, Name: name, Detail: err.Error(), Wrapped: err}
	}
	return &CompiledSchema{schema: schema, raw: json.RawMessage(doc)}, nil
}

// Validate checks args (a semantic-key argument map) against the schema.
func (s *CompiledSchema) Validate(args map[string]Value) error {
	if s == nil || s.schema == nil {
		return nil
	}
	// jsonschema/v6 validates decoded JSON-ish values (map[string]any,
	// []any, float64, string, bool, nil); round-trip through JSON to
	// normalize arbitrary Go values (e.g. int) into that shape.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments for validation: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode arguments for validation: %w", err)
	}
	return s.schema.Validate(doc)
}
