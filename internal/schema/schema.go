// Package schema validates fact contexts against the JSON Schema each
// fact version declares for its parameters.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled parameters_schema. Compiled once at registry build,
// validated against per request.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile parses and compiles a JSON Schema document. An empty document
// yields a nil schema, which validates everything.
func Compile(schemaJSON string) (*Schema, error) {
	if strings.TrimSpace(schemaJSON) == "" || strings.TrimSpace(schemaJSON) == "{}" {
		return nil, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, eris.Wrap(err, "schema: parse")
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", doc); err != nil {
		return nil, eris.Wrap(err, "schema: add resource")
	}
	compiled, err := c.Compile("params.json")
	if err != nil {
		return nil, eris.Wrap(err, "schema: compile")
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks a context against the schema. The context is
// round-tripped through JSON so native Go types (int64, time strings)
// carry the same meaning they have in the cache.
func (s *Schema) Validate(ctx map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	if ctx == nil {
		ctx = map[string]any{}
	}

	raw, err := json.Marshal(ctx)
	if err != nil {
		return eris.Wrap(err, "schema: marshal context")
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return eris.Wrap(err, "schema: decode context")
	}

	if err := s.compiled.Validate(instance); err != nil {
		return eris.Wrapf(err, "schema: context validation failed")
	}
	return nil
}
