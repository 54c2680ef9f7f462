package analysis

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/labwise/constants"
)

// field describes one property of the AnalysisResult contract. The JSON
// Schema used for validation and the shape shown to the model in the
// prompt are both generated from these definitions.
type field struct {
	Name        string
	Kind        string // "string" | "array" | "object"
	Description string
	Required    bool
	NonEmpty    bool
	Enum        []string
	Items       *field
	Properties  []field
}

var findingFields = []field{
	{Name: "test_name", Kind: "string", Description: "Name of the test or measurement", Required: true},
	{Name: "value", Kind: "string", Description: "The measured value", Required: true},
	{Name: "unit", Kind: "string", Description: "Unit of measurement (if available)"},
	{Name: "reference_range", Kind: "string", Description: "Normal range (if mentioned)"},
	{Name: "status", Kind: "string", Description: "Status against the reference range", Required: true, Enum: constants.StatusesAsStringSlice()},
	{Name: "interpretation", Kind: "string", Description: "Plain language explanation", Required: true},
}

var resultFields = []field{
	{
		Name: "results", Kind: "array", Required: true,
		Items: &field{Kind: "object", Properties: findingFields},
	},
	{
		Name: "critical_findings", Kind: "array", Required: true,
		Items: &field{Kind: "string", Description: "Any concerning values or urgent attention needed"},
	},
	{Name: "summary", Kind: "string", Description: "Overall summary of findings", Required: true, NonEmpty: true},
	{
		Name: "recommendations", Kind: "array", Required: true,
		Items: &field{Kind: "string", Description: "Actionable health recommendations"},
	},
}

// SequenceFields are the array-valued top-level fields; absent or null
// values are defaulted to [] before validation.
func SequenceFields() []string {
	var out []string
	for _, f := range resultFields {
		if f.Kind == "array" {
			out = append(out, f.Name)
		}
	}
	return out
}

// JSONSchema returns the draft 2020-12 schema of AnalysisResult.
func JSONSchema() map[string]any {
	s := objectSchema(resultFields)
	s["$schema"] = "https://json-schema.org/draft/2020-12/schema"
	s["title"] = "AnalysisResult"
	return s
}

func objectSchema(fields []field) map[string]any {
	props := make(map[string]any, len(fields))
	required := []string{}
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": true,
	}
}

func fieldSchema(f field) map[string]any {
	switch f.Kind {
	case "object":
		return objectSchema(f.Properties)
	case "array":
		return map[string]any{"type": "array", "items": fieldSchema(*f.Items)}
	default:
		s := map[string]any{"type": "string"}
		if f.Description != "" {
			s["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			s["enum"] = f.Enum
		}
		if f.NonEmpty {
			s["minLength"] = 1
			s["pattern"] = `\S`
		}
		return s
	}
}

// ShapeTemplate renders the example JSON object placed in the system prompt.
func ShapeTemplate() string {
	b, _ := json.MarshalIndent(templateValue(field{Kind: "object", Properties: resultFields}), "", "  ")
	return string(b)
}

func templateValue(f field) any {
	switch f.Kind {
	case "object":
		m := make(orderedObject, 0, len(f.Properties))
		for _, p := range f.Properties {
			m = append(m, kv{Key: p.Name, Value: templateValue(p)})
		}
		return m
	case "array":
		return []any{templateValue(*f.Items)}
	default:
		if len(f.Enum) > 0 {
			return strings.Join(f.Enum, "|")
		}
		return f.Description
	}
}

type kv struct {
	Key   string
	Value any
}

// orderedObject marshals keys in declaration order so the prompt is stable.
type orderedObject []kv

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range o {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
