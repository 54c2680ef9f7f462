// Package normalize turns a raw model reply into a validated AnalysisResult.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/labwise/internal/analysis"
	"github.com/joseph-ayodele/labwise/internal/llm"
)

const (
	schemaURL       = "labwise://analysis-result.json"
	rawExcerptLen   = 500
	valueExcerptLen = 120
)

// fenceRe matches a reply that is exactly one fenced code block, with an
// optional language tag. Text before or after the fence prevents a match.
var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)\r?\n?[ \t]*```$")

// Normalizer validates replies against the compiled AnalysisResult schema.
// It holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := json.Marshal(analysis.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Normalizer{schema: sch, logger: logger}, nil
}

// StripFence removes a wrapping Markdown code fence. Anything else is
// returned trimmed but otherwise untouched.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Normalize parses and validates raw. It returns either a complete result or
// a *ResponseError; nothing is partially accepted.
func (n *Normalizer) Normalize(raw string) (analysis.AnalysisResult, error) {
	body := StripFence(raw)
	if body == "" {
		return analysis.AnalysisResult{}, &ResponseError{Reason: ReasonEmpty}
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return analysis.AnalysisResult{}, n.fail(&ResponseError{
			Reason: ReasonMalformed,
			Detail: err.Error(),
			Raw:    llm.Excerpt(body, rawExcerptLen),
			Err:    err,
		})
	}
	if dec.More() {
		return analysis.AnalysisResult{}, n.fail(&ResponseError{
			Reason: ReasonMalformed,
			Detail: "trailing data after JSON value",
			Raw:    llm.Excerpt(body, rawExcerptLen),
		})
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return analysis.AnalysisResult{}, n.fail(&ResponseError{
			Reason: ReasonNotObject,
			Raw:    llm.Excerpt(body, rawExcerptLen),
		})
	}

	applyDefaults(obj)

	if err := n.schema.Validate(obj); err != nil {
		return analysis.AnalysisResult{}, n.fail(schemaError(err, obj, body))
	}

	canonical, err := json.Marshal(obj)
	if err != nil {
		return analysis.AnalysisResult{}, n.fail(&ResponseError{Reason: ReasonMalformed, Detail: err.Error(), Err: err})
	}
	var res analysis.AnalysisResult
	if err := json.Unmarshal(canonical, &res); err != nil {
		return analysis.AnalysisResult{}, n.fail(&ResponseError{
			Reason: ReasonSchema,
			Detail: err.Error(),
			Raw:    llm.Excerpt(body, rawExcerptLen),
			Err:    err,
		})
	}
	res.EnsureSequences()
	return res, nil
}

func (n *Normalizer) fail(err *ResponseError) *ResponseError {
	n.logger.Warn("normalize.failed",
		"reason", err.Reason,
		"field", err.Field,
		"detail", err.Detail,
	)
	return err
}

// applyDefaults fills absent or null sequences with [] and renders numeric
// finding values as their literal text.
func applyDefaults(obj map[string]any) {
	for _, name := range analysis.SequenceFields() {
		if v, ok := obj[name]; !ok || v == nil {
			obj[name] = []any{}
		}
	}
	results, _ := obj["results"].([]any)
	for _, r := range results {
		f, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if num, ok := f["value"].(json.Number); ok {
			f["value"] = num.String()
		}
	}
}

func schemaError(err error, doc any, body string) *ResponseError {
	re := &ResponseError{Reason: ReasonSchema, Raw: llm.Excerpt(body, rawExcerptLen), Err: err}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		re.Detail = err.Error()
		return re
	}
	leaf := firstLeaf(ve)
	re.Detail = leaf.Message
	re.Field = pointerToField(leaf.InstanceLocation)
	if strings.HasSuffix(leaf.KeywordLocation, "/required") {
		if missing := quoted(leaf.Message); missing != "" {
			re.Field = joinField(re.Field, missing)
			return re
		}
	}
	if v, ok := lookup(doc, leaf.InstanceLocation); ok {
		b, _ := json.Marshal(v)
		re.Value = llm.Excerpt(string(b), valueExcerptLen)
	}
	return re
}

// firstLeaf walks to the most specific cause, preferring the lowest
// instance location so reports are stable.
func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		causes := append([]*jsonschema.ValidationError(nil), ve.Causes...)
		sort.SliceStable(causes, func(i, j int) bool {
			return causes[i].InstanceLocation < causes[j].InstanceLocation
		})
		ve = causes[0]
	}
	return ve
}

// pointerToField renders "/results/0/status" as "results[0].status".
func pointerToField(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = unescapePointer(tok)
		if _, err := strconv.Atoi(tok); err == nil {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func unescapePointer(tok string) string {
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
}

func lookup(doc any, ptr string) (any, bool) {
	cur := doc
	if ptr == "" {
		return cur, true
	}
	for _, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = unescapePointer(tok)
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func quoted(msg string) string {
	start := strings.IndexByte(msg, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
