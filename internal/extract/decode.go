package extract

import (
	"encoding/json"
	"strings"
)

// Decoded is the outcome of parsing untrusted model output. A failed decode
// carries the zero Value and a human-readable Reason; it is never an error.
type Decoded[T any] struct {
	Value  T
	Reason string
}

// OK reports whether the decode produced a value.
func (d Decoded[T]) OK() bool { return d.Reason == "" }

func rejected[T any](reason string) Decoded[T] {
	var zero T
	return Decoded[T]{Value: zero, Reason: reason}
}

// DecodeTypedEntities parses a model reply into at most MaxEntities entities.
// Entries that are not objects or lack a non-empty string name are dropped;
// an unknown or missing type becomes EntityTypeEntity.
func DecodeTypedEntities(raw string) Decoded[[]TypedEntity] {
	items, reason := decodeArray(raw)
	if reason != "" {
		return rejected[[]TypedEntity](reason)
	}
	out := make([]TypedEntity, 0, min(len(items), MaxEntities))
	for _, item := range items {
		if len(out) == MaxEntities {
			break
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		var name string
		if err := json.Unmarshal(fields["name"], &name); err != nil {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var typ string
		_ = json.Unmarshal(fields["type"], &typ)
		out = append(out, TypedEntity{Name: name, Type: ParseEntityType(typ)})
	}
	return Decoded[[]TypedEntity]{Value: out}
}

// DecodeStringList parses a model reply into at most limit non-blank strings.
func DecodeStringList(raw string, limit int) Decoded[[]string] {
	items, reason := decodeArray(raw)
	if reason != "" {
		return rejected[[]string](reason)
	}
	out := make([]string, 0, min(len(items), limit))
	for _, item := range items {
		if len(out) == limit {
			break
		}
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return Decoded[[]string]{Value: out}
}

func decodeArray(raw string) ([]json.RawMessage, string) {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return nil, "empty response"
	}
	if cleaned[0] != '[' {
		return nil, "response is not a JSON array"
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, "invalid JSON: " + err.Error()
	}
	return items, ""
}

// StripFences removes a Markdown code fence (``` or ~~~, with an optional
// language tag) wrapping s, along with any BOM and surrounding whitespace.
// Input without a fence is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(trimBOM(strings.TrimSpace(s)))
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			// Single-line fence: ```[...]```
			rest = strings.TrimSuffix(rest, fence)
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "json"))
		}
		rest = rest[nl+1:]
		if end := strings.LastIndex(rest, fence); end != -1 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return s
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
