package protocol

import (
	"encoding/json"
	"maps"
)

// SetParam stores one param, allocating the map when needed.
func (m *Message) SetParam(key string, value any) {
	if m.Params == nil {
		m.Params = map[string]any{}
	}
	m.Params[key] = value
}

// SetParams replaces the param map with a shallow copy of params.
func (m *Message) SetParams(params map[string]any) {
	m.Params = make(map[string]any, len(params))
	maps.Copy(m.Params, params)
}

// Param returns one top-level param.
func (m Message) Param(key string) (any, bool) {
	v, ok := m.Params[key]
	return v, ok
}

// Map renders the message in its wire shape for JSON callers.
func (m Message) Map() map[string]any {
	params := m.Params
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		KeyType:      string(m.Type),
		KeyValue:     m.Value,
		KeyID:        int64(m.ID),
		KeyTimestamp: m.Timestamp,
		KeyParams:    params,
	}
}

// Normalize rewrites decoded JSON so integral numbers become int64 and the
// rest float64. Nested maps and slices are walked.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}
