package paramtree

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Kind is the declared value type of a node.
type Kind int

const (
	KindAny Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindStringList
	KindNumberList
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindStringList:
		return "list[string]"
	case KindNumberList:
		return "list[number]"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// IsList reports whether values of k are []any.
func (k Kind) IsList() bool {
	return k == KindStringList || k == KindNumberList || k == KindList
}

// Coerce normalizes v to the canonical Go type for k: int, float64, string,
// bool, []any or map[string]any. Integral floats are accepted as int.
func (k Kind) Coerce(v any) (any, error) {
	switch k {
	case KindAny:
		return v, nil
	case KindInt:
		if i, ok := toInt(v); ok {
			return i, nil
		}
	case KindFloat:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindStringList, KindNumberList, KindList:
		items, ok := toSlice(v)
		if !ok {
			break
		}
		for i, item := range items {
			elem, err := k.CoerceElement(item)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %v", ErrTypeMismatch, i, err)
			}
			items[i] = elem
		}
		return items, nil
	case KindObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, k, v)
}

// CoerceElement normalizes one element of a list kind.
func (k Kind) CoerceElement(v any) (any, error) {
	switch k {
	case KindStringList:
		return KindString.Coerce(v)
	case KindNumberList:
		if i, ok := toInt(v); ok {
			if _, isFloat := v.(float64); !isFloat {
				return i, nil
			}
		}
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, v)
	default:
		return v, nil
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case float32:
		return toInt(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool, string:
		return 0, false
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

// toSlice copies any slice value into a fresh []any.
func toSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return append([]any(nil), items...), true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
