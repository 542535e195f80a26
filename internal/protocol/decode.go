package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Decode parses one JSON control message. Every failure wraps ErrMalformedMessage.
func Decode(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}

	var m Message
	typ, err := stringField(fields, KeyType)
	if err != nil {
		return Message{}, err
	}
	m.Type = Type(typ)
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %w: %q", ErrMalformedMessage, ErrInvalidType, typ)
	}
	if m.Value, err = stringField(fields, KeyValue); err != nil {
		return Message{}, err
	}
	if m.ID, err = idField(fields); err != nil {
		return Message{}, err
	}
	if ts, ok := fields[KeyTimestamp]; ok {
		s, isString := ts.(string)
		if !isString {
			return Message{}, fmt.Errorf("%w: timestamp is not a string", ErrMalformedMessage)
		}
		m.Timestamp = s
	}
	m.Params = map[string]any{}
	if rawParams, ok := fields[KeyParams]; ok && rawParams != nil {
		params, isMap := Normalize(rawParams).(map[string]any)
		if !isMap {
			return Message{}, fmt.Errorf("%w: params is not an object", ErrMalformedMessage)
		}
		m.Params = params
	}
	return m, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %w: %s", ErrMalformedMessage, ErrMissingField, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformedMessage, key)
	}
	return s, nil
}

func idField(fields map[string]any) (uint32, error) {
	v, ok := fields[KeyID]
	if !ok {
		return 0, fmt.Errorf("%w: %w: %s", ErrMalformedMessage, ErrMissingField, KeyID)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %w: not a number", ErrMalformedMessage, ErrInvalidID)
	}
	id, err := n.Int64()
	if err != nil || id < 0 || id > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %w: %s", ErrMalformedMessage, ErrInvalidID, n.String())
	}
	return uint32(id), nil
}
