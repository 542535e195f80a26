package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type wireMessage struct {
	Type      string         `json:"msg_type"`
	Value     string         `json:"msg_val"`
	ID        uint32         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Params    map[string]any `json:"params"`
}

// Encode renders m as a JSON object. An empty timestamp is filled with now.
func Encode(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	ts := m.Timestamp
	if ts == "" {
		ts = time.Now().Format(TimestampLayout)
	}
	params := m.Params
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(wireMessage{
		Type:      string(m.Type),
		Value:     m.Value,
		ID:        m.ID,
		Timestamp: ts,
		Params:    params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return raw, nil
}
