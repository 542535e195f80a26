package protocol

// IsValid reports whether m carries a known type and a command value.
func (m Message) IsValid() bool {
	return m.Type.Valid() && m.Value != ""
}

func (m Message) IsAck() bool {
	return m.Type == TypeAck
}

func (m Message) IsNack() bool {
	return m.Type == TypeNack
}

// Reply builds an empty response of kind typ correlated with m.
func (m Message) Reply(typ Type) Message {
	r := New(typ, m.Value)
	r.ID = m.ID
	return r
}

// ErrorText returns the "error" param a NACK usually carries.
func (m Message) ErrorText() string {
	if s, ok := m.Params["error"].(string); ok {
		return s
	}
	return ""
}
