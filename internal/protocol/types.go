package protocol

// Type is the message kind carried in msg_type.
type Type string

const (
	TypeCmd    Type = "cmd"
	TypeAck    Type = "ack"
	TypeNack   Type = "nack"
	TypeNotify Type = "notify"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCmd, TypeAck, TypeNack, TypeNotify:
		return true
	}
	return false
}

// Well known msg_val commands.
const (
	ValueConfigure            = "configure"
	ValueRequestConfiguration = "request_configuration"
)

// Wire keys.
const (
	KeyType      = "msg_type"
	KeyValue     = "msg_val"
	KeyID        = "id"
	KeyTimestamp = "timestamp"
	KeyParams    = "params"
)

// TimestampLayout is the ISO-8601 layout used for outgoing timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Message is one control message exchanged with the control server or a worker.
type Message struct {
	Type      Type
	Value     string
	ID        uint32
	Timestamp string
	Params    map[string]any
}

// New returns a message of kind typ with an empty param map.
func New(typ Type, value string) Message {
	return Message{Type: typ, Value: value, Params: map[string]any{}}
}

// NewCommand is shorthand for New(TypeCmd, value).
func NewCommand(value string) Message {
	return New(TypeCmd, value)
}
