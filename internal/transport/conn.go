// Package transport carries raw control frames between this process and a
// remote endpoint. Receive and state callbacks for one connection always run
// on a single goroutine owned by that connection.
package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrClosed         = errors.New("transport: connection closed")
	ErrSendQueueFull  = errors.New("transport: send queue full")
	ErrInvalidAddress = errors.New("transport: invalid address")
)

// State is the last observed link state of a connection. Both
// StateConnected and StateHandshakeSucceeded count as connected.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateHandshakeSucceeded
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateHandshakeSucceeded:
		return "handshake_succeeded"
	default:
		return "disconnected"
	}
}

func (s State) Up() bool { return s != StateDisconnected }

// Conn is one outbound request/response channel.
type Conn interface {
	Endpoint() string
	// Send queues payload for delivery. It never blocks on the peer.
	Send(payload []byte) error
	OnReceive(fn func(payload []byte))
	OnStateChange(fn func(State))
	Connected() bool
	// Outstanding counts frames sent for which no frame has come back.
	Outstanding() int64
	Close() error
}

// Dialer opens a Conn to endpoint.
type Dialer func(endpoint string, logger zerolog.Logger) (Conn, error)

// DialZMQConn is the default Dialer.
func DialZMQConn(endpoint string, logger zerolog.Logger) (Conn, error) {
	return DialZMQ(endpoint, logger)
}

// Endpoint formats host and port as a tcp endpoint.
func Endpoint(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// NormalizeEndpoint accepts "host:port" or a full zmq endpoint.
func NormalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if strings.Contains(raw, "://") {
		return raw, nil
	}
	if !strings.Contains(raw, ":") {
		return "", fmt.Errorf("%w: %q has no port", ErrInvalidAddress, raw)
	}
	return "tcp://" + raw, nil
}
