package protocol

import "errors"

var (
	ErrMalformedMessage = errors.New("protocol: malformed message")
	ErrMissingField     = errors.New("protocol: missing field")
	ErrInvalidType      = errors.New("protocol: invalid message type")
	ErrInvalidID        = errors.New("protocol: invalid message id")
)
