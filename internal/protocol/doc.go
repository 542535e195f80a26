// Package protocol owns the control-message wire contract.
//
// Ownership boundary:
// - message envelope and its JSON encoding
// - param map helpers and number normalization
// - semantic validation entry points (valid, ack, nack)
package protocol
