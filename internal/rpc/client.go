// Package rpc correlates control requests with their replies over a transport.Conn.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/xspressctl/internal/observability"
	"github.com/danmuck/xspressctl/internal/protocol"
	"github.com/danmuck/xspressctl/internal/protocol/session"
	"github.com/danmuck/xspressctl/internal/transport"
)

var (
	ErrNotConnected     = errors.New("rpc: not connected")
	ErrTimeout          = errors.New("rpc: timed out waiting for reply")
	ErrNotAcknowledged  = errors.New("rpc: request not acknowledged")
	ErrInvalidReply     = errors.New("rpc: invalid reply")
	ErrIDSpaceExhausted = errors.New("rpc: no free correlation id")
)

// maxIDScan bounds the search for a free id when many requests are in flight.
const maxIDScan = 1 << 16

// CallOption tunes one SendRecv.
type CallOption func(*callOptions)

type callOptions struct {
	quiet bool
}

// Quiet logs the exchange at trace level. Pollers use it.
func Quiet() CallOption {
	return func(o *callOptions) { o.quiet = true }
}

// Client is safe for concurrent use. Each request gets a fresh id that is not
// in flight; replies are matched by id and anything else is dropped.
type Client struct {
	conn    transport.Conn
	cfg     session.Config
	logger  zerolog.Logger
	pending *session.PendingTable

	mu     sync.Mutex
	nextID uint32
}

func NewClient(conn transport.Conn, cfg session.Config, logger zerolog.Logger) *Client {
	c := &Client{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With().Str("endpoint", conn.Endpoint()).Logger(),
		pending: session.NewPendingTable(),
	}
	conn.OnReceive(c.receive)
	conn.OnStateChange(func(s transport.State) {
		c.logger.Info().Str("state", s.String()).Msg("link state changed")
	})
	return c
}

func (c *Client) Endpoint() string { return c.conn.Endpoint() }

func (c *Client) Connected() bool { return c.conn.Connected() }

// Pending reports how many requests are waiting for a reply.
func (c *Client) Pending() int { return c.pending.Len() }

func (c *Client) Close() error { return c.conn.Close() }

// WaitTillConnected blocks until the link is up, timeout elapses or ctx ends.
func (c *Client) WaitTillConnected(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.ConnectTimeout
	}
	wait := session.NewWait(c.cfg.Backoff, time.Now().Add(timeout))
	for {
		if c.conn.Connected() {
			return nil
		}
		delay, ok := wait.Next(time.Now())
		if !ok {
			return fmt.Errorf("%w: connecting to %s after %s", ErrTimeout, c.conn.Endpoint(), timeout)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// SendRecv sends msg with a fresh id and waits for the correlated reply.
// A timeout of zero uses the configured request timeout. On any error the
// pending entry is removed before returning.
func (c *Client) SendRecv(ctx context.Context, msg protocol.Message, timeout time.Duration, opts ...CallOption) (protocol.Message, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	if !c.conn.Connected() {
		return protocol.Message{}, fmt.Errorf("%w: %s", ErrNotConnected, c.conn.Endpoint())
	}

	start := time.Now()
	deadline := start.Add(timeout)
	id, err := c.reserve(msg.Value, start, deadline)
	if err != nil {
		return protocol.Message{}, err
	}
	msg.ID = id
	raw, err := protocol.Encode(msg)
	if err != nil {
		c.pending.Remove(id)
		return protocol.Message{}, err
	}

	log := c.logger.Debug()
	if o.quiet {
		log = c.logger.Trace()
	}
	log.Uint32("id", id).Str("msg_val", msg.Value).Msg("send")

	if err := c.conn.Send(raw); err != nil {
		c.pending.Remove(id)
		observability.RecordRPC(c.conn.Endpoint(), msg.Value, "error", time.Since(start))
		return protocol.Message{}, fmt.Errorf("rpc: send %s: %w", msg.Value, err)
	}

	reply, err := c.await(ctx, id, deadline)
	if err != nil {
		c.pending.Remove(id)
		outcome := "error"
		if errors.Is(err, ErrTimeout) {
			outcome = "timeout"
			c.logger.Warn().Uint32("id", id).Str("msg_val", msg.Value).Dur("timeout", timeout).Msg("reply timed out")
		}
		observability.RecordRPC(c.conn.Endpoint(), msg.Value, outcome, time.Since(start))
		return protocol.Message{}, err
	}

	observability.RecordRPC(c.conn.Endpoint(), msg.Value, string(reply.Type), time.Since(start))
	return reply, nil
}

// Call is SendRecv plus an acknowledgement check.
func (c *Client) Call(ctx context.Context, msg protocol.Message, timeout time.Duration, opts ...CallOption) (protocol.Message, error) {
	reply, err := c.SendRecv(ctx, msg, timeout, opts...)
	if err != nil {
		return reply, err
	}
	return reply, CheckAck(reply)
}

// CheckAck fails with ErrNotAcknowledged when reply is a NACK and with
// ErrInvalidReply when it is not a well formed message.
func CheckAck(reply protocol.Message) error {
	if !reply.IsValid() {
		return fmt.Errorf("%w: %q/%q", ErrInvalidReply, reply.Type, reply.Value)
	}
	if reply.IsNack() {
		if text := reply.ErrorText(); text != "" {
			return fmt.Errorf("%w: %s: %s", ErrNotAcknowledged, reply.Value, text)
		}
		return fmt.Errorf("%w: %s", ErrNotAcknowledged, reply.Value)
	}
	return nil
}

func (c *Client) reserve(value string, sentAt, deadline time.Time) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < maxIDScan; i++ {
		id := c.nextID
		c.nextID++
		if c.pending.Reserve(session.PendingRequest{ID: id, Value: value, SentAt: sentAt, Deadline: deadline}) {
			return id, nil
		}
	}
	return 0, ErrIDSpaceExhausted
}

func (c *Client) await(ctx context.Context, id uint32, deadline time.Time) (protocol.Message, error) {
	wait := session.NewWait(c.cfg.Backoff, deadline)
	for {
		if raw, ok := c.pending.Take(id); ok {
			reply, err := protocol.Decode(raw)
			if err != nil {
				return protocol.Message{}, fmt.Errorf("%w: %v", ErrInvalidReply, err)
			}
			return reply, nil
		}
		delay, ok := wait.Next(time.Now())
		if !ok {
			return protocol.Message{}, fmt.Errorf("%w: id %d", ErrTimeout, id)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return protocol.Message{}, err
		}
	}
}

// receive runs on the connection's callback goroutine.
func (c *Client) receive(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed reply")
		observability.RecordDroppedReply(c.conn.Endpoint(), "malformed")
		return
	}
	if !c.pending.Deliver(msg.ID, raw) {
		c.logger.Debug().Uint32("id", msg.ID).Str("msg_val", msg.Value).Msg("dropping uncorrelated reply")
		observability.RecordDroppedReply(c.conn.Endpoint(), "uncorrelated")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
