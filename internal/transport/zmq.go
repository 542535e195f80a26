package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
)

const (
	zmqPollInterval  = 5 * time.Millisecond
	zmqSendQueueSize = 1024
	zmqMonitorEvents = zmq4.EVENT_CONNECTED | zmq4.EVENT_HANDSHAKE_SUCCEEDED | zmq4.EVENT_DISCONNECTED
)

// ZMQConn is a DEALER connection with a random identity. The socket and its
// monitor are only touched by the loop goroutine.
type ZMQConn struct {
	endpoint string
	identity string
	logger   zerolog.Logger

	sends       chan []byte
	state       atomic.Int32
	outstanding atomic.Int64

	mu      sync.RWMutex
	onRecv  func([]byte)
	onState func(State)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// DialZMQ connects lazily to endpoint; Connected reports true once the
// socket monitor sees the peer.
func DialZMQ(endpoint string, logger zerolog.Logger) (*ZMQConn, error) {
	endpoint, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	identity := uuid.NewString()

	sock, err := zmq4.NewSocket(zmq4.DEALER)
	if err != nil {
		return nil, fmt.Errorf("transport: create DEALER socket: %w", err)
	}
	if err := setupDealer(sock, identity); err != nil {
		sock.Close()
		return nil, err
	}

	monAddr := "inproc://xspress-monitor-" + identity
	if err := sock.Monitor(monAddr, zmqMonitorEvents); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: monitor socket: %w", err)
	}
	mon, err := zmq4.NewSocket(zmq4.PAIR)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: create monitor socket: %w", err)
	}
	if err := mon.Connect(monAddr); err != nil {
		mon.Close()
		sock.Close()
		return nil, fmt.Errorf("transport: connect monitor: %w", err)
	}
	if err := sock.Connect(endpoint); err != nil {
		mon.Close()
		sock.Close()
		return nil, fmt.Errorf("transport: connect %s: %w", endpoint, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &ZMQConn{
		endpoint: endpoint,
		identity: identity,
		logger:   logger.With().Str("endpoint", endpoint).Logger(),
		sends:    make(chan []byte, zmqSendQueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.loop(ctx, sock, mon)
	c.logger.Debug().Str("identity", identity).Msg("dealer connecting")
	return c, nil
}

func setupDealer(sock *zmq4.Socket, identity string) error {
	if err := sock.SetIdentity(identity); err != nil {
		return fmt.Errorf("transport: set identity: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		return fmt.Errorf("transport: set linger: %w", err)
	}
	return nil
}

func (c *ZMQConn) Endpoint() string { return c.endpoint }

func (c *ZMQConn) Identity() string { return c.identity }

func (c *ZMQConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.sends <- payload:
		c.outstanding.Add(1)
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *ZMQConn) OnReceive(fn func([]byte)) {
	c.mu.Lock()
	c.onRecv = fn
	c.mu.Unlock()
}

func (c *ZMQConn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *ZMQConn) Connected() bool { return State(c.state.Load()).Up() }

func (c *ZMQConn) State() State { return State(c.state.Load()) }

func (c *ZMQConn) Outstanding() int64 { return c.outstanding.Load() }

func (c *ZMQConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func (c *ZMQConn) loop(ctx context.Context, sock, mon *zmq4.Socket) {
	defer close(c.done)
	defer func() {
		sock.Close()
		mon.Close()
		c.setState(StateDisconnected)
	}()

	poller := zmq4.NewPoller()
	poller.Add(sock, zmq4.POLLIN)
	poller.Add(mon, zmq4.POLLIN)

	for ctx.Err() == nil {
		c.flushSends(sock)
		polled, err := poller.Poll(zmqPollInterval)
		if err != nil {
			c.logger.Debug().Err(err).Msg("poll failed")
			continue
		}
		for _, item := range polled {
			switch item.Socket {
			case sock:
				c.readFrame(sock)
			case mon:
				c.readEvent(mon)
			}
		}
	}
}

func (c *ZMQConn) flushSends(sock *zmq4.Socket) {
	for {
		select {
		case payload := <-c.sends:
			if _, err := sock.SendBytes(payload, zmq4.DONTWAIT); err != nil {
				c.outstanding.Add(-1)
				c.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("send dropped")
			}
		default:
			return
		}
	}
}

func (c *ZMQConn) readFrame(sock *zmq4.Socket) {
	frames, err := sock.RecvMessageBytes(zmq4.DONTWAIT)
	if err != nil || len(frames) == 0 {
		return
	}
	if c.outstanding.Load() > 0 {
		c.outstanding.Add(-1)
	}
	c.mu.RLock()
	fn := c.onRecv
	c.mu.RUnlock()
	if fn != nil {
		fn(frames[len(frames)-1])
	}
}

func (c *ZMQConn) readEvent(mon *zmq4.Socket) {
	event, addr, _, err := mon.RecvEvent(zmq4.DONTWAIT)
	if err != nil {
		return
	}
	switch event {
	case zmq4.EVENT_CONNECTED:
		c.setState(StateConnected)
	case zmq4.EVENT_HANDSHAKE_SUCCEEDED:
		c.setState(StateHandshakeSucceeded)
	case zmq4.EVENT_DISCONNECTED:
		c.setState(StateDisconnected)
	}
	c.logger.Debug().Str("event", event.String()).Str("addr", addr).Msg("socket event")
}

func (c *ZMQConn) setState(state State) {
	if State(c.state.Swap(int32(state))) == state {
		return
	}
	c.mu.RLock()
	fn := c.onState
	c.mu.RUnlock()
	if fn != nil {
		fn(state)
	}
}
