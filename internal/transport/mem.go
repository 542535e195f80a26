package transport

import (
	"sync"
	"sync/atomic"
)

// Handler answers one request frame. A nil reply means no response is sent.
type Handler func(payload []byte) []byte

type memFrame struct {
	payload []byte
	inbound bool
}

// MemConn is an in-process Conn that routes every frame through a Handler.
type MemConn struct {
	endpoint string
	handler  Handler

	state       atomic.Int32
	outstanding atomic.Int64
	sent        atomic.Int64

	mu      sync.RWMutex
	onRecv  func([]byte)
	onState func(State)

	frames    chan memFrame
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemConn returns a connected MemConn. A nil handler swallows requests.
func NewMemConn(endpoint string, handler Handler) *MemConn {
	c := &MemConn{
		endpoint: endpoint,
		handler:  handler,
		frames:   make(chan memFrame, 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	go c.loop()
	return c
}

func (c *MemConn) Endpoint() string { return c.endpoint }

func (c *MemConn) Send(payload []byte) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}
	c.sent.Add(1)
	c.outstanding.Add(1)
	return c.enqueue(memFrame{payload: payload})
}

// Inject delivers payload to the receive callback as if the peer sent it.
func (c *MemConn) Inject(payload []byte) error {
	return c.enqueue(memFrame{payload: payload, inbound: true})
}

func (c *MemConn) enqueue(f memFrame) error {
	select {
	case c.frames <- f:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// Sent counts every frame accepted by Send.
func (c *MemConn) Sent() int64 { return c.sent.Load() }

func (c *MemConn) OnReceive(fn func([]byte)) {
	c.mu.Lock()
	c.onRecv = fn
	c.mu.Unlock()
}

func (c *MemConn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *MemConn) Connected() bool { return State(c.state.Load()).Up() }

func (c *MemConn) State() State { return State(c.state.Load()) }

// SetConnected is SetState with StateConnected or StateDisconnected.
func (c *MemConn) SetConnected(v bool) {
	if v {
		c.SetState(StateConnected)
		return
	}
	c.SetState(StateDisconnected)
}

// SetState records state and fires the state callback on change.
func (c *MemConn) SetState(state State) {
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

func (c *MemConn) Outstanding() int64 { return c.outstanding.Load() }

func (c *MemConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
	})
	return nil
}

func (c *MemConn) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case f := <-c.frames:
			reply := f.payload
			if !f.inbound {
				if c.handler == nil {
					continue
				}
				reply = c.handler(f.payload)
				if reply == nil {
					continue
				}
				c.outstanding.Add(-1)
			}
			c.mu.RLock()
			fn := c.onRecv
			c.mu.RUnlock()
			if fn != nil {
				fn(reply)
			}
		}
	}
}
