package transport

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/danmuck/xspressctl/internal/testutil/testlog"
)

func TestNormalizeEndpoint(t *testing.T) {
	testlog.Start(t)
	got, err := NormalizeEndpoint("127.0.0.1:12000")
	if err != nil || got != "tcp://127.0.0.1:12000" {
		t.Fatalf("unexpected %q err=%v", got, err)
	}
	got, err = NormalizeEndpoint("ipc:///tmp/x")
	if err != nil || got != "ipc:///tmp/x" {
		t.Fatalf("unexpected %q err=%v", got, err)
	}
	if _, err := NormalizeEndpoint("localhost"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if Endpoint("127.0.0.1", 10004) != "tcp://127.0.0.1:10004" {
		t.Fatalf("unexpected endpoint format")
	}
}

func TestMemConnRoutesThroughHandler(t *testing.T) {
	testlog.Start(t)
	c := NewMemConn("mem://a", func(p []byte) []byte {
		return append([]byte("re:"), p...)
	})
	defer c.Close()

	got := make(chan []byte, 1)
	c.OnReceive(func(p []byte) { got <- p })
	if err := c.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case p := <-got:
		if string(p) != "re:ping" {
			t.Fatalf("unexpected reply %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
	}
	if c.Outstanding() != 0 || c.Sent() != 1 {
		t.Fatalf("outstanding=%d sent=%d", c.Outstanding(), c.Sent())
	}
}

func TestMemConnStateAndClose(t *testing.T) {
	testlog.Start(t)
	c := NewMemConn("mem://b", nil)
	states := make(chan State, 2)
	c.OnStateChange(func(s State) { states <- s })
	c.SetConnected(true)
	c.SetConnected(false)
	if s := <-states; s != StateDisconnected {
		t.Fatalf("unexpected state %v", s)
	}
	c.SetState(StateConnected)
	if s := <-states; s != StateConnected {
		t.Fatalf("unexpected state %v", s)
	}
	c.SetState(StateHandshakeSucceeded)
	if s := <-states; s != StateHandshakeSucceeded || s.String() != "handshake_succeeded" {
		t.Fatalf("unexpected state %v", s)
	}
	if !c.Connected() || c.State() != StateHandshakeSucceeded {
		t.Fatalf("handshake should count as connected")
	}
	c.SetConnected(true)
	c.SetConnected(false)
	if s := <-states; s != StateConnected {
		t.Fatalf("unexpected state %v", s)
	}
	if s := <-states; s != StateDisconnected || c.Connected() {
		t.Fatalf("unexpected state %v", s)
	}
	if err := c.Send([]byte("lost")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Outstanding() != 1 {
		t.Fatalf("swallowed frame should stay outstanding")
	}
	c.Close()
	if err := c.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestZMQDealerLoopback(t *testing.T) {
	logger := testlog.Start(t)
	router, err := zmq4.NewSocket(zmq4.ROUTER)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	defer router.Close()
	router.SetLinger(0)
	port := 20000 + rand.Intn(20000)
	endpoint := fmt.Sprintf("tcp://127.0.0.1:%d", port)
	if err := router.Bind(endpoint); err != nil {
		t.Skipf("bind %s: %v", endpoint, err)
	}

	c, err := DialZMQ(endpoint, logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	got := make(chan []byte, 1)
	c.OnReceive(func(p []byte) { got <- p })

	deadline := time.Now().Add(5 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("dealer never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	router.SetRcvtimeo(5 * time.Second)
	frames, err := router.RecvMessageBytes(0)
	if err != nil || len(frames) != 2 {
		t.Fatalf("router recv frames=%d err=%v", len(frames), err)
	}
	if string(frames[0]) != c.Identity() || !bytes.Equal(frames[1], []byte("hello")) {
		t.Fatalf("unexpected frames %q", frames)
	}
	if _, err := router.SendMessage(frames[0], "world"); err != nil {
		t.Fatalf("router send: %v", err)
	}
	select {
	case p := <-got:
		if string(p) != "world" {
			t.Fatalf("unexpected reply %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply")
	}
}
