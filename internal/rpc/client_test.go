package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/xspressctl/internal/protocol"
	"github.com/danmuck/xspressctl/internal/protocol/session"
	"github.com/danmuck/xspressctl/internal/testutil/testlog"
	"github.com/danmuck/xspressctl/internal/transport"
)

func ackHandler(typ protocol.Type) transport.Handler {
	return func(raw []byte) []byte {
		req, err := protocol.Decode(raw)
		if err != nil {
			return nil
		}
		reply := req.Reply(typ)
		reply.SetParam("echo", req.Value)
		if typ == protocol.TypeNack {
			reply.SetParam("error", "rejected")
		}
		out, _ := protocol.Encode(reply)
		return out
	}
}

func newTestClient(t *testing.T, handler transport.Handler) (*Client, *transport.MemConn) {
	t.Helper()
	logger := testlog.Start(t)
	conn := transport.NewMemConn("mem://control", handler)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn, session.DefaultConfig(), logger), conn
}

func TestSendRecvCorrelatesReply(t *testing.T) {
	c, _ := newTestClient(t, ackHandler(protocol.TypeAck))
	reply, err := c.SendRecv(context.Background(), protocol.NewCommand("configure"), time.Second)
	if err != nil {
		t.Fatalf("send_recv: %v", err)
	}
	if !reply.IsAck() || reply.Params["echo"] != "configure" {
		t.Fatalf("unexpected reply %#v", reply)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending should be empty, got %d", c.Pending())
	}
}

func TestSendRecvNotConnectedFailsFast(t *testing.T) {
	c, conn := newTestClient(t, ackHandler(protocol.TypeAck))
	conn.SetConnected(false)
	start := time.Now()
	_, err := c.SendRecv(context.Background(), protocol.NewCommand("configure"), 5*time.Second)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("not-connected should fail without waiting")
	}
	if conn.Sent() != 0 {
		t.Fatalf("nothing should be sent while disconnected")
	}
}

func TestSendRecvTimeoutLeavesNoPendingEntry(t *testing.T) {
	c, _ := newTestClient(t, nil)
	start := time.Now()
	_, err := c.SendRecv(context.Background(), protocol.NewCommand("configure"), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned before timeout: %v", elapsed)
	}
	if c.Pending() != 0 {
		t.Fatalf("timeout left %d pending entries", c.Pending())
	}
}

func TestSendRecvContextCancel(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.SendRecv(ctx, protocol.NewCommand("configure"), 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("cancel left pending entries")
	}
}

func TestCallMapsNackToNotAcknowledged(t *testing.T) {
	c, _ := newTestClient(t, ackHandler(protocol.TypeNack))
	_, err := c.Call(context.Background(), protocol.NewCommand("configure"), time.Second)
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("expected ErrNotAcknowledged, got %v", err)
	}
}

func TestUncorrelatedAndMalformedRepliesAreDropped(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []uint32
	)
	var conn *transport.MemConn
	c, conn := newTestClient(t, func(raw []byte) []byte {
		req, _ := protocol.Decode(raw)
		mu.Lock()
		ids = append(ids, req.ID)
		mu.Unlock()
		stray := req.Reply(protocol.TypeAck)
		stray.ID = req.ID + 1000
		out, _ := protocol.Encode(stray)
		good, _ := protocol.Encode(req.Reply(protocol.TypeAck))
		_ = conn.Inject([]byte("not json"))
		_ = conn.Inject(out)
		_ = conn.Inject(good)
		return nil
	})
	reply, err := c.SendRecv(context.Background(), protocol.NewCommand("status"), time.Second)
	if err != nil {
		t.Fatalf("send_recv: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 1 || reply.ID != ids[0] {
		t.Fatalf("reply id=%d sent=%v", reply.ID, ids)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending=%d", c.Pending())
	}
}

func TestIDsSkipInFlightAndWrap(t *testing.T) {
	c, _ := newTestClient(t, ackHandler(protocol.TypeAck))
	c.nextID = ^uint32(0)
	if !c.pending.Reserve(session.PendingRequest{ID: 0}) {
		t.Fatalf("seed reserve failed")
	}
	id1, err := c.reserve("a", time.Now(), time.Now())
	if err != nil || id1 != ^uint32(0) {
		t.Fatalf("first id=%d err=%v", id1, err)
	}
	id2, err := c.reserve("b", time.Now(), time.Now())
	if err != nil || id2 != 1 {
		t.Fatalf("id after wrap should skip in-flight 0, got %d err=%v", id2, err)
	}
}

func TestConcurrentSendRecv(t *testing.T) {
	c, _ := newTestClient(t, ackHandler(protocol.TypeAck))
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Call(context.Background(), protocol.NewCommand("ping"), 2*time.Second); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestWaitTillConnected(t *testing.T) {
	c, conn := newTestClient(t, nil)
	conn.SetConnected(false)
	start := time.Now()
	err := c.WaitTillConnected(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("gave up early after %v", elapsed)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		conn.SetConnected(true)
	}()
	if err := c.WaitTillConnected(context.Background(), time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
