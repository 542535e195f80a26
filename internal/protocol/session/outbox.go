package session

import (
	"sync"
	"time"
)

// PendingRequest tracks one request awaiting its correlated reply.
type PendingRequest struct {
	ID       uint32
	Value    string
	SentAt   time.Time
	Deadline time.Time
	Replied  bool
	Reply    []byte
}

// PendingTable stores in-flight requests by correlation id.
// A reply is kept only while its request is still pending.
type PendingTable struct {
	mu    sync.Mutex
	items map[uint32]PendingRequest
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[uint32]PendingRequest),
	}
}

// Reserve registers id unless it is already in flight.
func (p *PendingTable) Reserve(item PendingRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[item.ID]; ok {
		return false
	}
	p.items[item.ID] = item
	return true
}

// Has reports whether id is in flight.
func (p *PendingTable) Has(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[id]
	return ok
}

// Deliver stores reply against id. It returns false for unknown ids.
func (p *PendingTable) Deliver(id uint32, reply []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[id]
	if !ok {
		return false
	}
	item.Replied = true
	item.Reply = reply
	p.items[id] = item
	return true
}

// Take removes id and returns its reply once one has been delivered.
func (p *PendingTable) Take(id uint32) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[id]
	if !ok || !item.Replied {
		return nil, false
	}
	delete(p.items, id)
	return item.Reply, true
}

func (p *PendingTable) Remove(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, id)
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
