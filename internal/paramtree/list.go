package paramtree

import (
	"context"
	"fmt"
	"sync"
)

// List holds a list value whose elements are individually addressable.
// Without a putter it is a mirror: Set works and Put is rejected.
// Validators see the whole list. Element puts forward the whole candidate
// list and commit only the changed index once the putter succeeds.
type List struct {
	shape
	put Putter

	mu    sync.RWMutex
	value []any
}

// NewList panics if kind is not a list kind or initial does not match it.
func NewList(kind Kind, initial any, put Putter, validators ...Validator) *List {
	if !kind.IsList() {
		panic(fmt.Sprintf("paramtree: %s is not a list kind", kind))
	}
	return &List{
		shape: shape{kind: kind, validators: validators},
		put:   put,
		value: mustCoerce(kind, initial).([]any),
	}
}

func (n *List) Get() (any, error) {
	return n.snapshot(), nil
}

func (n *List) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.value)
}

func (n *List) Set(value any) error {
	v, err := n.check(value)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.value = v.([]any)
	n.mu.Unlock()
	return nil
}

func (n *List) Put(ctx context.Context, value any) (any, error) {
	if n.put == nil {
		return nil, ErrNotPuttable
	}
	v, err := n.check(value)
	if err != nil {
		return nil, err
	}
	reply, err := n.put(ctx, v)
	if err != nil {
		return reply, err
	}
	n.mu.Lock()
	n.value = v.([]any)
	n.mu.Unlock()
	return reply, nil
}

func (n *List) GetElement(index int) (any, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if index < 0 || index >= len(n.value) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndex, index, len(n.value))
	}
	return n.value[index], nil
}

func (n *List) SetElement(index int, value any) error {
	candidate, elem, err := n.candidate(index, value)
	if err != nil {
		return err
	}
	if _, err := n.check(candidate); err != nil {
		return err
	}
	return n.commit(index, elem)
}

func (n *List) PutElement(ctx context.Context, index int, value any) (any, error) {
	if n.put == nil {
		return nil, ErrNotPuttable
	}
	candidate, elem, err := n.candidate(index, value)
	if err != nil {
		return nil, err
	}
	checked, err := n.check(candidate)
	if err != nil {
		return nil, err
	}
	reply, err := n.put(ctx, checked)
	if err != nil {
		return reply, err
	}
	return reply, n.commit(index, elem)
}

func (n *List) candidate(index int, value any) ([]any, any, error) {
	elem, err := n.kind.CoerceElement(value)
	if err != nil {
		return nil, nil, err
	}
	cur := n.snapshot()
	if index < 0 || index >= len(cur) {
		return nil, nil, fmt.Errorf("%w: %d of %d", ErrIndex, index, len(cur))
	}
	cur[index] = elem
	return cur, elem, nil
}

func (n *List) commit(index int, elem any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index >= len(n.value) {
		return fmt.Errorf("%w: %d of %d", ErrIndex, index, len(n.value))
	}
	next := append([]any(nil), n.value...)
	next[index] = elem
	n.value = next
	return nil
}

func (n *List) snapshot() []any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]any(nil), n.value...)
}

func (n *List) settable() bool { return true }
