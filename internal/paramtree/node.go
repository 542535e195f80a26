package paramtree

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// Putter forwards a write to its backing store and returns the reply.
type Putter func(ctx context.Context, value any) (any, error)

// Node is one leaf of a Tree. The set of implementations is closed:
// ReadOnly, WriteOnly, Value, Virtual and List.
type Node interface {
	Kind() Kind
	Get() (any, error)
	// Set is the local write used by pollers. It never reaches the remote.
	Set(value any) error
	// Put is the external write. Remote backed nodes forward it.
	Put(ctx context.Context, value any) (any, error)

	check(value any) (any, error)
	settable() bool
}

type shape struct {
	kind       Kind
	validators []Validator
}

func (s shape) Kind() Kind { return s.kind }

func (s shape) check(value any) (any, error) {
	v, err := s.kind.Coerce(value)
	if err != nil {
		return nil, err
	}
	if err := runValidators(s.validators, v); err != nil {
		return nil, err
	}
	return v, nil
}

func mustCoerce(kind Kind, initial any) any {
	if initial == nil {
		return zero(kind)
	}
	v, err := kind.Coerce(initial)
	if err != nil {
		panic(fmt.Sprintf("paramtree: initial value: %v", err))
	}
	return v
}

func zero(kind Kind) any {
	switch kind {
	case KindInt:
		return 0
	case KindFloat:
		return 0.0
	case KindString:
		return ""
	case KindBool:
		return false
	case KindStringList, KindNumberList, KindList:
		return []any{}
	case KindObject:
		return map[string]any{}
	default:
		return nil
	}
}

func clone(v any) any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case map[string]any:
		return maps.Clone(t)
	default:
		return v
	}
}

// ReadOnly exposes a getter. Set and Put are rejected.
type ReadOnly struct {
	shape
	get func() any
}

func NewReadOnly(kind Kind, get func() any) *ReadOnly {
	return &ReadOnly{shape: shape{kind: kind}, get: get}
}

// Const is a ReadOnly returning a fixed value.
func Const(kind Kind, value any) *ReadOnly {
	v := mustCoerce(kind, value)
	return NewReadOnly(kind, func() any { return clone(v) })
}

func (n *ReadOnly) Get() (any, error) { return n.get(), nil }

func (n *ReadOnly) Set(any) error { return ErrNotSettable }

func (n *ReadOnly) Put(context.Context, any) (any, error) { return nil, ErrNotPuttable }

func (n *ReadOnly) settable() bool { return false }

// WriteOnly validates and forwards puts. It holds no value.
type WriteOnly struct {
	shape
	put Putter
}

func NewWriteOnly(kind Kind, put Putter, validators ...Validator) *WriteOnly {
	return &WriteOnly{shape: shape{kind: kind, validators: validators}, put: put}
}

func (n *WriteOnly) Get() (any, error) { return nil, ErrNotGettable }

func (n *WriteOnly) Set(any) error { return ErrNotSettable }

func (n *WriteOnly) Put(ctx context.Context, value any) (any, error) {
	v, err := n.check(value)
	if err != nil {
		return nil, err
	}
	return n.put(ctx, v)
}

func (n *WriteOnly) settable() bool { return false }

// Value holds a local copy. Put forwards to the putter first and commits the
// local copy only when it succeeds. A Value without a putter is purely local:
// Set works and Put fails with ErrNotPuttable.
type Value struct {
	shape
	put Putter

	mu    sync.RWMutex
	value any
}

// NewValue panics if initial does not match kind.
func NewValue(kind Kind, initial any, put Putter, validators ...Validator) *Value {
	return &Value{
		shape: shape{kind: kind, validators: validators},
		put:   put,
		value: mustCoerce(kind, initial),
	}
}

// NewMirror returns a putter-less Value that tracks a remote reading through
// Set only.
func NewMirror(kind Kind, initial any, validators ...Validator) *Value {
	return NewValue(kind, initial, nil, validators...)
}

func (n *Value) Get() (any, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.value), nil
}

func (n *Value) Set(value any) error {
	v, err := n.check(value)
	if err != nil {
		return err
	}
	n.store(v)
	return nil
}

func (n *Value) Put(ctx context.Context, value any) (any, error) {
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
	n.store(v)
	return reply, nil
}

func (n *Value) store(v any) {
	n.mu.Lock()
	n.value = v
	n.mu.Unlock()
}

func (n *Value) settable() bool { return true }

// Virtual computes its value through accessors. Any nil accessor disables
// the matching operation.
type Virtual struct {
	shape
	get func() any
	set func(any) error
	put Putter
}

func NewVirtual(kind Kind, get func() any, set func(any) error, put Putter, validators ...Validator) *Virtual {
	return &Virtual{shape: shape{kind: kind, validators: validators}, get: get, set: set, put: put}
}

func (n *Virtual) Get() (any, error) {
	if n.get == nil {
		return nil, ErrNotGettable
	}
	return n.get(), nil
}

func (n *Virtual) Set(value any) error {
	if n.set == nil {
		return ErrNotSettable
	}
	v, err := n.check(value)
	if err != nil {
		return err
	}
	return n.set(v)
}

func (n *Virtual) Put(ctx context.Context, value any) (any, error) {
	if n.put == nil {
		return nil, ErrNotPuttable
	}
	v, err := n.check(value)
	if err != nil {
		return nil, err
	}
	return n.put(ctx, v)
}

func (n *Virtual) settable() bool { return n.set != nil }
