package paramtree

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/xspressctl/internal/testutil/testlog"
)

type recordingPutter struct {
	calls []any
	err   error
}

func (r *recordingPutter) put(_ context.Context, v any) (any, error) {
	r.calls = append(r.calls, v)
	if r.err != nil {
		return nil, r.err
	}
	return "ok", nil
}

func TestValueBoundRejectsAndKeepsState(t *testing.T) {
	testlog.Start(t)
	n := NewValue(KindFloat, 0.0, nil, Bound(0, 10))
	if err := n.Set(99.9); !errors.Is(err, ErrValidation) || !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out-of-range validation error, got %v", err)
	}
	if v, _ := n.Get(); v != 0.0 {
		t.Fatalf("value changed after rejected set: %v", v)
	}
	if err := n.Set("not a number"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if err := n.Set(5); err != nil {
		t.Fatalf("set int into float: %v", err)
	}
	if v, _ := n.Get(); v != 5.0 {
		t.Fatalf("expected float 5, got %#v", v)
	}
}

func TestValuePutCommitsOnlyAfterPutterSucceeds(t *testing.T) {
	testlog.Start(t)
	p := &recordingPutter{err: errors.New("nack")}
	n := NewValue(KindInt, 1, p.put, IsPositive)
	if _, err := n.Put(context.Background(), 7); err == nil {
		t.Fatalf("expected putter error")
	}
	if v, _ := n.Get(); v != 1 {
		t.Fatalf("value committed despite failure: %v", v)
	}
	p.err = nil
	reply, err := n.Put(context.Background(), 7.0)
	if err != nil || reply != "ok" {
		t.Fatalf("put reply=%v err=%v", reply, err)
	}
	if v, _ := n.Get(); v != 7 {
		t.Fatalf("expected committed 7, got %#v", v)
	}
	if _, err := n.Put(context.Background(), -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(p.calls) != 2 {
		t.Fatalf("putter should not see rejected values, calls=%v", p.calls)
	}
}

func TestVariantsRejectUnsupportedOperations(t *testing.T) {
	testlog.Start(t)
	ro := Const(KindString, "1.2.3")
	if err := ro.Set("x"); !errors.Is(err, ErrNotSettable) {
		t.Fatalf("read-only set: %v", err)
	}
	if _, err := ro.Put(context.Background(), "x"); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("read-only put: %v", err)
	}
	p := &recordingPutter{}
	wo := NewWriteOnly(KindString, p.put, OneOf("start", "stop"))
	if _, err := wo.Get(); !errors.Is(err, ErrNotGettable) {
		t.Fatalf("write-only get: %v", err)
	}
	if _, err := wo.Put(context.Background(), "pause"); !errors.Is(err, ErrValidation) {
		t.Fatalf("write-only validation: %v", err)
	}
	if _, err := wo.Put(context.Background(), "start"); err != nil || len(p.calls) != 1 {
		t.Fatalf("write-only put err=%v calls=%v", err, p.calls)
	}
	vr := NewVirtual(KindInt, func() any { return 3 }, nil, nil)
	if err := vr.Set(1); !errors.Is(err, ErrNotSettable) {
		t.Fatalf("virtual set: %v", err)
	}
	if _, err := vr.Put(context.Background(), 1); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("virtual put: %v", err)
	}
}

func TestGuardValidator(t *testing.T) {
	testlog.Start(t)
	busy := true
	p := &recordingPutter{}
	n := NewValue(KindString, "mca", p.put, Guard(func() error {
		if busy {
			return errors.New("acquisition running")
		}
		return nil
	}))
	if _, err := n.Put(context.Background(), "list"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("guarded put reached the putter: %v", p.calls)
	}
	busy = false
	if _, err := n.Put(context.Background(), "list"); err != nil {
		t.Fatalf("guard should pass: %v", err)
	}
	if v, _ := n.Get(); v != "list" || len(p.calls) != 1 {
		t.Fatalf("value=%v calls=%v", v, p.calls)
	}
}

func TestLocalValueRejectsPut(t *testing.T) {
	testlog.Start(t)
	n := NewValue(KindInt, 1, nil)
	if _, err := n.Put(context.Background(), 5); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("expected ErrNotPuttable, got %v", err)
	}
	if v, _ := n.Get(); v != 1 {
		t.Fatalf("rejected put changed value to %v", v)
	}
	if err := n.Set(5); err != nil {
		t.Fatalf("local set: %v", err)
	}
	tree, _ := New(map[string]any{"a": n})
	if _, err := tree.Put(context.Background(), "a", 6); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("tree put on local value: %v", err)
	}
}

func TestListElementPutCommitsOneIndex(t *testing.T) {
	testlog.Start(t)
	p := &recordingPutter{}
	l := NewList(KindNumberList, []int{1, 2, 3}, p.put, Each(IsPositive))
	tree, err := New(map[string]any{"a": map[string]any{"c": l}})
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	if _, err := tree.Put(context.Background(), "a/c/1", 9); err != nil {
		t.Fatalf("indexed put: %v", err)
	}
	if !reflect.DeepEqual(p.calls[0], []any{1, 9, 3}) {
		t.Fatalf("putter should see whole candidate list, got %#v", p.calls[0])
	}
	got, _ := tree.Get("a/c")
	if !reflect.DeepEqual(got, []any{1, 9, 3}) {
		t.Fatalf("unexpected list %#v", got)
	}
	if v, _ := tree.Get("a/c/1"); v != 9 {
		t.Fatalf("element get %v", v)
	}

	p.err = errors.New("nack")
	if _, err := tree.Put(context.Background(), "a/c/0", 4); err == nil {
		t.Fatalf("expected failure")
	}
	if v, _ := tree.Get("a/c/0"); v != 1 {
		t.Fatalf("failed put committed: %v", v)
	}
	if _, err := tree.Put(context.Background(), "a/c/7", 4); !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if _, err := tree.Put(context.Background(), "a/c/2", -4); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected element validation, got %v", err)
	}
}

func TestTreeBulkSetIsAllOrNothing(t *testing.T) {
	testlog.Start(t)
	tree, err := New(map[string]any{
		"config": map[string]any{
			"num_cards":     NewValue(KindInt, 1, nil),
			"exposure_time": NewValue(KindFloat, 1.0, nil, Bound(1e-6, 20)),
			"mode":          NewValue(KindString, "mca", nil),
		},
		"version": Const(KindString, "1.0"),
	})
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	err = tree.Set("config", map[string]any{"num_cards": 4, "exposure_time": 100.0})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if v, _ := tree.Get("config/num_cards"); v != 1 {
		t.Fatalf("partial bulk set leaked num_cards=%v", v)
	}
	if err := tree.Set("/config/", map[string]any{"num_cards": 4, "mode": "list"}); err != nil {
		t.Fatalf("bulk set: %v", err)
	}
	got, _ := tree.Get("config")
	want := map[string]any{"num_cards": 4, "exposure_time": 1.0, "mode": "list"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
	if err := tree.Set("config", map[string]any{"bogus": 1}); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("expected ErrPathNotFound, got %v", err)
	}
	if err := tree.Set("", map[string]any{"version": "2"}); !errors.Is(err, ErrNotSettable) {
		t.Fatalf("expected ErrNotSettable, got %v", err)
	}
}

func TestTreePathErrors(t *testing.T) {
	testlog.Start(t)
	tree, err := New(map[string]any{"a": map[string]any{"b": NewValue(KindInt, 0, nil)}})
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	for _, p := range []string{"x", "a/x", "a/b/c", "a/b/0"} {
		if _, err := tree.Get(p); !errors.Is(err, ErrPathNotFound) {
			t.Fatalf("%s: expected ErrPathNotFound, got %v", p, err)
		}
	}
	if _, err := tree.Put(context.Background(), "a", 1); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("subtree put: %v", err)
	}
	if _, err := New(map[string]any{"bad": 3}); !errors.Is(err, ErrInvalidTree) {
		t.Fatalf("expected ErrInvalidTree, got %v", err)
	}
	if got := tree.Paths(); !reflect.DeepEqual(got, []string{"a/b"}) {
		t.Fatalf("paths %v", got)
	}
}

func TestSubtreeGetSkipsWriteOnly(t *testing.T) {
	testlog.Start(t)
	tree, _ := New(map[string]any{
		"command": map[string]any{
			"start": NewWriteOnly(KindInt, func(context.Context, any) (any, error) { return nil, nil }),
			"count": NewValue(KindInt, 2, nil),
		},
	})
	got, err := tree.Get("command")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"count": 2}) {
		t.Fatalf("unexpected %#v", got)
	}
}

func TestMirrorsRejectPut(t *testing.T) {
	testlog.Start(t)
	m := NewMirror(KindString, "Xspress 3")
	if _, err := m.Put(context.Background(), "x"); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("mirror put: %v", err)
	}
	if err := m.Set("Xspress 4"); err != nil {
		t.Fatalf("mirror set: %v", err)
	}
	l := NewList(KindList, nil, nil)
	if err := l.Set([]any{1, "a"}); err != nil {
		t.Fatalf("list set: %v", err)
	}
	if _, err := l.PutElement(context.Background(), 0, 2); !errors.Is(err, ErrNotPuttable) {
		t.Fatalf("mirror list put: %v", err)
	}
	if err := l.SetElement(1, "b"); err != nil {
		t.Fatalf("set element: %v", err)
	}
	if v, _ := l.GetElement(1); v != "b" {
		t.Fatalf("element %v", v)
	}
}
