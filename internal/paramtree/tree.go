// Package paramtree is a hierarchical namespace of typed parameters addressed
// by slash separated paths. Interior nodes are map[string]any; leaves are Nodes.
package paramtree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Tree struct {
	root map[string]any
}

// New validates root and wraps it. Every value must be a Node or a nested
// map[string]any.
func New(root map[string]any) (*Tree, error) {
	if err := validate(root, ""); err != nil {
		return nil, err
	}
	return &Tree{root: root}, nil
}

func validate(m map[string]any, prefix string) error {
	for k, v := range m {
		path := join(prefix, k)
		if k == "" || strings.Contains(k, "/") {
			return fmt.Errorf("%w: bad key %q", ErrInvalidTree, path)
		}
		switch t := v.(type) {
		case Node:
		case map[string]any:
			if err := validate(t, path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s holds %T", ErrInvalidTree, path, v)
		}
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func split(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type target struct {
	value    any
	list     *List
	index    int
	hasIndex bool
}

func (t *Tree) walk(tokens []string) (any, bool) {
	var cur any = t.root
	for _, tok := range tokens {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[tok]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (t *Tree) resolve(path string) (target, error) {
	tokens := split(path)
	if v, ok := t.walk(tokens); ok {
		return target{value: v}, nil
	}
	if n := len(tokens); n > 0 {
		if index, err := strconv.Atoi(tokens[n-1]); err == nil {
			if v, ok := t.walk(tokens[:n-1]); ok {
				if list, isList := v.(*List); isList {
					return target{value: v, list: list, index: index, hasIndex: true}, nil
				}
			}
		}
	}
	return target{}, fmt.Errorf("%w: %q", ErrPathNotFound, path)
}

// Node returns the leaf at path.
func (t *Tree) Node(path string) (Node, error) {
	tg, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	n, ok := tg.value.(Node)
	if !ok || tg.hasIndex {
		return nil, fmt.Errorf("%w: %q is not a leaf", ErrPathNotFound, path)
	}
	return n, nil
}

// Get returns a leaf value, a list element, or a nested map for a subtree.
// Write-only leaves are omitted from subtree results.
func (t *Tree) Get(path string) (any, error) {
	tg, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	if tg.hasIndex {
		return tg.list.GetElement(tg.index)
	}
	return unroll(tg.value)
}

func unroll(v any) (any, error) {
	switch t := v.(type) {
	case Node:
		return t.Get()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			val, err := unroll(child)
			if errors.Is(err, ErrNotGettable) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	}
	return nil, ErrInvalidTree
}

type pendingSet struct {
	node  Node
	value any
}

// Set writes locally. A map value addressed at a subtree sets each named
// leaf; every leaf is validated before any is written.
func (t *Tree) Set(path string, value any) error {
	tg, err := t.resolve(path)
	if err != nil {
		return err
	}
	if tg.hasIndex {
		return tg.list.SetElement(tg.index, value)
	}
	var batch []pendingSet
	if err := collect(tg.value, value, strings.Trim(path, "/"), &batch); err != nil {
		return err
	}
	for _, p := range batch {
		if err := p.node.Set(p.value); err != nil {
			return err
		}
	}
	return nil
}

func collect(at any, value any, path string, batch *[]pendingSet) error {
	switch t := at.(type) {
	case Node:
		if !t.settable() {
			return fmt.Errorf("%w: %q", ErrNotSettable, path)
		}
		v, err := t.check(value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*batch = append(*batch, pendingSet{node: t, value: v})
		return nil
	case map[string]any:
		values, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q is a subtree, got %T", ErrTypeMismatch, path, value)
		}
		for k, v := range values {
			child, ok := t[k]
			if !ok {
				return fmt.Errorf("%w: %q", ErrPathNotFound, join(path, k))
			}
			if err := collect(child, v, join(path, k), batch); err != nil {
				return err
			}
		}
		return nil
	}
	return ErrInvalidTree
}

// Put is the external write. Subtrees are not puttable.
func (t *Tree) Put(ctx context.Context, path string, value any) (any, error) {
	tg, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	if tg.hasIndex {
		return tg.list.PutElement(ctx, tg.index, value)
	}
	n, ok := tg.value.(Node)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a subtree", ErrNotPuttable, path)
	}
	return n.Put(ctx, value)
}

// Paths lists every leaf path in sorted order.
func (t *Tree) Paths() []string {
	var out []string
	var walk func(m map[string]any, prefix string)
	walk = func(m map[string]any, prefix string) {
		for k, v := range m {
			p := join(prefix, k)
			if sub, ok := v.(map[string]any); ok {
				walk(sub, p)
				continue
			}
			out = append(out, p)
		}
	}
	walk(t.root, "")
	sort.Strings(out)
	return out
}
