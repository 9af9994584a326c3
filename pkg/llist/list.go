package llist

import (
	"concc/pkg/arc"
	"concc/pkg/ebr"
)

// List is a convenience head-sentinel wrapper around a chain of Node
// values: pkg/cell uses one per bucket for its overflow entries once the
// bucket's fixed-capacity slots are full.
type List[T any] struct {
	head arc.Arc[Node[T]]
}

// New returns an empty list with an unexported zero-value sentinel head;
// the sentinel never holds caller data and is never returned from Walk. On
// an empty list the sentinel is the tail, so PushBack's cond callback sees
// its zero value.
func New[T any]() *List[T] {
	var zero T
	return &List[T]{head: NewNode(zero)}
}

// PushBack appends v after the current tail, subject to cond (see the
// package-level PushBack doc). It reports false, without retrying, if the
// walk from head finds no valid append point; the caller decides whether
// to retry.
func (l *List[T]) PushBack(v T, cond func(tail *T) bool, guard *ebr.Guard, handle *ebr.LocalHandle) bool {
	newNode := NewNode(v)
	return PushBack(l.head.Get(), newNode, cond, guard, handle)
}

// Walk returns the live values in the list, in order, skipping the head
// sentinel.
func (l *List[T]) Walk(guard *ebr.Guard, handle *ebr.LocalHandle) []*T {
	nodes := Walk(l.head.Get(), guard, handle)
	out := make([]*T, 0, len(nodes))
	for _, n := range nodes[1:] {
		out = append(out, &n.Value)
	}
	return out
}

// Head returns the sentinel node, for callers (pkg/cell) that want to run
// their own traversal or deletion logic directly against the chain.
func (l *List[T]) Head() *Node[T] { return l.head.Get() }
