// Package arc implements reference-counted handles coordinated with the
// epoch collector in pkg/ebr.
//
// Arc[T] is an owning strong reference: cloning increments a shared strong
// count, dropping decrements it, and the referent is scheduled for
// retirement (not freed immediately) the instant the count reaches zero.
// AtomicArc[T] is the atomic cell a concurrent data structure actually
// stores: it owns one strong reference to whatever it currently points at
// and exposes a load/swap/compare-exchange surface built on pkg/tagptr for
// the address+tag word.
//
// This is the Go-idiomatic reading of a design built for a language with
// manual memory management: "freeing" an arcInner here means running its
// deleter and letting the last ordinary Go pointer to it drop out of
// scope, after which the garbage collector reclaims it in its own time.
package arc

import "sync/atomic"

// arcInner is the shared allocation behind every clone of an Arc[T].
type arcInner[T any] struct {
	strong atomic.Int64
	weak   atomic.Int64
	value  T
}

// Arc is an owning strong reference to a T. The zero value is the "null"
// Arc and carries no referent.
type Arc[T any] struct {
	inner *arcInner[T]
}

// New allocates a fresh Arc around v with strong=1, weak=1: the strong
// group's single weak token.
func New[T any](v T) Arc[T] {
	inner := &arcInner[T]{value: v}
	inner.strong.Store(1)
	inner.weak.Store(1)
	return Arc[T]{inner: inner}
}

// IsNil reports whether this Arc carries no referent.
func (a Arc[T]) IsNil() bool { return a.inner == nil }

// Get returns a pointer to the referent. Valid for as long as the caller
// holds a strong reference (this Arc, or any clone of it) or a live guard
// obtained while the strong count was still positive.
func (a Arc[T]) Get() *T {
	if a.inner == nil {
		return nil
	}
	return &a.inner.value
}

// Clone increments the strong count and returns a new owning handle to the
// same referent.
func (a Arc[T]) Clone() Arc[T] {
	if a.inner == nil {
		return Arc[T]{}
	}
	a.inner.strong.Add(1)
	return Arc[T]{inner: a.inner}
}

// StrongCount returns the current strong reference count; 0 for a nil Arc.
func (a Arc[T]) StrongCount() int64 {
	if a.inner == nil {
		return 0
	}
	return a.inner.strong.Load()
}

// retirer is the subset of *ebr.LocalHandle that Drop needs; kept as an
// interface here so this package does not import ebr just to name the
// concrete handle type, and so tests can substitute a fake.
type retirer interface {
	Retire(func())
}

// Drop decrements the strong count. If it reaches zero, the referent is
// scheduled for retirement through handle rather than freed immediately:
// the deleter that eventually runs drops the strong group's weak token,
// and once weak also reaches zero the last Go pointer to inner is released
// and the allocation becomes ordinary garbage.
func (a Arc[T]) Drop(handle retirer) {
	if a.inner == nil {
		return
	}
	inner := a.inner
	if inner.strong.Add(-1) == 0 {
		handle.Retire(func() {
			inner.weak.Add(-1)
		})
	}
}

// Downgrade produces a non-owning Weak handle sharing the same weak count.
func (a Arc[T]) Downgrade() Weak[T] {
	if a.inner == nil {
		return Weak[T]{}
	}
	a.inner.weak.Add(1)
	return Weak[T]{inner: a.inner}
}

// Weak is a non-owning handle: it keeps the allocation's weak token alive
// (so the struct itself is not released) but does not prevent the value it
// points to from being retired. Upgrade attempts to obtain a new strong
// Arc, and fails once the strong count has already reached zero.
type Weak[T any] struct {
	inner *arcInner[T]
}

// IsNil reports whether this Weak carries no referent.
func (w Weak[T]) IsNil() bool { return w.inner == nil }

// Upgrade attempts to produce a new strong Arc, succeeding only if the
// strong count has not yet dropped to zero.
func (w Weak[T]) Upgrade() (Arc[T], bool) {
	if w.inner == nil {
		return Arc[T]{}, false
	}
	for {
		cur := w.inner.strong.Load()
		if cur == 0 {
			return Arc[T]{}, false
		}
		if w.inner.strong.CompareAndSwap(cur, cur+1) {
			return Arc[T]{inner: w.inner}, true
		}
	}
}

// Drop decrements the weak count; once it reaches zero the allocation's
// last Go pointer is released for the garbage collector to reclaim.
func (w Weak[T]) Drop() {
	if w.inner == nil {
		return
	}
	w.inner.weak.Add(-1)
}
