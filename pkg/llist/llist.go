package llist

import (
	"concc/pkg/arc"
	"concc/pkg/ebr"
	"concc/pkg/tagptr"
)

// NextLive returns the next node reachable from n that has not itself been
// logically deleted, skipping (and physically unlinking) any run of marked
// successors along the way, lazily CAS'ing its own link past them
// (optimistic cleanup).
//
// NextLive never blocks and never retries indefinitely against live
// progress elsewhere: every iteration either returns a live node or makes
// forward structural progress (a successful unlink), so it terminates in
// bounded steps.
func NextLive[T any](n *Node[T], guard *ebr.Guard, handle *ebr.LocalHandle) *Node[T] {
	for {
		raw, tag := n.rawSucc(guard)
		succ := raw.Get()
		if succ == nil {
			return nil
		}
		_, succTag := succ.rawSucc(guard)
		if !IsMarked(succTag) {
			return succ
		}

		// succ is logically deleted: help unlink it by retargeting n's link
		// directly at succ's own successor. The tag stored on n's link
		// belongs to n, not to succ, so it carries forward unchanged.
		skip, _ := succ.next.LoadArc(guard)
		prev, _, _, ok := n.next.CompareExchange(raw, tag, skip, tag)
		if !ok {
			skip.Drop(handle)
			continue
		}
		prev.Drop(handle)
		// n's link changed shape; loop and re-read from n rather than
		// assuming skip is live (it may itself already be marked).
	}
}

// Walk returns every live node reachable from n, in order, skipping and
// physically unlinking marked nodes as it goes. It is a convenience built
// on repeated NextLive calls, used by tests and by pkg/cell's overflow
// scan.
func Walk[T any](n *Node[T], guard *ebr.Guard, handle *ebr.LocalHandle) []*Node[T] {
	var out []*Node[T]
	cur := n
	for cur != nil {
		out = append(out, cur)
		cur = NextLive(cur, guard, handle)
	}
	return out
}

// PushBack walks forward from start to the chain's current tail (a node
// whose outgoing link is both nil and unmarked) and links newNode there.
// cond, if non-nil, is evaluated against the tail's value immediately
// before the link attempt; if it returns false, PushBack aborts without
// modifying anything.
//
// If the walk reaches a node whose link is nil but which is itself marked
// for deletion, there is no valid append point reachable from start (the
// chain's true tail has already been logically removed and not yet
// unlinked by any reader); PushBack reports failure rather than growing a
// chain off a dead node. Callers facing this should retry from the list's
// stable head.
func PushBack[T any](start *Node[T], newNode arc.Arc[Node[T]], cond func(tail *T) bool, guard *ebr.Guard, handle *ebr.LocalHandle) bool {
	cur := start
	for {
		raw, tag := cur.rawSucc(guard)
		if raw.IsNil() {
			if IsMarked(tag) {
				return false
			}
			if cond != nil && !cond(&cur.Value) {
				return false
			}
			_, _, _, ok := cur.next.CompareExchange(raw, tag, newNode, tag)
			if ok {
				return true
			}
			continue
		}
		// cur may itself be marked for deletion here; a concurrent NextLive
		// will eventually unlink it, but its link chain stays structurally
		// valid in the meantime, so walking through it is still correct.
		cur = raw.Get()
	}
}

// markBitTag exposes markBit for callers (e.g. pkg/cell) that want to
// reserve the other tag bit for their own use without importing tagptr
// directly just for this constant.
var markBitTag = tagptr.Tag(markBit)

// MarkBit is the tag bit this package reserves for the deletion mark.
func MarkBit() tagptr.Tag { return markBitTag }
