// Package llist implements a lock-free singly linked list: mark-and-unlink
// over a chain of AtomicArc forward links. It is a direct client of
// pkg/ebr and pkg/arc, and backs the overflow chains pkg/cell uses once a
// bucket's fixed-capacity slots fill up.
//
// Deletion is two-phase: DeleteSelf sets a mark bit on the node's own
// outgoing link, making it logically invisible to any traversal that
// checks for the mark; the node's storage persists until no guard can
// observe it. A later traversal that walks past a marked node physically
// unlinks it (optimistic cleanup) by CAS'ing the predecessor's link past
// it, and retires the strong reference that used to hold it in place.
package llist

import (
	"concc/pkg/arc"
	"concc/pkg/ebr"
	"concc/pkg/tagptr"
)

// markBit is the tag bit a node's own outgoing link carries once the node
// is logically deleted. The second tag bit is left free for a caller's own
// use (e.g. a generation counter).
const markBit = tagptr.TagFirst

// IsMarked reports whether t has the deletion mark set.
func IsMarked(t tagptr.Tag) bool { return t&markBit != 0 }

// Node is the concrete linked-list element every part of this module uses.
// It carries a payload plus one AtomicArc forward link.
type Node[T any] struct {
	Value T
	next  arc.AtomicArc[Node[T]]
}

// NewNode allocates a fresh, unlinked node.
func NewNode[T any](v T) arc.Arc[Node[T]] {
	return arc.New(Node[T]{Value: v})
}

// Link returns the node's forward-link cell.
func (n *Node[T]) Link() *arc.AtomicArc[Node[T]] { return &n.next }

// IsMarked reports whether this node has been logically deleted (its own
// outgoing link carries the mark bit).
func (n *Node[T]) IsMarked(guard *ebr.Guard) bool {
	_, tag := n.next.Load(guard)
	return IsMarked(tag)
}

// Mark sets the deletion mark bit on this node's outgoing link. It is
// idempotent: marking an already-marked node is a no-op and still
// succeeds.
func (n *Node[T]) Mark() {
	n.next.UpdateTagIf(markBit, func(cur tagptr.Tag) bool { return cur&markBit == 0 })
}

// DeleteSelf logically removes this node from any list it belongs to.
// Actual unlinking happens lazily, during a subsequent NextLive traversal.
func (n *Node[T]) DeleteSelf() { n.Mark() }

// rawSucc returns the node immediately reachable via this node's link,
// and whether that link carries the mark bit (which marks THIS node, not
// the successor).
func (n *Node[T]) rawSucc(guard *ebr.Guard) (arc.Raw[Node[T]], tagptr.Tag) {
	return n.next.Load(guard)
}
