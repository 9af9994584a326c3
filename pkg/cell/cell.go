// Package cell implements the bucket primitive the hash table is built out
// of: a fixed-capacity array of slots plus an overflow chain for the rare
// bucket that fills up. Each slot holds one immutable key/value entry
// behind an AtomicArc, so Get never takes a lock: it is a guard-bounded,
// non-blocking read. Inserts, updates, and removals serialize through a
// single per-bucket mutex, keeping the write side simple while reads stay
// lock-free against it.
package cell

import (
	"sync"

	"golang.org/x/sys/cpu"

	"concc/pkg/arc"
	"concc/pkg/ebr"
	"concc/pkg/llist"
)

// Capacity is the number of inline slots a bucket holds before entries
// spill into its overflow chain.
const Capacity = 8

// entry is the immutable payload behind one occupied slot or overflow
// node. Once published via an AtomicArc it is never mutated in place: an
// update publishes a brand new entry and retires the old one, so a reader
// that loaded a Raw[entry[K,V]] under a live guard always sees a whole,
// consistent key/value pair.
type entry[K comparable, V any] struct {
	key K
	val V
}

// Cell is one bucket of the table. The cache-line padding on either side
// of the mutable state keeps a bucket's lock and slot array from sharing a
// cache line with its neighbors, avoiding false sharing under concurrent
// access to adjacent buckets.
type Cell[K comparable, V any] struct {
	_        cpu.CacheLinePad
	mu       sync.Mutex
	slots    [Capacity]arc.AtomicArc[entry[K, V]]
	occupied uint32 // bitmask, bit i set iff slots[i] is occupied; mu-guarded
	overflow *llist.List[entry[K, V]]
	count    int  // mu-guarded; total live entries, slots + overflow
	frozen   bool // mu-guarded; true once Freeze has copied this bucket out
	_        cpu.CacheLinePad
}

// New returns an empty bucket.
func New[K comparable, V any]() *Cell[K, V] {
	return &Cell[K, V]{overflow: llist.New[entry[K, V]]()}
}

// Get performs a lock-free lookup: it never blocks on, nor is blocked by,
// a concurrent Insert/Update/Remove/Upsert on this bucket.
func (c *Cell[K, V]) Get(key K, guard *ebr.Guard, handle *ebr.LocalHandle) (V, bool) {
	for i := range c.slots {
		raw, _ := c.slots[i].Load(guard)
		if raw.IsNil() {
			continue
		}
		if e := raw.Get(); e.key == key {
			return e.val, true
		}
	}
	for _, n := range llist.Walk(c.overflow.Head(), guard, handle)[1:] {
		if n.Value.key == key {
			return n.Value.val, true
		}
	}
	var zero V
	return zero, false
}

// Len returns the number of live entries in this bucket.
func (c *Cell[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Insert adds key/val if key is not already present. It reports whether
// the insert happened; a false return means the key already exists. A
// true frozen return means this bucket has already been migrated out by a
// table resize and the caller must retry against the table's new
// generation instead; ok is always false when frozen is true.
func (c *Cell[K, V]) Insert(key K, val V, guard *ebr.Guard, handle *ebr.LocalHandle) (ok, frozen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false, true
	}
	if c.findLocked(key, guard, handle) {
		return false, false
	}
	c.publishLocked(key, val, guard, handle)
	c.count++
	return true, false
}

// Upsert inserts key/val if absent, or replaces the existing value if
// present. It reports whether the key was freshly inserted (true) or an
// existing entry was replaced (false). See Insert for the frozen return.
func (c *Cell[K, V]) Upsert(key K, val V, guard *ebr.Guard, handle *ebr.LocalHandle) (fresh, frozen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false, true
	}
	if c.replaceLocked(key, val, guard, handle) {
		return false, false
	}
	c.publishLocked(key, val, guard, handle)
	c.count++
	return true, false
}

// Update replaces the value for an existing key. It reports whether key
// was found. See Insert for the frozen return.
func (c *Cell[K, V]) Update(key K, val V, guard *ebr.Guard, handle *ebr.LocalHandle) (ok, frozen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false, true
	}
	return c.replaceLocked(key, val, guard, handle), false
}

// Remove deletes key if present, returning its value and true; otherwise
// the zero value and false. See Insert for the frozen return.
func (c *Cell[K, V]) Remove(key K, guard *ebr.Guard, handle *ebr.LocalHandle) (v V, ok, frozen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		var zero V
		return zero, false, true
	}

	for i := range c.slots {
		raw, tag := c.slots[i].Load(guard)
		if raw.IsNil() {
			continue
		}
		e := raw.Get()
		if e.key != key {
			continue
		}
		old := c.slots[i].Swap(arc.Arc[entry[K, V]]{}, tag)
		old.Drop(handle)
		c.occupied &^= 1 << uint(i)
		c.count--
		return e.val, true, false
	}

	nodes := llist.Walk(c.overflow.Head(), guard, handle)
	for _, n := range nodes[1:] {
		if n.Value.key == key {
			val := n.Value.val
			n.DeleteSelf()
			c.count--
			return val, true, false
		}
	}

	var zero V
	return zero, false, false
}

// RemoveIf deletes key only if pred holds on its current value, returning
// whether it removed anything. See Insert for the frozen return.
func (c *Cell[K, V]) RemoveIf(key K, pred func(V) bool, guard *ebr.Guard, handle *ebr.LocalHandle) (ok, frozen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false, true
	}

	for i := range c.slots {
		raw, tag := c.slots[i].Load(guard)
		if raw.IsNil() {
			continue
		}
		e := raw.Get()
		if e.key != key || !pred(e.val) {
			continue
		}
		old := c.slots[i].Swap(arc.Arc[entry[K, V]]{}, tag)
		old.Drop(handle)
		c.occupied &^= 1 << uint(i)
		c.count--
		return true, false
	}

	nodes := llist.Walk(c.overflow.Head(), guard, handle)
	for _, n := range nodes[1:] {
		if n.Value.key == key && pred(n.Value.val) {
			n.DeleteSelf()
			c.count--
			return true, false
		}
	}
	return false, false
}

// ForEach visits every live entry. fn must not mutate the bucket; callers
// needing mutation should use Retain.
func (c *Cell[K, V]) ForEach(fn func(K, V) bool, guard *ebr.Guard, handle *ebr.LocalHandle) bool {
	for i := range c.slots {
		raw, _ := c.slots[i].Load(guard)
		if raw.IsNil() {
			continue
		}
		e := raw.Get()
		if !fn(e.key, e.val) {
			return false
		}
	}
	for _, n := range llist.Walk(c.overflow.Head(), guard, handle)[1:] {
		if !fn(n.Value.key, n.Value.val) {
			return false
		}
	}
	return true
}

// Retain keeps only entries for which pred returns true, removing the
// rest, and reports how many were removed. A frozen bucket is left
// untouched and reports 0.
func (c *Cell[K, V]) Retain(pred func(K, V) bool, guard *ebr.Guard, handle *ebr.LocalHandle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return 0
	}

	removed := 0
	for i := range c.slots {
		raw, tag := c.slots[i].Load(guard)
		if raw.IsNil() {
			continue
		}
		e := raw.Get()
		if pred(e.key, e.val) {
			continue
		}
		old := c.slots[i].Swap(arc.Arc[entry[K, V]]{}, tag)
		old.Drop(handle)
		c.occupied &^= 1 << uint(i)
		c.count--
		removed++
	}

	nodes := llist.Walk(c.overflow.Head(), guard, handle)
	for _, n := range nodes[1:] {
		if !pred(n.Value.key, n.Value.val) {
			n.DeleteSelf()
			c.count--
			removed++
		}
	}
	return removed
}

// Freeze holds the bucket's write lock for its entire duration, calls fn
// once per live entry, and then marks the bucket frozen before releasing
// the lock — all as one atomic step. Once frozen, every mutating method on
// this Cell returns frozen=true instead of touching bucket state, so a
// caller (table resize migration, in practice) that has copied a bucket's
// contents elsewhere can be certain no write lands in this bucket after
// the copy without that writer being told to retry against the new
// location. Freezing an already-frozen bucket calls fn for nothing.
func (c *Cell[K, V]) Freeze(fn func(K, V), guard *ebr.Guard, handle *ebr.LocalHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return
	}
	for i := range c.slots {
		raw, _ := c.slots[i].Load(guard)
		if raw.IsNil() {
			continue
		}
		e := raw.Get()
		fn(e.key, e.val)
	}
	for _, n := range llist.Walk(c.overflow.Head(), guard, handle)[1:] {
		fn(n.Value.key, n.Value.val)
	}
	c.frozen = true
}

// findLocked reports whether key is present; caller holds c.mu.
func (c *Cell[K, V]) findLocked(key K, guard *ebr.Guard, handle *ebr.LocalHandle) bool {
	for i := range c.slots {
		raw, _ := c.slots[i].Load(guard)
		if !raw.IsNil() && raw.Get().key == key {
			return true
		}
	}
	for _, n := range llist.Walk(c.overflow.Head(), guard, handle)[1:] {
		if n.Value.key == key {
			return true
		}
	}
	return false
}

// replaceLocked swaps in a new value for an existing key; caller holds
// c.mu. Reports whether key was found.
func (c *Cell[K, V]) replaceLocked(key K, val V, guard *ebr.Guard, handle *ebr.LocalHandle) bool {
	for i := range c.slots {
		raw, tag := c.slots[i].Load(guard)
		if raw.IsNil() || raw.Get().key != key {
			continue
		}
		old := c.slots[i].Swap(arc.New(entry[K, V]{key: key, val: val}), tag)
		old.Drop(handle)
		return true
	}

	nodes := llist.Walk(c.overflow.Head(), guard, handle)
	for _, n := range nodes[1:] {
		if n.Value.key != key {
			continue
		}
		n.DeleteSelf()
		// Unlink the marked node first: if it was the chain's tail,
		// PushBack would otherwise find no valid append point.
		llist.Walk(c.overflow.Head(), guard, handle)
		c.overflow.PushBack(entry[K, V]{key: key, val: val}, nil, guard, handle)
		return true
	}
	return false
}

// publishLocked inserts a brand new key/val, preferring an empty inline
// slot and falling back to the overflow chain. Caller holds c.mu and has
// already confirmed key is absent.
func (c *Cell[K, V]) publishLocked(key K, val V, guard *ebr.Guard, handle *ebr.LocalHandle) {
	for i := range c.slots {
		if c.occupied&(1<<uint(i)) != 0 {
			continue
		}
		old := c.slots[i].Swap(arc.New(entry[K, V]{key: key, val: val}), c.slots[i].Tag())
		old.Drop(handle) // always the nil Arc: the slot was empty
		c.occupied |= 1 << uint(i)
		return
	}
	c.overflow.PushBack(entry[K, V]{key: key, val: val}, nil, guard, handle)
}
