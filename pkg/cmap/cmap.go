// Package cmap implements a concurrent hash table: a bucket array of
// pkg/cell buckets, grown by a non-blocking incremental resize, all
// coordinated through pkg/ebr for safe reclamation of retired bucket
// arrays. Each Insert, and each Upsert that adds a new key, assists a
// resize in progress with a bounded amount of migration work; Get,
// Update, Remove, RemoveIf, Retain and the scans do no migration work.
package cmap

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"concc/pkg/cell"
	"concc/pkg/ebr"
)

// Map is a concurrent hash table. The zero value is not usable; construct
// one with New.
type Map[K comparable, V any] struct {
	collector *ebr.Collector
	cfg       Config

	table atomic.Pointer[bucketArray[K, V]]
	next  atomic.Pointer[bucketArray[K, V]] // non-nil while a resize is in progress
	migrated atomic.Uint64                  // old-table indices [0, migrated) are fully moved

	count atomic.Int64

	resizeGroup singleflight.Group

	budget     *memoryBudget
	entryBytes int64
}

// New constructs an empty table. opts are applied over sensible defaults;
// see WithInitialCapacity, WithHasher, WithMaxAssistPerOp,
// WithGrowthThreshold.
func New[K comparable, V any](opts ...Option) *Map[K, V] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Map[K, V]{
		collector:  ebr.New(),
		cfg:        cfg,
		entryBytes: entrySize[K, V](),
	}
	if cfg.memoryLimit > 0 {
		m.budget = newMemoryBudget(cfg.memoryLimit, cfg.pressureThreshold, cfg.onPressure)
	}
	m.table.Store(newBucketArray[K, V](cfg.initialBuckets))
	return m
}

// Handle returns a fresh, long-lived reclamation handle a single goroutine
// should keep and reuse across many operations, per pkg/ebr's guidance for
// amortizing registration cost.
func (m *Map[K, V]) Handle() *ebr.LocalHandle { return m.collector.Register() }

func (m *Map[K, V]) hash(key K) uint64 { return m.cfg.hasher(key) }

// route picks which generation and bucket a key currently belongs to.
func (m *Map[K, V]) route(h uint64) *cell.Cell[K, V] {
	old := m.table.Load()
	next := m.next.Load()
	if next == nil {
		return old.cellFor(h)
	}
	oldIdx := old.indexOf(h)
	if oldIdx < m.migrated.Load() {
		return next.cellFor(h)
	}
	return old.cellFor(h)
}

// Len returns the approximate number of live entries.
func (m *Map[K, V]) Len() int64 { return m.count.Load() }

// IsEmpty reports whether the table currently holds no entries.
func (m *Map[K, V]) IsEmpty() bool { return m.Len() == 0 }

// Get looks up key, returning its value and true, or the zero value and
// false if absent. Lock-free against any concurrent write to a different
// key, and against the read side of a resize in progress.
func (m *Map[K, V]) Get(key K, handle *ebr.LocalHandle) (V, bool) {
	g := handle.Pin()
	defer g.Unpin()
	return m.route(m.hash(key)).Get(key, g, handle)
}

// Insert adds key/val if key is not already present. It returns
// *DuplicateKeyError if the key already exists.
//
// A key's bucket can be frozen mid-operation by a concurrent resize
// migration that has just copied it out; Insert (and every other
// write-path method below) retries against the newly routed bucket in
// that case rather than risking a write landing in a bucket a migration
// has already moved past, which would otherwise vanish once the old
// generation is retired. See Cell.Freeze.
func (m *Map[K, V]) Insert(key K, val V, handle *ebr.LocalHandle) error {
	h := m.hash(key)
	for {
		g := handle.Pin()
		ok, frozen := m.route(h).Insert(key, val, g, handle)
		g.Unpin()
		if frozen {
			continue
		}
		if !ok {
			return &DuplicateKeyError[K, V]{Key: key, Value: val}
		}
		m.count.Add(1)
		if m.budget != nil {
			m.budget.track(m.entryBytes)
		}
		m.maybeResize(handle)
		return nil
	}
}

// Upsert inserts key/val if absent or replaces the existing value,
// reporting whether the key was freshly inserted. See Insert for the
// frozen-bucket retry behavior.
func (m *Map[K, V]) Upsert(key K, val V, handle *ebr.LocalHandle) bool {
	h := m.hash(key)
	for {
		g := handle.Pin()
		fresh, frozen := m.route(h).Upsert(key, val, g, handle)
		g.Unpin()
		if frozen {
			continue
		}
		if fresh {
			m.count.Add(1)
			if m.budget != nil {
				m.budget.track(m.entryBytes)
			}
			m.maybeResize(handle)
		}
		return fresh
	}
}

// Update replaces the value for an existing key. It returns ErrNotFound if
// key is absent. See Insert for the frozen-bucket retry behavior.
func (m *Map[K, V]) Update(key K, val V, handle *ebr.LocalHandle) error {
	h := m.hash(key)
	for {
		g := handle.Pin()
		ok, frozen := m.route(h).Update(key, val, g, handle)
		g.Unpin()
		if frozen {
			continue
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	}
}

// Remove deletes key if present, returning its value and true. See Insert
// for the frozen-bucket retry behavior.
func (m *Map[K, V]) Remove(key K, handle *ebr.LocalHandle) (V, bool) {
	h := m.hash(key)
	for {
		g := handle.Pin()
		v, ok, frozen := m.route(h).Remove(key, g, handle)
		g.Unpin()
		if frozen {
			continue
		}
		if ok {
			m.count.Add(-1)
			if m.budget != nil {
				m.budget.track(-m.entryBytes)
			}
		}
		return v, ok
	}
}

// RemoveIf deletes key only if pred holds on its current value. It returns
// ErrNotFound if key is absent, or ErrPredicateRejected if pred declined.
// See Insert for the frozen-bucket retry behavior.
func (m *Map[K, V]) RemoveIf(key K, pred func(V) bool, handle *ebr.LocalHandle) error {
	h := m.hash(key)
	for {
		g := handle.Pin()
		found := false
		ok, frozen := m.route(h).RemoveIf(key, func(v V) bool {
			found = true
			return pred(v)
		}, g, handle)
		g.Unpin()
		if frozen {
			continue
		}
		if ok {
			m.count.Add(-1)
			if m.budget != nil {
				m.budget.track(-m.entryBytes)
			}
			return nil
		}
		if !found {
			return ErrNotFound
		}
		return ErrPredicateRejected
	}
}

// ForEach visits every live entry across every bucket. fn must not mutate
// the table; use Retain for that. Visiting order is unspecified and may
// skip a key briefly present, if a resize is in progress concurrently with
// the scan.
func (m *Map[K, V]) ForEach(fn func(K, V) bool, handle *ebr.LocalHandle) {
	g := handle.Pin()
	defer g.Unpin()
	old := m.table.Load()
	next := m.next.Load()
	migrated := uint64(0)
	if next != nil {
		migrated = m.migrated.Load()
	}
	for i, c := range old.cells {
		// A bucket below migrated has already been frozen and
		// copied into next; visiting it here too would show its
		// entries under both generations to this single scan.
		if next != nil && uint64(i) < migrated {
			continue
		}
		if !c.ForEach(fn, g, handle) {
			return
		}
	}
	if next != nil {
		for _, c := range next.cells {
			if !c.ForEach(fn, g, handle) {
				return
			}
		}
	}
}

// Scan is ForEach's non-early-exiting form, returning every live key/value
// pair as a snapshot slice.
func (m *Map[K, V]) Scan(handle *ebr.LocalHandle) []KV[K, V] {
	var out []KV[K, V]
	m.ForEach(func(k K, v V) bool {
		out = append(out, KV[K, V]{Key: k, Value: v})
		return true
	}, handle)
	return out
}

// KV is one key/value pair, as returned by Scan.
type KV[K comparable, V any] struct {
	Key   K
	Value V
}

// Retain keeps only entries for which pred returns true, removing the
// rest, and returns how many were removed.
func (m *Map[K, V]) Retain(pred func(K, V) bool, handle *ebr.LocalHandle) int {
	g := handle.Pin()
	defer g.Unpin()
	removed := 0
	old := m.table.Load()
	next := m.next.Load()
	migrated := uint64(0)
	if next != nil {
		migrated = m.migrated.Load()
	}
	for i, c := range old.cells {
		// Already-migrated buckets live on in next; applying pred to
		// both copies would double-count the removal below.
		if next != nil && uint64(i) < migrated {
			continue
		}
		removed += c.Retain(pred, g, handle)
	}
	if next != nil {
		for _, c := range next.cells {
			removed += c.Retain(pred, g, handle)
		}
	}
	m.count.Add(-int64(removed))
	if m.budget != nil && removed > 0 {
		m.budget.track(-int64(removed) * m.entryBytes)
	}
	return removed
}

// Clear removes every entry. It is not atomic across the whole table: a
// concurrent reader may observe a partially-cleared state.
func (m *Map[K, V]) Clear(handle *ebr.LocalHandle) {
	m.Retain(func(K, V) bool { return false }, handle)
}

// maybeResize triggers a new resize if the load factor has crossed the
// configured threshold, and otherwise assists one already in progress.
func (m *Map[K, V]) maybeResize(handle *ebr.LocalHandle) {
	if m.next.Load() == nil {
		old := m.table.Load()
		load := float64(m.count.Load()) / float64(old.len())
		if load >= m.cfg.growthThreshold {
			m.beginResize(old)
		}
		return
	}
	m.assist(handle)
}

// beginResize installs a fresh, double-sized generation for migration to
// target. singleflight collapses concurrent callers noticing the same
// threshold crossing into a single allocation.
func (m *Map[K, V]) beginResize(old *bucketArray[K, V]) {
	m.resizeGroup.Do("begin", func() (any, error) {
		if m.next.Load() != nil || m.table.Load() != old {
			return nil, nil
		}
		m.migrated.Store(0)
		m.next.Store(newBucketArray[K, V](old.len() * 2))
		return nil, nil
	})
}

// assist migrates up to cfg.maxAssistPerOp old buckets into the new
// generation, finalizing the resize once every bucket has moved.
//
// Claiming a bucket index and advancing migrated is a single
// compare-and-swap, not a load-then-add: two assisters racing on the same
// idx would otherwise both Freeze that bucket and both bump migrated,
// letting migrated skip past the next index while its bucket was never
// copied. Freeze is idempotent (a second Freeze of an already-frozen
// bucket copies nothing), so the loser of the CAS simply retries
// against whatever index is current.
func (m *Map[K, V]) assist(handle *ebr.LocalHandle) {
	g := handle.Pin()
	defer g.Unpin()

	for i := 0; i < m.cfg.maxAssistPerOp; i++ {
		old := m.table.Load()
		next := m.next.Load()
		if next == nil {
			return
		}
		idx := m.migrated.Load()
		if idx >= uint64(old.len()) {
			m.finalizeResize(old, next, handle)
			return
		}
		oldCell := old.cells[idx]
		oldCell.Freeze(func(k K, v V) {
			next.cellFor(m.hash(k)).Upsert(k, v, g, handle)
		}, g, handle)
		if !m.migrated.CompareAndSwap(idx, idx+1) {
			// Another assister already advanced past idx; this Freeze
			// was redundant but harmless. Retry this iteration's work
			// against whatever bucket is now current.
			i--
		}
	}
}

// finalizeResize publishes next as the live table once migration has
// covered every old bucket, and retires the old generation through the
// collector.
func (m *Map[K, V]) finalizeResize(old, next *bucketArray[K, V], handle *ebr.LocalHandle) {
	if m.table.CompareAndSwap(old, next) {
		m.next.Store(nil)
		handle.Retire(func() { _ = old })
	}
}

// Stats reports point-in-time sizing information, useful for diagnostics
// and tests.
type Stats struct {
	Entries  int64
	Buckets  int
	Resizing bool
	Migrated uint64

	// MemoryTracked is true only when WithMemoryBudget configured a limit;
	// the Usage/Limit/UnderPressure/Exceeded fields are zero otherwise.
	MemoryTracked bool
	MemoryUsage   int64
	MemoryLimit   int64
	UnderPressure bool
	Exceeded      bool
}

// Stats returns the table's current size, resize-progress, and (if
// WithMemoryBudget was configured) memory-pressure snapshot.
func (m *Map[K, V]) Stats() Stats {
	next := m.next.Load()
	s := Stats{
		Entries:  m.count.Load(),
		Buckets:  m.table.Load().len(),
		Resizing: next != nil,
		Migrated: m.migrated.Load(),
	}
	if m.budget != nil {
		s.MemoryTracked = true
		s.MemoryUsage, s.MemoryLimit, s.UnderPressure, s.Exceeded = m.budget.snapshot()
	}
	return s
}
