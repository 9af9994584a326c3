// pkg/ebr/handle.go
package ebr

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSuspendWhilePinned is returned by Suspend when the handle still has
// one or more live guards: suspending is only correct if the calling
// thread holds no live guards.
var ErrSuspendWhilePinned = errors.New("ebr: cannot suspend a handle with a live guard")

// LocalHandle is the per-thread reclamation record: an announced epoch, an
// active flag, three retirement bags, and linkage into the collector's
// registry. The zero value is not usable; obtain one via Collector.Register.
type LocalHandle struct {
	collector *Collector

	announced atomic.Uint64
	active    atomic.Bool
	pinDepth  atomic.Int32
	registered atomic.Bool

	bagsMu sync.Mutex
	bags   [numBags][]retiredItem
}

// Pin announces the current global epoch and marks the handle active if it
// was not already (nested Pin calls from the same handle are reentrant and
// share the outermost announcement, matching "the thread enters Active on
// first guard acquisition"). It returns a Guard that must be released with
// Unpin.
func (h *LocalHandle) Pin() *Guard {
	if h.pinDepth.Add(1) == 1 {
		epoch := h.collector.globalEpoch.Load()
		h.announced.Store(epoch)
		h.active.Store(true)
	}
	return &Guard{handle: h, epoch: h.announced.Load()}
}

// Suspend deregisters the handle entirely, merging its retirement bags
// into the collector's orphan pile so other threads may reclaim them. It
// fails if the handle still has a live guard.
func (h *LocalHandle) Suspend() error {
	if h.pinDepth.Load() != 0 || h.active.Load() {
		return ErrSuspendWhilePinned
	}
	h.collector.unregister(h)
	h.registered.Store(false)

	h.bagsMu.Lock()
	bags := h.bags
	h.bags = [numBags][]retiredItem{}
	h.bagsMu.Unlock()

	h.collector.mergeOrphan(&bags)
	return nil
}

// Retire schedules deleter to run once no guard can still observe objects
// retired in the handle's current epoch, pushing it into the bag for the
// collector's current global epoch. Retirement itself cannot fail; deleter
// runs later, outside any collector lock.
func (h *LocalHandle) Retire(deleter func()) {
	if deleter == nil {
		return
	}
	idx := int(h.collector.globalEpoch.Load() % numBags)

	h.bagsMu.Lock()
	h.bags[idx] = append(h.bags[idx], retiredItem{deleter: deleter})
	h.bagsMu.Unlock()

	h.collector.retired.Add(1)
	if h.collector.retireSeq.Add(1)%advanceEvery == 0 {
		h.collector.TryAdvance()
	}
}

// RetireMany retires a batch of deleters in one pass, a batching
// convenience for migrating a whole cell's overflow chain at once.
func (h *LocalHandle) RetireMany(deleters []func()) {
	if len(deleters) == 0 {
		return
	}
	idx := int(h.collector.globalEpoch.Load() % numBags)

	h.bagsMu.Lock()
	for _, d := range deleters {
		if d != nil {
			h.bags[idx] = append(h.bags[idx], retiredItem{deleter: d})
		}
	}
	h.bagsMu.Unlock()

	h.collector.retired.Add(uint64(len(deleters)))
	if h.collector.retireSeq.Add(1)%advanceEvery == 0 {
		h.collector.TryAdvance()
	}
}

// Collector returns the collector this handle is registered with.
func (h *LocalHandle) Collector() *Collector { return h.collector }
