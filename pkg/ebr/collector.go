// pkg/ebr/collector.go
package ebr

import (
	"sync"
	"sync/atomic"
)

// numBags is the number of retirement bags per handle: enough to separate
// the epoch currently being retired into from the two preceding epochs, so
// that nothing retired in epoch g is ever freed before the global epoch
// reaches at least g+2.
const numBags = 3

// advanceEvery bounds how often a Retire call attempts an epoch advance
// scan, so that retirement stays amortized O(1) without risking unsafely
// advancing past a registrant the scan skipped: every attempt still
// inspects the whole registry, but most Retire calls skip the attempt
// entirely.
const advanceEvery = 8

// defaultScanBudget caps how many registrants a single TryAdvance call will
// inspect before giving up and reporting no progress; set high enough that
// realistic registries (tens to low thousands of goroutines) are scanned
// in full, matching the "small constant number" bound loosely rather than
// literally, since a partial scan cannot safely conclude an advance is
// sound.
const defaultScanBudget = 4096

// retiredItem is one object waiting to be reclaimed: a deleter closure
// rather than a raw pointer plus a destructor function pointer, since Go
// closures already capture everything a deleter needs.
type retiredItem struct {
	deleter func()
}

// Stats are eventually-consistent counters describing collector activity,
// exposing atomic counters instead of logging from hot paths.
type Stats struct {
	Advances       uint64
	Reclaimed      uint64
	Retired        uint64
	ActiveHandles  uint64
	RegisteredTotl uint64
}

// Collector owns the global epoch and the registry of per-thread handles.
// The zero value is not usable; construct one with New.
type Collector struct {
	globalEpoch atomic.Uint64
	retireSeq   atomic.Uint64

	registry sync.Map // *LocalHandle -> struct{}

	orphanMu   sync.Mutex
	orphanBags [numBags][]retiredItem

	advances  atomic.Uint64
	reclaimed atomic.Uint64
	retired   atomic.Uint64
	regTotal  atomic.Uint64
}

// New creates an unstarted Collector. The global epoch begins at 1, so that
// an epoch value of 0 can mean "unset" in callers that store epochs inline.
func New() *Collector {
	c := &Collector{}
	c.globalEpoch.Store(1)
	return c
}

var defaultCollector = sync.OnceValue(New)

// Default returns the process-wide collector, lazily constructed on the
// first call as the one global registry callers share unless they build
// their own. Go has no teardown hook for process-wide state; undrained bags
// at process exit leak benignly.
func Default() *Collector { return defaultCollector() }

// CurrentEpoch returns the current global epoch.
func (c *Collector) CurrentEpoch() uint64 { return c.globalEpoch.Load() }

// Stats returns a snapshot of the collector's counters.
func (c *Collector) Stats() Stats {
	active := uint64(0)
	c.registry.Range(func(k, _ any) bool {
		if k.(*LocalHandle).active.Load() {
			active++
		}
		return true
	})
	return Stats{
		Advances:       c.advances.Load(),
		Reclaimed:      c.reclaimed.Load(),
		Retired:        c.retired.Load(),
		ActiveHandles:  active,
		RegisteredTotl: c.regTotal.Load(),
	}
}

// PendingCount returns the number of retired-but-not-yet-freed objects
// across every registered handle and the orphan pile. It is exact only in
// the absence of concurrent mutation; callers use it as a backpressure
// signal.
func (c *Collector) PendingCount() int {
	n := 0
	c.registry.Range(func(k, _ any) bool {
		h := k.(*LocalHandle)
		h.bagsMu.Lock()
		for _, b := range h.bags {
			n += len(b)
		}
		h.bagsMu.Unlock()
		return true
	})
	c.orphanMu.Lock()
	for _, b := range c.orphanBags {
		n += len(b)
	}
	c.orphanMu.Unlock()
	return n
}

// Register creates and registers a new per-thread handle. Callers that pin
// repeatedly from the same long-lived goroutine should call this once and
// reuse the handle; ephemeral callers should use Pin instead.
func (c *Collector) Register() *LocalHandle {
	h := &LocalHandle{collector: c}
	h.registered.Store(true)
	c.registry.Store(h, struct{}{})
	c.regTotal.Add(1)
	return h
}

// Pin is sugar for Register().Pin(), for callers that do not want to keep a
// handle around: the Guard it returns suspends (not just unpins) the
// ephemeral handle when released.
func (c *Collector) Pin() *Guard {
	h := c.Register()
	g := h.Pin()
	g.ephemeral = true
	return g
}

// TryAdvance attempts one epoch advance and, on success, reclaims whatever
// bag is now two epochs old. It returns whether the epoch advanced. Most
// callers never need to call this directly: Retire calls it periodically.
func (c *Collector) TryAdvance() bool {
	cur := c.globalEpoch.Load()
	scanned := 0
	canAdvance := true

	c.registry.Range(func(k, _ any) bool {
		if scanned >= defaultScanBudget {
			// Could not confirm the whole registry; do not risk an unsafe
			// advance on a partial view.
			canAdvance = false
			return false
		}
		scanned++
		h := k.(*LocalHandle)
		if h.active.Load() && h.announced.Load() != cur {
			canAdvance = false
			return false
		}
		return true
	})

	if !canAdvance {
		return false
	}

	newEpoch := cur + 1
	if !c.globalEpoch.CompareAndSwap(cur, newEpoch) {
		// Someone else advanced concurrently; that is fine, just don't
		// double-count or double-free.
		return false
	}
	c.advances.Add(1)

	freeIdx := int((newEpoch + 1) % numBags)
	c.drainBag(freeIdx)
	return true
}

// drainBag frees everything in bag index idx across every registered
// handle and the orphan pile, running each deleter outside any collector
// lock.
func (c *Collector) drainBag(idx int) {
	var toRun []func()

	c.registry.Range(func(k, _ any) bool {
		h := k.(*LocalHandle)
		h.bagsMu.Lock()
		if len(h.bags[idx]) > 0 {
			for _, item := range h.bags[idx] {
				toRun = append(toRun, item.deleter)
			}
			h.bags[idx] = nil
		}
		h.bagsMu.Unlock()
		return true
	})

	c.orphanMu.Lock()
	if len(c.orphanBags[idx]) > 0 {
		for _, item := range c.orphanBags[idx] {
			toRun = append(toRun, item.deleter)
		}
		c.orphanBags[idx] = nil
	}
	c.orphanMu.Unlock()

	for _, fn := range toRun {
		fn()
	}
	c.reclaimed.Add(uint64(len(toRun)))
}

// mergeOrphan folds a suspending handle's bags into the orphan pile so
// other threads' retirement calls can eventually free them.
func (c *Collector) mergeOrphan(bags *[numBags][]retiredItem) {
	c.orphanMu.Lock()
	for i := range bags {
		if len(bags[i]) == 0 {
			continue
		}
		c.orphanBags[i] = append(c.orphanBags[i], bags[i]...)
	}
	c.orphanMu.Unlock()
}

func (c *Collector) unregister(h *LocalHandle) {
	c.registry.Delete(h)
}
