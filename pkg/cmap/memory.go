package cmap

import (
	"sync"
	"unsafe"
)

// DefaultPressureThreshold is the fraction of the configured byte budget at
// which a pressure callback fires (80%).
const DefaultPressureThreshold = 0.8

// PressureCallback is invoked, on its own goroutine, the moment tracked
// usage crosses the pressure threshold. It does not fire again until usage
// drops back under the threshold and re-crosses it.
type PressureCallback func(used, limit int64)

// memoryBudget tracks an estimate of the table's live entry bytes against a
// configured ceiling. Unlike a page or statement cache, a hash table has no
// per-component breakdown to track and nothing to evict on its own, so this
// keeps only the aggregate counter and the pressure-transition edge trigger.
type memoryBudget struct {
	mu               sync.Mutex
	limit            int64
	pressureThreshold float64
	usage            int64
	onPressure       PressureCallback
	wasUnderPressure bool
}

func newMemoryBudget(limit int64, threshold float64, cb PressureCallback) *memoryBudget {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultPressureThreshold
	}
	return &memoryBudget{limit: limit, pressureThreshold: threshold, onPressure: cb}
}

func (mb *memoryBudget) track(delta int64) {
	mb.mu.Lock()
	mb.usage += delta
	if mb.usage < 0 {
		mb.usage = 0
	}
	mb.checkPressure()
	mb.mu.Unlock()
}

// checkPressure fires onPressure on the transition into pressure, mirroring
// the edge-triggered behavior of a level alarm. Must be called with mu held.
func (mb *memoryBudget) checkPressure() {
	underPressure := mb.limit > 0 && float64(mb.usage) >= float64(mb.limit)*mb.pressureThreshold
	if underPressure && !mb.wasUnderPressure && mb.onPressure != nil {
		cb, used, limit := mb.onPressure, mb.usage, mb.limit
		go cb(used, limit)
	}
	mb.wasUnderPressure = underPressure
}

func (mb *memoryBudget) snapshot() (used, limit int64, underPressure, exceeded bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.usage, mb.limit, mb.wasUnderPressure, mb.limit > 0 && mb.usage > mb.limit
}

// entrySize estimates the bytes a single key/value pair contributes to the
// table's tracked footprint. It is a static size-of estimate, not a deep
// measurement of variable-length data (e.g. string/slice-backed K or V),
// which is the same approximation cost every fixed-capacity bucket array
// already pays for its slot layout.
func entrySize[K comparable, V any]() int64 {
	var k K
	var v V
	return int64(unsafe.Sizeof(k)) + int64(unsafe.Sizeof(v))
}
