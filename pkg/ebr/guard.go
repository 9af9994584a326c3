// pkg/ebr/guard.go
package ebr

// Guard is the stack-scoped reclamation token: while at least one guard
// is live for a handle, that handle's announced epoch pins the collector's
// epoch advance, keeping any object a reader might still dereference from
// being freed. Guards are not safe to share across goroutines; each
// goroutine that needs to read should hold its own.
type Guard struct {
	handle    *LocalHandle
	epoch     uint64
	ephemeral bool
	unpinned  bool
}

// Epoch returns the epoch this guard announced on Pin.
func (g *Guard) Epoch() uint64 {
	if g == nil {
		return 0
	}
	return g.epoch
}

// Handle returns the handle this guard was pinned from.
func (g *Guard) Handle() *LocalHandle {
	if g == nil {
		return nil
	}
	return g.handle
}

// Unpin releases the guard. If this was the outermost guard on its handle,
// the handle returns to quiescent. Guards created by Collector.Pin also
// suspend (fully deregister) their ephemeral handle here, mirroring the
// teacher's Leave(), which both marks inactive and removes the reader from
// the registry in one step.
func (g *Guard) Unpin() {
	if g == nil || g.unpinned {
		return
	}
	g.unpinned = true

	if g.handle.pinDepth.Add(-1) == 0 {
		g.handle.active.Store(false)
	}
	if g.ephemeral {
		// Safe: pinDepth just reached (or stayed at) a value this guard
		// owns no further nesting on, and ephemeral handles are never
		// shared across goroutines, so no concurrent Pin can still be
		// outstanding when the outermost (and only) guard unpins.
		_ = g.handle.Suspend()
	}
}
