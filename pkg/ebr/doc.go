// Package ebr implements epoch-based reclamation: the discipline that lets
// the lock-free and fine-grained-locking containers in this module defer
// destruction of unlinked objects until no concurrent reader can possibly
// still observe them.
//
// The design follows the classic three-epoch scheme: a global epoch
// counter, a registry of active readers, and a retirement bag drained once
// readers catch up, built out into a full per-thread model:
//
//   - the global epoch is a monotonically increasing counter; only the
//     value mod 3 is meaningful, since three retirement bags are enough to
//     separate "currently retiring," "previous epoch, still draining," and
//     "two epochs old, now safe to free";
//   - a LocalHandle is the per-thread reclamation state: an announced
//     epoch, an active flag, and three retirement bags, linked into the
//     Collector's registry;
//   - a Guard is the stack-scoped token acquiring one pins the handle to
//     the current epoch; dropping the outermost one unpins it back to
//     quiescent.
//
// Go has no OS-thread-local storage and goroutines are cheap and often
// short-lived, unlike the native threads a classic epoch manager assumes,
// so Collector.Pin offers a convenience: it registers an ephemeral handle,
// pins it, and arranges for Guard.Unpin to suspend (not just unpin) it.
// Callers that pin repeatedly from the same long-lived goroutine (a worker
// loop, for example) should call
// Collector.Register once and reuse the returned *LocalHandle, which is the
// only way to get real per-thread retirement bags rather than the default
// collector-wide ones.
package ebr
