// pkg/arc/atomic_arc.go
package arc

import (
	"unsafe"

	"concc/pkg/tagptr"
)

// AtomicArc is an atomic cell that owns one strong reference to whatever
// it currently points at (or none, if nil): load returns a guard-bounded
// raw pointer without touching counts, swap and compare-exchange move
// strong ownership in and out atomically.
type AtomicArc[T any] struct {
	word tagptr.Word
}

// Raw is a non-owning, guard-bounded observation of an AtomicArc's
// contents: a weak/raw pointer. It is intentionally not a bare *T: the
// word an AtomicArc CASes on holds the
// address of the shared allocation, not of the T value nested inside it,
// so round-tripping through a plain *T (which would have to point at the
// nested field to be dereferenced directly) would silently break every
// compare-exchange. Raw keeps the two addresses straight while still
// letting a caller holding a live guard dereference the value with Get.
type Raw[T any] struct {
	inner *arcInner[T]
}

// IsNil reports whether this observation saw an empty cell.
func (r Raw[T]) IsNil() bool { return r.inner == nil }

// Get dereferences the observation. Valid only while the guard it was
// taken under (or some other live reference to the same referent) is
// still held.
func (r Raw[T]) Get() *T {
	if r.inner == nil {
		return nil
	}
	return &r.inner.value
}

func rawOf[T any](p unsafe.Pointer) Raw[T] {
	if p == nil {
		return Raw[T]{}
	}
	return Raw[T]{inner: (*arcInner[T])(p)}
}

// NewAtomicArc wraps an owning Arc (which may be the nil Arc) in a fresh
// atomic cell with the given initial tag.
func NewAtomicArc[T any](initial Arc[T], tag tagptr.Tag) *AtomicArc[T] {
	a := &AtomicArc[T]{}
	a.word.Store(unsafe.Pointer(initial.inner), tag)
	return a
}

// guardToken is the subset of *ebr.Guard this package needs: just enough
// to require a live guard be named at the call site without this package
// importing ebr.
type guardToken interface{ Epoch() uint64 }

// Load returns a raw, non-owning observation of the current referent and
// its tag. It does not touch the strong count. The result is valid only
// for the lifetime of guard.
func (a *AtomicArc[T]) Load(guard guardToken) (Raw[T], tagptr.Tag) {
	_ = guard
	p, tag := a.word.Load()
	return rawOf[T](p), tag
}

// LoadArc returns a new owning Arc to the current referent (incrementing
// the strong count) along with its tag. Unlike Load, the returned Arc
// remains valid after any guard used to read it is released; the caller
// must eventually Drop it.
func (a *AtomicArc[T]) LoadArc(guard guardToken) (Arc[T], tagptr.Tag) {
	_ = guard
	for {
		p, tag := a.word.Load()
		if p == nil {
			return Arc[T]{}, tag
		}
		inner := (*arcInner[T])(p)
		cur := inner.strong.Load()
		if cur == 0 {
			// Racing with the owner's final Drop; the slot is about to be
			// swapped to something else (or nil), so retry the load.
			continue
		}
		if inner.strong.CompareAndSwap(cur, cur+1) {
			return Arc[T]{inner: inner}, tag
		}
	}
}

// Swap atomically replaces the stored strong reference with newArc,
// tagged with newTag, and returns the Arc that was previously stored (the
// nil Arc if the cell was empty). The caller owns the returned Arc and
// must eventually Drop it through a collector handle so the old referent
// is retired rather than leaked.
func (a *AtomicArc[T]) Swap(newArc Arc[T], newTag tagptr.Tag) Arc[T] {
	for {
		oldP, oldTag := a.word.Load()
		if a.word.CompareAndSwap(oldP, oldTag, unsafe.Pointer(newArc.inner), newTag) {
			if oldP == nil {
				return Arc[T]{}
			}
			return Arc[T]{inner: (*arcInner[T])(oldP)}
		}
	}
}

// CompareExchange succeeds only if the word currently holds
// (expected, expectedTag); on success it stores (newArc, newTag) and
// returns the previous Arc (ownership transferred to the caller, which
// must Drop it) with ok=true. On failure it returns the currently observed
// raw contents so the caller may retry, with ok=false and a nil Arc.
func (a *AtomicArc[T]) CompareExchange(
	expected Raw[T], expectedTag tagptr.Tag,
	newArc Arc[T], newTag tagptr.Tag,
) (prev Arc[T], observed Raw[T], observedTag tagptr.Tag, ok bool) {
	expectedPtr := unsafe.Pointer(expected.inner)
	if a.word.CompareAndSwap(expectedPtr, expectedTag, unsafe.Pointer(newArc.inner), newTag) {
		if expectedPtr == nil {
			return Arc[T]{}, Raw[T]{}, newTag, true
		}
		return Arc[T]{inner: (*arcInner[T])(expectedPtr)}, Raw[T]{}, newTag, true
	}
	curP, curTag := a.word.Load()
	return Arc[T]{}, rawOf[T](curP), curTag, false
}

// UpdateTagIf flips the tag via a CAS loop when pred holds on the current
// tag, leaving the stored address untouched. It never changes strong
// ownership.
func (a *AtomicArc[T]) UpdateTagIf(newTag tagptr.Tag, pred func(tagptr.Tag) bool) bool {
	return a.word.UpdateTagIf(newTag, pred)
}

// TryIntoArc atomically takes the pointee, leaving the cell null, and
// returns the Arc the cell used to own (the nil Arc if it was already
// empty). The caller owns the result and must eventually Drop it.
func (a *AtomicArc[T]) TryIntoArc() Arc[T] {
	for {
		oldP, oldTag := a.word.Load()
		if oldP == nil {
			return Arc[T]{}
		}
		if a.word.CompareAndSwap(oldP, oldTag, nil, tagptr.TagNone) {
			return Arc[T]{inner: (*arcInner[T])(oldP)}
		}
	}
}

// Tag returns the currently stored tag without touching the address.
func (a *AtomicArc[T]) Tag() tagptr.Tag {
	_, tag := a.word.Load()
	return tag
}
