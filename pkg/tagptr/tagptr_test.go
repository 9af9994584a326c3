package tagptr

import (
	"sync"
	"testing"
	"unsafe"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	v := new(int)
	*v = 42
	for _, tag := range []Tag{TagNone, TagFirst, TagSecond, TagBoth} {
		word := Pack(unsafe.Pointer(v), tag)
		gotP, gotT := Unpack(word)
		if gotT != tag {
			t.Fatalf("tag = %v, want %v", gotT, tag)
		}
		if (*int)(gotP) != v {
			t.Fatalf("pointer mismatch for tag %v", tag)
		}
	}
}

func TestWordLoadStore(t *testing.T) {
	v := new(int)
	w := NewWord(unsafe.Pointer(v), TagFirst)

	gotP, gotT := w.Load()
	if gotT != TagFirst || (*int)(gotP) != v {
		t.Fatalf("unexpected initial state: %v %v", gotP, gotT)
	}

	v2 := new(int)
	w.Store(unsafe.Pointer(v2), TagSecond)
	gotP, gotT = w.Load()
	if gotT != TagSecond || (*int)(gotP) != v2 {
		t.Fatalf("unexpected state after store: %v %v", gotP, gotT)
	}
}

func TestWordCompareAndSwap(t *testing.T) {
	v1, v2 := new(int), new(int)
	w := NewWord(unsafe.Pointer(v1), TagNone)

	if w.CompareAndSwap(unsafe.Pointer(v2), TagNone, unsafe.Pointer(v2), TagFirst) {
		t.Fatal("CAS succeeded against a mismatched address")
	}
	if !w.CompareAndSwap(unsafe.Pointer(v1), TagNone, unsafe.Pointer(v2), TagFirst) {
		t.Fatal("CAS should have succeeded")
	}
	gotP, gotT := w.Load()
	if gotT != TagFirst || (*int)(gotP) != v2 {
		t.Fatalf("post-CAS state wrong: %v %v", gotP, gotT)
	}
	// Tag mismatch alone must also fail the CAS.
	if w.CompareAndSwap(unsafe.Pointer(v2), TagNone, unsafe.Pointer(v1), TagNone) {
		t.Fatal("CAS succeeded against a mismatched tag")
	}
}

func TestWordFetchOrTagIdempotent(t *testing.T) {
	v := new(int)
	w := NewWord(unsafe.Pointer(v), TagNone)

	prev := w.FetchOrTag(TagFirst)
	if prev != TagNone {
		t.Fatalf("first FetchOrTag prev = %v, want TagNone", prev)
	}
	_, tag := w.Load()
	if tag != TagFirst {
		t.Fatalf("tag after first mark = %v, want TagFirst", tag)
	}

	// Marking twice is idempotent: the tag does not change further.
	prev = w.FetchOrTag(TagFirst)
	if prev != TagFirst {
		t.Fatalf("second FetchOrTag prev = %v, want TagFirst", prev)
	}
	_, tag = w.Load()
	if tag != TagFirst {
		t.Fatalf("tag after second mark = %v, want TagFirst (idempotent)", tag)
	}
}

func TestWordUpdateTagIf(t *testing.T) {
	v := new(int)
	w := NewWord(unsafe.Pointer(v), TagNone)

	ok := w.UpdateTagIf(TagBoth, func(t Tag) bool { return t == TagFirst })
	if ok {
		t.Fatal("predicate should have rejected the update")
	}

	ok = w.UpdateTagIf(TagBoth, func(t Tag) bool { return t == TagNone })
	if !ok {
		t.Fatal("predicate should have accepted the update")
	}
	_, tag := w.Load()
	if tag != TagBoth {
		t.Fatalf("tag = %v, want TagBoth", tag)
	}
}

func TestWordConcurrentCAS(t *testing.T) {
	vals := make([]int, 100)
	w := NewWord(unsafe.Pointer(&vals[0]), TagNone)

	var wg sync.WaitGroup
	successes := make([]int32, len(vals))
	for i := range vals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if w.CompareAndSwap(unsafe.Pointer(&vals[0]), TagNone, unsafe.Pointer(&vals[i]), TagFirst) {
				successes[i] = 1
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, s := range successes {
		total += int(s)
	}
	if total != 1 {
		t.Fatalf("exactly one CAS should win the race from the same old value, got %d", total)
	}
}
