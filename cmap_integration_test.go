package tests

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"concc/pkg/cmap"
)

// TestFullFeatureSet walks a single table through every public operation
// in sequence against 100 keys, the way a first integration pass should:
// insert, read back, update, upsert, conditional remove, scan, retain.
func TestFullFeatureSet(t *testing.T) {
	m := cmap.New[string, int]()
	h := m.Handle()

	const n = 100
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := m.Insert(key, i, h); err != nil {
			t.Fatalf("Insert(%s) failed: %v", key, err)
		}
	}
	if got := m.Len(); got != n {
		t.Fatalf("Len() = %d, want %d", got, n)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		v, ok := m.Get(key, h)
		if !ok || v != i {
			t.Fatalf("Get(%s) = %v, %v; want %d, true", key, v, ok, i)
		}
	}

	var dup *cmap.DuplicateKeyError[string, int]
	if err := m.Insert("key-0", 999, h); err == nil || !errors.As(err, &dup) {
		t.Fatalf("re-inserting key-0 should fail with DuplicateKeyError, got %v", err)
	}

	if err := m.Update("key-1", -1, h); err != nil {
		t.Fatalf("Update(key-1) failed: %v", err)
	}
	if v, _ := m.Get("key-1", h); v != -1 {
		t.Fatalf("Get(key-1) after Update = %d, want -1", v)
	}

	if fresh := m.Upsert("key-1", -2, h); fresh {
		t.Fatal("Upsert on an existing key should report a replace, not fresh")
	}
	if fresh := m.Upsert("key-new", 1000, h); !fresh {
		t.Fatal("Upsert on a new key should report a fresh insert")
	}

	if err := m.RemoveIf("key-2", func(v int) bool { return v != 2 }, h); !errors.Is(err, cmap.ErrPredicateRejected) {
		t.Fatalf("RemoveIf with a false predicate should reject, got %v", err)
	}
	if _, ok := m.Get("key-2", h); !ok {
		t.Fatal("key-2 should survive a rejected RemoveIf")
	}
	if err := m.RemoveIf("key-2", func(v int) bool { return v == 2 }, h); err != nil {
		t.Fatalf("RemoveIf with a true predicate should succeed: %v", err)
	}
	if _, ok := m.Get("key-2", h); ok {
		t.Fatal("key-2 should be gone after an accepted RemoveIf")
	}

	all := m.Scan(h)
	if int64(len(all)) != m.Len() {
		t.Fatalf("Scan returned %d entries, Len() says %d", len(all), m.Len())
	}

	removed := m.Retain(func(k string, v int) bool { return v >= 0 }, h)
	if removed == 0 {
		t.Fatal("Retain should have dropped at least the negative-valued entry")
	}
	m.ForEach(func(k string, v int) bool {
		if v < 0 {
			t.Fatalf("negative-valued entry %s survived Retain", k)
		}
		return true
	}, h)
}

// TestTwoWritersSameKeyContention has two goroutines racing Upsert against
// the identical key; exactly one of the two values must be visible
// afterward, and the table must never observe a torn or missing entry.
func TestTwoWritersSameKeyContention(t *testing.T) {
	m := cmap.New[string, int]()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h := m.Handle()
		for i := 0; i < 1000; i++ {
			m.Upsert("contended", 1, h)
		}
	}()
	go func() {
		defer wg.Done()
		h := m.Handle()
		for i := 0; i < 1000; i++ {
			m.Upsert("contended", 2, h)
		}
	}()
	wg.Wait()

	h := m.Handle()
	v, ok := m.Get("contended", h)
	if !ok {
		t.Fatal("contended key should be present")
	}
	if v != 1 && v != 2 {
		t.Fatalf("contended key has value %d, want 1 or 2", v)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (only one key was ever written)", m.Len())
	}
}

// TestResizeUnderLoadFourThreads is the headline resize scenario: four
// writer goroutines each own a disjoint 1024-key range, inserting
// concurrently into a table that starts far smaller than their combined
// total, forcing several resizes while insertion is still in flight.
func TestResizeUnderLoadFourThreads(t *testing.T) {
	m := cmap.New[int, int](cmap.WithInitialCapacity(8), cmap.WithGrowthThreshold(0.7))

	const threads = 4
	const perThread = 1024

	var wg sync.WaitGroup
	for tid := 0; tid < threads; tid++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			h := m.Handle()
			for i := 0; i < perThread; i++ {
				key := base*perThread + i
				if err := m.Insert(key, key, h); err != nil {
					t.Errorf("Insert(%d): %v", key, err)
				}
			}
		}(tid)
	}
	wg.Wait()

	h := m.Handle()
	if got := m.Len(); got != threads*perThread {
		t.Fatalf("Len() = %d, want %d", got, threads*perThread)
	}
	for tid := 0; tid < threads; tid++ {
		for i := 0; i < perThread; i++ {
			key := tid*perThread + i
			if v, ok := m.Get(key, h); !ok || v != key {
				t.Fatalf("Get(%d) = %v, %v; want %d, true", key, v, ok, key)
			}
		}
	}
	if !m.Stats().Resizing && m.Stats().Buckets <= 8 {
		t.Fatal("table should have grown past its initial 8 buckets under this load")
	}
}

// TestRemoveIfRejectionLeavesEntryUntouched checks the conditional-remove
// contract: a rejected conditional operation must have no observable
// effect, leaving the table exactly as it was.
func TestRemoveIfRejectionLeavesEntryUntouched(t *testing.T) {
	m := cmap.New[string, int]()
	h := m.Handle()
	if err := m.Insert("k", 42, h); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := m.RemoveIf("k", func(v int) bool { return false }, h)
	if !errors.Is(err, cmap.ErrPredicateRejected) {
		t.Fatalf("RemoveIf should reject, got %v", err)
	}
	if v, ok := m.Get("k", h); !ok || v != 42 {
		t.Fatalf("entry should be untouched after a rejected RemoveIf, got %v, %v", v, ok)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}
