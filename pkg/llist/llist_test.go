package llist

import (
	"sync"
	"testing"

	"concc/pkg/ebr"
)

func TestPushBackAndWalkOrder(t *testing.T) {
	c := ebr.New()
	h := c.Register()
	g := h.Pin()
	defer g.Unpin()

	l := New[int]()
	for i := 0; i < 5; i++ {
		if !l.PushBack(i, nil, g, h) {
			t.Fatalf("PushBack(%d) failed", i)
		}
	}

	got := l.Walk(g, h)
	if len(got) != 5 {
		t.Fatalf("Walk returned %d values, want 5", len(got))
	}
	for i, v := range got {
		if *v != i {
			t.Fatalf("Walk[%d] = %d, want %d", i, *v, i)
		}
	}
}

func TestPushBackCondRejectsOnMismatch(t *testing.T) {
	c := ebr.New()
	h := c.Register()
	g := h.Pin()
	defer g.Unpin()

	l := New[int]()
	l.PushBack(1, nil, g, h)

	alwaysFalse := func(tail *int) bool { return false }
	if l.PushBack(2, alwaysFalse, g, h) {
		t.Fatal("PushBack with a rejecting cond should fail")
	}
	got := l.Walk(g, h)
	if len(got) != 1 || *got[0] != 1 {
		t.Fatalf("chain mutated despite rejected cond: %v", got)
	}
}

func TestDeleteSelfSkippedByNextLive(t *testing.T) {
	c := ebr.New()
	h := c.Register()
	g := h.Pin()
	defer g.Unpin()

	l := New[int]()
	for i := 0; i < 3; i++ {
		l.PushBack(i, nil, g, h)
	}

	nodes := Walk(l.Head(), g, h)
	if len(nodes) != 4 { // sentinel + 3
		t.Fatalf("got %d nodes, want 4", len(nodes))
	}
	middle := nodes[2] // value 1
	if middle.Value != 1 {
		t.Fatalf("expected middle node value 1, got %d", middle.Value)
	}
	middle.DeleteSelf()
	middle.DeleteSelf() // idempotent

	got := l.Walk(g, h)
	want := []int{0, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", derefAll(got), want)
	}
	for i, w := range want {
		if *got[i] != w {
			t.Fatalf("got %v, want %v", derefAll(got), want)
		}
	}
}

func derefAll(ps []*int) []int {
	out := make([]int, len(ps))
	for i, p := range ps {
		out[i] = *p
	}
	return out
}

// TestConcurrentDeleteEvensWhileWalking exercises concurrent deletion and
// traversal: a 10-node chain with one goroutine marking every even-valued node for
// deletion while another goroutine repeatedly walks the chain. No walk may
// ever observe a torn or partially-unlinked structure, and once deletion
// finishes a final walk must yield exactly the odd values in order.
func TestConcurrentDeleteEvensWhileWalking(t *testing.T) {
	c := ebr.New()
	h := c.Register()
	setupGuard := h.Pin()

	l := New[int]()
	for i := 0; i < 10; i++ {
		l.PushBack(i, nil, setupGuard, h)
	}
	setupGuard.Unpin()

	var wg sync.WaitGroup
	stopReading := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		rh := c.Register()
		for {
			select {
			case <-stopReading:
				return
			default:
			}
			g := rh.Pin()
			nodes := Walk(l.Head(), g, rh)
			for i := 1; i < len(nodes); i++ {
				if nodes[i].IsMarked(g) {
					t.Errorf("Walk returned a marked node still reachable: %d", nodes[i].Value)
				}
			}
			g.Unpin()
		}
	}()

	deleter := c.Register()
	dg := deleter.Pin()
	all := Walk(l.Head(), dg, deleter)
	for _, n := range all[1:] {
		if n.Value%2 == 0 {
			n.DeleteSelf()
		}
	}
	dg.Unpin()

	close(stopReading)
	wg.Wait()

	final := h.Pin()
	got := l.Walk(final, h)
	want := []int{1, 3, 5, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("final walk = %v, want %v", derefAll(got), want)
	}
	for i, w := range want {
		if *got[i] != w {
			t.Fatalf("final walk = %v, want %v", derefAll(got), want)
		}
	}
	final.Unpin()
}
