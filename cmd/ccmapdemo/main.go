// cmd/ccmapdemo is a small interactive-ish driver over pkg/cmap, useful
// for eyeballing table growth and memory behavior while exercising
// insert, lookup and retain.
//
// Usage:
//
//	ccmapdemo [entry-count]
//
// Defaults to 10000 entries if no count is given.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"concc/pkg/cmap"
)

func printMemStats(label string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Printf("\n=== %s ===\n", label)
	fmt.Printf("Alloc = %v MB\n", m.Alloc/1024/1024)
	fmt.Printf("TotalAlloc = %v MB\n", m.TotalAlloc/1024/1024)
	fmt.Printf("Sys = %v MB\n", m.Sys/1024/1024)
	fmt.Printf("NumGC = %v\n", m.NumGC)
}

func main() {
	n := 10000
	if len(os.Args) > 1 {
		parsed, err := strconv.Atoi(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid entry count %q: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		n = parsed
	}

	m := cmap.New[int, string](cmap.WithInitialCapacity(16))
	h := m.Handle()

	printMemStats("Before inserts")

	for i := 0; i < n; i++ {
		if err := m.Insert(i, fmt.Sprintf("value-%d", i), h); err != nil {
			fmt.Fprintf(os.Stderr, "insert %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	stats := m.Stats()
	fmt.Printf("\nInserted %d entries into %d buckets (resizing: %v)\n", stats.Entries, stats.Buckets, stats.Resizing)
	printMemStats("After inserts")

	hits := 0
	for i := 0; i < n; i += 7 {
		if _, ok := m.Get(i, h); ok {
			hits++
		}
	}
	fmt.Printf("\nSampled %d lookups, %d hits\n", (n+6)/7, hits)

	removed := m.Retain(func(k int, v string) bool { return k%2 == 0 }, h)
	fmt.Printf("\nRetain dropped %d odd-keyed entries; %d remain\n", removed, m.Len())

	printMemStats("After retain")
}
