package cmap

import "concc/pkg/cell"

// bucketArray is one generation of the table's bucket slice. mask is
// len(cells)-1; cells is always a power-of-two-sized slice.
type bucketArray[K comparable, V any] struct {
	mask  uint64
	cells []*cell.Cell[K, V]
}

func newBucketArray[K comparable, V any](n int) *bucketArray[K, V] {
	n = nextPow2(n)
	cells := make([]*cell.Cell[K, V], n)
	for i := range cells {
		cells[i] = cell.New[K, V]()
	}
	return &bucketArray[K, V]{mask: uint64(n - 1), cells: cells}
}

func (b *bucketArray[K, V]) indexOf(h uint64) uint64 { return h & b.mask }

func (b *bucketArray[K, V]) cellFor(h uint64) *cell.Cell[K, V] {
	return b.cells[b.indexOf(h)]
}

func (b *bucketArray[K, V]) len() int { return len(b.cells) }
