package cmap

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by operations that require an existing key
	// when the key is absent.
	ErrNotFound = errors.New("cmap: key not found")

	// ErrPredicateRejected is returned when a conditional operation's
	// predicate declines to proceed.
	ErrPredicateRejected = errors.New("cmap: predicate rejected the operation")
)

// DuplicateKeyError is returned by Insert when the key is already present.
// It carries back the un-inserted key/value pair so a caller can log,
// retry with a different key, or fall back to Upsert without having to
// reconstruct the value it just tried to insert.
type DuplicateKeyError[K comparable, V any] struct {
	Key   K
	Value V
}

func (e *DuplicateKeyError[K, V]) Error() string {
	return fmt.Sprintf("cmap: key %v already exists", e.Key)
}
