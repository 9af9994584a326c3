package cmap

import (
	"fmt"
	"hash/maphash"
)

// Config holds the tunables New accepts through functional options, the
// same pattern used throughout this module's ambient configuration.
type Config struct {
	initialBuckets  int
	hasher          func(key any) uint64
	maxAssistPerOp  int
	growthThreshold float64

	memoryLimit       int64
	pressureThreshold float64
	onPressure        PressureCallback
}

// Option configures a Map at construction time.
type Option func(*Config)

func defaultConfig() Config {
	seed := maphash.MakeSeed()
	return Config{
		initialBuckets: 64,
		hasher: func(key any) uint64 {
			var h maphash.Hash
			h.SetSeed(seed)
			_, _ = h.WriteString(fmt.Sprintf("%v", key))
			return h.Sum64()
		},
		maxAssistPerOp:  2,
		growthThreshold: 0.75,
	}
}

// WithInitialCapacity sets the number of buckets the table starts with.
// Rounded up to the next power of two; the minimum is 1.
func WithInitialCapacity(buckets int) Option {
	return func(c *Config) {
		if buckets < 1 {
			buckets = 1
		}
		c.initialBuckets = nextPow2(buckets)
	}
}

// WithHasher overrides the default reflection-based key hash with a
// caller-supplied one. Required for any key type where the default's
// fmt.Sprintf-based hashing would be too slow or ambiguous.
func WithHasher[K comparable](fn func(K) uint64) Option {
	return func(c *Config) {
		c.hasher = func(key any) uint64 { return fn(key.(K)) }
	}
}

// WithMaxAssistPerOp bounds how many buckets a single table operation will
// migrate while a resize is in progress.
func WithMaxAssistPerOp(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.maxAssistPerOp = n
	}
}

// WithGrowthThreshold overrides the load factor (live entries divided by
// bucket count) at which a resize is triggered. Must be in (0, 1]; values
// outside that range are clamped.
func WithGrowthThreshold(f float64) Option {
	return func(c *Config) {
		if f <= 0 {
			f = 0.1
		}
		if f > 1 {
			f = 1
		}
		c.growthThreshold = f
	}
}

// WithMemoryBudget tracks the table's estimated live-entry footprint
// against a ceiling of limitBytes and calls onPressure (on its own
// goroutine, edge-triggered) once usage crosses 80% of that ceiling. The
// ceiling is not enforced: inserts still succeed past it, and Stats reports
// Exceeded. Pass a nil onPressure to track
// usage via Stats without a callback. The estimate is a static size-of per
// entry, not an accounting of variable-length key/value data; see
// entrySize.
func WithMemoryBudget(limitBytes int64, onPressure PressureCallback) Option {
	return func(c *Config) {
		c.memoryLimit = limitBytes
		c.pressureThreshold = DefaultPressureThreshold
		c.onPressure = onPressure
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
