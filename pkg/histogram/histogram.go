package histogram

import (
	"math"
	"math/bits"
)

// MaxBuckets is the largest supported bucket count.
const MaxBuckets = math.MaxUint8

// Histogram counts observations in power-of-two buckets.
//
// The zero value is a disabled histogram (no buckets, divisor 1): Record only
// increments the total count.
type Histogram struct {
	bins    []uint16
	divisor uint32
	count   uint32
	updated bool
}

// New creates a histogram with n buckets. divisor scales raw elapsed values
// before bucketing (for example 1000 to bucket microseconds as milliseconds).
// A zero divisor is treated as 1. n == 0 yields a histogram that only counts.
func New(n uint8, divisor uint32) *Histogram {
	if divisor == 0 {
		divisor = 1
	}
	h := &Histogram{divisor: divisor}
	if n > 0 {
		h.bins = make([]uint16, n)
	}
	return h
}

// Buckets returns the bucket count.
func (h *Histogram) Buckets() uint8 { return uint8(len(h.bins)) }

// Divisor returns the unit divisor applied before bucketing.
func (h *Histogram) Divisor() uint32 {
	if h.divisor == 0 {
		return 1
	}
	return h.divisor
}

// Count returns the total number of observations since the last clear.
func (h *Histogram) Count() uint32 { return h.count }

// Bucket returns the counter for bucket i, or 0 when i is out of range.
func (h *Histogram) Bucket(i int) uint16 {
	if i < 0 || i >= len(h.bins) {
		return 0
	}
	return h.bins[i]
}

// Snapshot returns a copy of all bucket counters.
func (h *Histogram) Snapshot() []uint16 {
	out := make([]uint16, len(h.bins))
	copy(out, h.bins)
	return out
}

// Updated reports whether Record was called since the last MarkProcessed.
func (h *Histogram) Updated() bool { return h.updated }

// MarkProcessed clears the updated flag. Reporters call it after emitting the
// current state so idle histograms stay quiet.
func (h *Histogram) MarkProcessed() { h.updated = false }

// Clear zeroes all buckets and the total count. A cleared histogram has
// nothing new to report until the next Record.
func (h *Histogram) Clear() {
	h.count = 0
	h.updated = false
	for i := range h.bins {
		h.bins[i] = 0
	}
}

// Record adds one observation of elapsed raw units.
func (h *Histogram) Record(elapsed uint64) {
	if h.count == math.MaxUint32 {
		h.Clear()
	}
	h.count++
	h.updated = true
	if len(h.bins) == 0 {
		return
	}
	b := BucketIndex(elapsed/uint64(h.Divisor()), len(h.bins))
	if h.bins[b] < math.MaxUint16 {
		h.bins[b]++
	}
}

// BucketIndex returns the bucket for a scaled value v in a histogram of n
// buckets: floor(log2(max(1, v))) clamped to [0, n-1]. n must be positive.
func BucketIndex(v uint64, n int) int {
	b := 0
	if v > 1 {
		b = bits.Len64(v) - 1
	}
	if b > n-1 {
		b = n - 1
	}
	return b
}

// UpperExponent returns k such that bucket i is labeled "< 2^k", or, for the
// last (open) bucket, ">= 2^k". The second result reports whether the bucket
// is the open one.
func UpperExponent(i, n int) (int, bool) {
	if i >= n-1 {
		return n - 1, true
	}
	return i + 1, false
}
