// Package histogram provides a tiny power-of-two bucketed histogram for
// execution-time statistics.
//
// Bucket layout for n buckets (values are elapsed/divisor):
//   - bucket 0:     [0, 2)
//   - bucket i:     [2^i, 2^(i+1)) for 0 < i < n-1
//   - bucket n-1:   [2^(n-1), +inf)
//
// Bucket counters saturate at their maximum. The total counter does not
// saturate: once it would overflow, the histogram is cleared and counting
// restarts at one. Callers must not assume Count is monotonic.
//
// A Histogram is not safe for concurrent use; its owner serializes access.
package histogram
