// Package stats implements windowed averages driven by packet timestamps.
package stats

import "time"

const defaultBuckets = 10

type bucket struct {
	idx int64 // Absolute bucket number (unix nanos / width)
	sum float64
	n   uint64
}

// Window accumulates values over a sliding time window split into fixed-width
// buckets. Time advances only through the timestamps passed in, so replayed
// captures produce the same figures as live ones. The zero value is unusable;
// create with NewWindow. Not safe for concurrent use.
type Window struct {
	size    time.Duration
	width   int64
	buckets []bucket
}

// NewWindow creates a window of the given size split into n buckets.
func NewWindow(size time.Duration, n int) Window {
	if n <= 0 {
		n = defaultBuckets
	}
	if size < time.Duration(n) {
		size = time.Duration(n)
	}
	return Window{
		size:    size,
		width:   int64(size) / int64(n),
		buckets: make([]bucket, n),
	}
}

// Size returns the window length (the averaging resolution).
func (w *Window) Size() time.Duration { return w.size }

func (w *Window) index(ts time.Time) int64 {
	return ts.UnixNano() / w.width
}

// Add records v at ts. Values older than the window relative to the newest
// bucket are discarded.
func (w *Window) Add(ts time.Time, v float64) {
	idx := w.index(ts)
	b := &w.buckets[int(uint64(idx)%uint64(len(w.buckets)))]
	switch {
	case b.idx == idx:
	case b.idx < idx:
		*b = bucket{idx: idx}
	default:
		// Slot already reused by a newer bucket.
		return
	}
	b.sum += v
	b.n++
}

// Sum returns the total of values recorded within the window ending at now.
func (w *Window) Sum(now time.Time) float64 {
	s, _ := w.totals(now)
	return s
}

// Count returns the number of Add calls within the window ending at now.
func (w *Window) Count(now time.Time) uint64 {
	_, n := w.totals(now)
	return n
}

// PerSecond returns Sum(now) averaged over the window length.
func (w *Window) PerSecond(now time.Time) float64 {
	return w.Sum(now) / w.size.Seconds()
}

// Mean returns the mean of values recorded within the window, or 0.
func (w *Window) Mean(now time.Time) float64 {
	s, n := w.totals(now)
	if n == 0 {
		return 0
	}
	return s / float64(n)
}

func (w *Window) totals(now time.Time) (float64, uint64) {
	cur := w.index(now)
	oldest := cur - int64(len(w.buckets)) + 1
	var sum float64
	var n uint64
	for _, b := range w.buckets {
		if b.n > 0 && b.idx >= oldest && b.idx <= cur {
			sum += b.sum
			n += b.n
		}
	}
	return sum, n
}
