package stats

import "time"

// Summary tracks min/max/last/mean of a duration series.
type Summary struct {
	Min   time.Duration
	Max   time.Duration
	Last  time.Duration
	Count uint64
	total time.Duration
}

// Observe records one sample.
func (s *Summary) Observe(d time.Duration) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Last = d
	s.total += d
	s.Count++
}

// Mean returns the arithmetic mean, or 0 without samples.
func (s *Summary) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.total / time.Duration(s.Count)
}
