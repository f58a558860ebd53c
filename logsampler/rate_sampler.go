package logsampler

import (
	"sync/atomic"
	"time"
)

// RateSampler lets one line in every rate through, per window, regardless of
// the key. It keeps no per-key state and reports no suppressed counts.
type RateSampler struct {
	rate   int64
	window int64
	clock  Clock
	count  atomic.Int64
	start  atomic.Int64
}

// NewRateSampler creates a sampler that writes the 1st, (rate+1)th... line
// of each window. A rate below 1 is treated as 1 (log everything).
func NewRateSampler(rate int, window time.Duration) *RateSampler {
	if rate < 1 {
		rate = 1
	}
	s := &RateSampler{
		rate:   int64(rate),
		window: int64(window),
		clock:  systemClock{},
	}
	s.start.Store(s.clock.Now().UnixNano())
	return s
}

// ShouldLog returns true if this event should be logged based on the rate limit.
func (s *RateSampler) ShouldLog(_ string, _ error) (bool, int64) {
	now := s.clock.Now().UnixNano()
	if start := s.start.Load(); now-start > s.window {
		if s.start.CompareAndSwap(start, now) {
			s.count.Store(0)
		}
	}
	return (s.count.Add(1)-1)%s.rate == 0, 0
}

// SetClock replaces the time source. Not safe while the sampler is in use.
func (s *RateSampler) SetClock(c Clock) {
	s.clock = c
	s.start.Store(c.Now().UnixNano())
}

func (s *RateSampler) Flush() {}

func (s *RateSampler) Close() {}
