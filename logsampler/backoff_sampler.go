package logsampler

import (
	"sync"
	"sync/atomic"
)

// staleCheckEvery is the number of ShouldLog calls between two sweeps for
// stale keys. Must be a power of two.
const staleCheckEvery = 64

// keyState is the sampling state of one key. It is also a node of the
// recency list, most recent first.
type keyState struct {
	key        string
	suppressed atomic.Int64
	lastLog    int64 // unix nanos of the last emitted line
	window     int64 // current quiet window, nanos

	newer, older *keyState
}

// recencyList orders keys by last use so stale keys are found from the tail
// without scanning the map.
type recencyList struct {
	head, tail *keyState
}

func (l *recencyList) unlink(n *keyState) {
	if n.newer != nil {
		n.newer.older = n.older
	} else {
		l.head = n.older
	}
	if n.older != nil {
		n.older.newer = n.newer
	} else {
		l.tail = n.newer
	}
	n.newer, n.older = nil, nil
}

func (l *recencyList) pushFront(n *keyState) {
	n.newer = nil
	n.older = l.head
	if l.head != nil {
		l.head.newer = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *recencyList) touch(n *keyState) {
	if l.head == n {
		return
	}
	l.unlink(n)
	l.pushFront(n)
}

// EventDrivenSampler is a per-key sampler with exponential backoff that runs
// no background goroutine: stale keys are swept while handling calls.
//
// The first line of a key always passes. Later lines pass once the quiet
// window has elapsed, and the window then grows by Factor up to MaxInterval.
type EventDrivenSampler struct {
	config   BackoffConfig
	reporter SummaryReporter
	clock    Clock
	calls    atomic.Uint64

	mu     sync.Mutex
	keys   map[string]*keyState
	recent recencyList
}

// NewEventDrivenSampler creates a sampler that reports dropped keys to
// reporter. A nil reporter discards the summaries.
func NewEventDrivenSampler(config BackoffConfig, reporter SummaryReporter) *EventDrivenSampler {
	if reporter == nil {
		reporter = discardReporter{}
	}
	if config.Factor < 1 {
		config.Factor = 1
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}
	return &EventDrivenSampler{
		config:   config,
		reporter: reporter,
		clock:    systemClock{},
		keys:     make(map[string]*keyState, 64),
	}
}

// SetClock replaces the time source. Not safe while the sampler is in use.
func (s *EventDrivenSampler) SetClock(c Clock) {
	s.clock = c
}

// ShouldLog determines if an event should be logged based on its adaptive strategy.
func (s *EventDrivenSampler) ShouldLog(key string, _ error) (bool, int64) {
	now := s.clock.Now().UnixNano()
	sweep := s.config.ResetInterval > 0 && s.calls.Add(1)&(staleCheckEvery-1) == 0

	s.mu.Lock()
	defer s.mu.Unlock()

	if sweep {
		s.dropStale(now)
	}

	st, ok := s.keys[key]
	if !ok {
		st = &keyState{key: key, lastLog: now, window: int64(s.config.InitialInterval)}
		s.keys[key] = st
		s.recent.pushFront(st)
		return true, 0
	}
	s.recent.touch(st)

	elapsed := now - st.lastLog
	switch {
	case s.config.ResetInterval > 0 && elapsed > int64(s.config.ResetInterval):
		st.window = int64(s.config.InitialInterval)
	case elapsed > st.window:
		st.window = min(int64(float64(st.window)*s.config.Factor), int64(s.config.MaxInterval))
	default:
		st.suppressed.Add(1)
		return false, 0
	}
	st.lastLog = now
	return true, st.suppressed.Swap(0)
}

// dropStale removes keys idle for longer than ResetInterval, oldest first.
// Must be called with mu held.
func (s *EventDrivenSampler) dropStale(now int64) {
	limit := now - int64(s.config.ResetInterval)
	for s.recent.tail != nil && s.recent.tail.lastLog < limit {
		st := s.recent.tail
		if n := st.suppressed.Swap(0); n > 0 {
			s.reporter.LogSummary(st.key, n)
		}
		delete(s.keys, st.key)
		s.recent.unlink(st)
	}
}

// Flush reports a summary of all suppressed logs and clears the sampler state.
func (s *EventDrivenSampler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, st := range s.keys {
		if n := st.suppressed.Swap(0); n > 0 {
			s.reporter.LogSummary(key, n)
		}
	}
	s.keys = make(map[string]*keyState, 64)
	s.recent = recencyList{}
	s.calls.Store(0)
}

// Close is Flush; the sampler holds no other resources.
func (s *EventDrivenSampler) Close() {
	s.Flush()
}
