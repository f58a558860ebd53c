package procexit

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives decoded exits. It runs on the trace worker goroutine;
// a slow subscriber delays every following event and eventually makes ETW
// drop buffers.
type Subscriber func(DecodedExit)

type subscription struct {
	id uint64
	fn Subscriber
}

// Notifier fans decoded exits out to its subscribers, synchronously and in
// registration order. Publish takes no locks.
type Notifier struct {
	mu     sync.Mutex // serializes writers of subs
	subs   atomic.Pointer[[]subscription]
	nextID uint64

	// Panics counts subscriber calls that panicked.
	Panics atomic.Uint64
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (n *Notifier) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	n.mu.Lock()
	n.nextID++
	id := n.nextID
	var cur []subscription
	if p := n.subs.Load(); p != nil {
		cur = *p
	}
	next := make([]subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscription{id: id, fn: fn})
	n.subs.Store(&next)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.subs.Load()
	if p == nil {
		return
	}
	next := make([]subscription, 0, len(*p))
	for _, s := range *p {
		if s.id != id {
			next = append(next, s)
		}
	}
	n.subs.Store(&next)
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	if p := n.subs.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// Publish calls every subscriber with exit. A panicking subscriber is
// recovered and logged, the others still get the event.
func (n *Notifier) Publish(exit DecodedExit) {
	p := n.subs.Load()
	if p == nil {
		return
	}
	for _, s := range *p {
		n.call(s, exit)
	}
}

func (n *Notifier) call(s subscription, exit DecodedExit) {
	defer func() {
		if r := recover(); r != nil {
			n.Panics.Add(1)
			declog.SampledError("subscriber-panic").
				Uint64("subscriber", s.id).
				Uint32("pid", exit.PID).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()
	s.fn(exit)
}
