package etw

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// DefaultStopTimeout bounds how long Stop waits for ProcessTrace to return.
const DefaultStopTimeout = 5 * time.Second

// RecordCallback receives every event record of an open trace, on the worker
// goroutine, in delivery order. The record and the memory it points to are
// only valid during the call.
type RecordCallback func(er *EventRecord, width PointerWidth)

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerTraceAPI replaces the native trace API, mainly for tests.
func WithConsumerTraceAPI(api TraceAPI) ConsumerOption {
	return func(c *Consumer) { c.api = api }
}

// WithStopTimeout sets how long Stop waits for the worker goroutine.
func WithStopTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// WithThreadPriority raises (or lowers) the priority of the OS thread that
// runs ProcessTrace. Real-time buffers are lost when the consumer falls
// behind, THREAD_PRIORITY_ABOVE_NORMAL is usually enough.
func WithThreadPriority(priority int) ConsumerOption {
	return func(c *Consumer) {
		c.priority = priority
		c.setPriority = true
	}
}

// Consumer attaches to a running real-time session and delivers its records
// to a callback on a dedicated goroutine locked to an OS thread.
//
// A Consumer owns at most one open trace at a time. It can be reopened after
// Stop.
type Consumer struct {
	api         TraceAPI
	traceName   string
	stopTimeout time.Duration
	priority    int
	setPriority bool

	mu           sync.Mutex // Protects the open/close state below
	open         bool
	handle       uint64
	tctx         *traceContext
	done         chan struct{}
	pointerWidth PointerWidth
	startTime    time.Time

	running atomic.Bool
	lastErr atomic.Pointer[error]

	// logfile holds the last EventTraceLogfile received in a buffer callback.
	logfile   EventTraceLogfile
	logfileMu sync.RWMutex

	// EventsReceived counts the records delivered to the callback.
	EventsReceived atomic.Uint64
	// ErrorEvents counts records whose callback panicked.
	ErrorEvents atomic.Uint64
	// BuffersRead counts the buffers ETW finished delivering.
	BuffersRead atomic.Uint64
}

// NewConsumer creates a consumer for the real-time session traceName.
func NewConsumer(traceName string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		api:         SystemTraceAPI(),
		traceName:   traceName,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TraceName returns the session name this consumer attaches to.
func (c *Consumer) TraceName() string { return c.traceName }

// OpenAndRun opens the real-time trace and starts the worker goroutine that
// blocks in ProcessTrace, delivering every record to onRecord.
//
// The pointer width of the logging machine is read from the logfile header
// once, at open time. Anything other than 4 or 8 falls back to 8.
func (c *Consumer) OpenAndRun(onRecord RecordCallback) error {
	if onRecord == nil {
		return errors.New("etw: nil record callback")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return ErrTraceOpen
	}

	name, err := utf16PtrFromString(c.traceName)
	if err != nil {
		return fmt.Errorf("etw: invalid trace name %q: %w", c.traceName, err)
	}

	// ETW calls back only from ProcessTrace, so the context is registered
	// once OpenTrace succeeded.
	tctx := newTraceContext(c, onRecord)

	lf := &EventTraceLogfile{}
	lf.LoggerName = uintptr(unsafe.Pointer(name))
	lf.ProcessTraceMode = PROCESS_TRACE_MODE_REAL_TIME | PROCESS_TRACE_MODE_EVENT_RECORD
	lf.BufferCallback = bufferCallback
	lf.EventCallback = eventRecordCallback
	lf.Context = tctx.key

	handle, err := c.api.OpenTrace(lf)
	runtime.KeepAlive(name)
	if err != nil {
		if errno, ok := asErrno(err); ok {
			return &TraceOpenError{Name: c.traceName, Code: errno}
		}
		return fmt.Errorf("etw: failed to open trace %q: %w", c.traceName, err)
	}

	width := PointerWidth(lf.LogfileHeader.GetPointerSize())
	if !width.Valid() {
		log.Warn().Str("trace", c.traceName).
			Uint32("PointerSize", lf.LogfileHeader.GetPointerSize()).
			Msg("Unexpected pointer size in logfile header, assuming 8")
		width = PointerWidth64
	}

	c.logfileMu.Lock()
	c.logfile = *lf
	c.logfile.LoggerName = 0 // not valid after this call
	c.logfileMu.Unlock()

	tctx.width = width
	registerTraceContext(tctx)

	c.handle = handle
	c.tctx = tctx
	c.pointerWidth = width
	c.startTime = time.Now()
	c.done = make(chan struct{})
	c.lastErr.Store(nil)
	c.open = true
	c.running.Store(true)

	conlog.Info().Str("trace", c.traceName).
		Uint64("Handle", handle).
		Uint8("PointerWidth", uint8(width)).
		Msg("Trace opened")

	go c.run(handle, c.done)
	return nil
}

// run is the worker goroutine. ProcessTrace returns when the trace is closed
// or the session stops; failures are recorded, never retried.
func (c *Consumer) run(handle uint64, done chan struct{}) {
	defer close(done)
	defer c.running.Store(false)

	// ETW invokes the callbacks on the thread that called ProcessTrace.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.setPriority {
		if err := setCurrentThreadPriority(c.priority); err != nil {
			conlog.Debug().Err(err).Int("priority", c.priority).Msg("SetThreadPriority failed")
		}
	}

	if err := c.api.ProcessTrace([]uint64{handle}); err != nil {
		c.lastErr.Store(&err)
		if !errors.Is(err, ERROR_CTX_CLOSE_PENDING) {
			conlog.Error().Err(err).Str("trace", c.traceName).Msg("ProcessTrace failed")
		}
		return
	}
	conlog.Debug().Str("trace", c.traceName).Msg("ProcessTrace returned")
}

// handleRecord runs on the worker goroutine for every record. A panic in
// the callback only loses that record.
func (c *Consumer) handleRecord(tc *traceContext, er *EventRecord) {
	c.EventsReceived.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.ErrorEvents.Add(1)
			conlog.SampledError("record-callback-panic").
				Str("trace", c.traceName).
				Interface("panic", r).
				Msg("Record callback panicked")
		}
	}()
	tc.onRecord(er, tc.width)
}

// handleBuffer runs after ETW delivered all the records of a buffer.
func (c *Consumer) handleBuffer(lf *EventTraceLogfile) {
	c.BuffersRead.Add(1)
	c.logfileMu.Lock()
	c.logfile = *lf
	c.logfile.LoggerName = 0
	c.logfile.LogFileName = 0
	c.logfileMu.Unlock()
}

// Stop closes the trace, which makes ProcessTrace return, and waits for the
// worker goroutine up to the stop timeout. It does nothing if no trace is
// open, and is safe to call more than once.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return
	}

	// ERROR_CTX_CLOSE_PENDING means the close completes once ProcessTrace
	// drains the remaining buffers.
	if err := c.api.CloseTrace(c.handle); err != nil && !errors.Is(err, ERROR_CTX_CLOSE_PENDING) {
		conlog.Debug().Err(err).Str("trace", c.traceName).Msg("CloseTrace failed")
	}

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		conlog.Warn().Str("trace", c.traceName).
			Dur("timeout", c.stopTimeout).
			Msg("ProcessTrace did not return in time")
	}

	unregisterTraceContext(c.tctx)
	c.tctx = nil
	c.handle = 0
	c.open = false

	conlog.Info().Str("trace", c.traceName).
		Uint64("EventsReceived", c.EventsReceived.Load()).
		Uint64("ErrorEvents", c.ErrorEvents.Load()).
		Msg("Trace closed")
}

// IsOpen reports whether a trace is open (between OpenAndRun and Stop).
func (c *Consumer) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// IsRunning reports whether the worker is inside ProcessTrace.
func (c *Consumer) IsRunning() bool {
	return c.running.Load()
}

// Done returns a channel closed when the worker goroutine exits. Before the
// first OpenAndRun the channel is already closed.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// PointerWidth returns the pointer width learned when the trace was opened.
func (c *Consumer) PointerWidth() PointerWidth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pointerWidth
}

// StartTime returns when the current trace was opened.
func (c *Consumer) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// LastError returns the error ProcessTrace returned, if any.
func (c *Consumer) LastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// LogFile returns a copy of the last logfile state reported by ETW.
func (c *Consumer) LogFile() EventTraceLogfile {
	c.logfileMu.RLock()
	defer c.logfileMu.RUnlock()
	return c.logfile
}
