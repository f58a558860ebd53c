// Package etwtest provides an in-memory etw.TraceAPI. It lets the session,
// consumer and monitor state machines run on any OS, with records injected
// through the same dispatch path as the native callbacks.
package etwtest

import (
	"errors"
	"runtime"
	"sync"
	"unsafe"

	"github.com/tekert/procexit/etw"
)

// ErrNoTrace is returned by Deliver when no trace is being processed.
var ErrNoTrace = errors.New("etwtest: no trace in ProcessTrace")

// Call records one TraceAPI invocation.
type Call struct {
	Op      string // StartTrace, ControlTrace, OpenTrace, ProcessTrace, CloseTrace
	Handle  uint64
	Name    string
	Control uint32
}

// SessionStats is what a QUERY reports for a running session.
type SessionStats struct {
	NumberOfBuffers     uint32
	FreeBuffers         uint32
	EventsLost          uint32
	RealTimeBuffersLost uint32
}

// FakeTraceAPI is a TraceAPI backed by memory. The zero value is not usable,
// use New.
type FakeTraceAPI struct {
	// Errors injected into the next calls. Nil means success.
	StartErr   error
	StopErr    error
	OpenErr    error
	ProcessErr error // returned by ProcessTrace after the trace is closed
	CloseErr   error

	// PointerSize reported in the logfile header by OpenTrace.
	PointerSize uint32
	Stats       SessionStats

	mu         sync.Mutex
	calls      []Call
	nextHandle uint64
	sessions   map[uint64]string
	traces     map[uint64]*fakeTrace
	lastProps  *etw.SessionProperties
	lastCtx    uintptr
	processing chan struct{} // closed when a ProcessTrace call is running
}

type fakeTrace struct {
	context uintptr
	queue   chan func()
	closed  chan struct{}
	once    sync.Once
}

// New returns a fake that reports 64-bit pointers.
func New() *FakeTraceAPI {
	return &FakeTraceAPI{
		PointerSize: 8,
		nextHandle:  0x1000,
		sessions:    make(map[uint64]string),
		traces:      make(map[uint64]*fakeTrace),
		processing:  make(chan struct{}),
	}
}

var _ etw.TraceAPI = (*FakeTraceAPI)(nil)

func (f *FakeTraceAPI) record(c Call) {
	f.calls = append(f.calls, c)
}

// Calls returns a copy of the calls made so far.
func (f *FakeTraceAPI) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CountOp returns how many times op was called.
func (f *FakeTraceAPI) CountOp(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// LastStartProperties returns a copy of the record given to the last
// successful StartTrace.
func (f *FakeTraceAPI) LastStartProperties() *etw.SessionProperties {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastProps == nil {
		return nil
	}
	c := *f.lastProps
	return &c
}

// LastContext returns the Context of the last successful OpenTrace. Records
// dispatched with it after the consumer stopped must be dropped.
func (f *FakeTraceAPI) LastContext() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCtx
}

// Running reports whether a session is started in the fake.
func (f *FakeTraceAPI) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions) > 0
}

func utf16PtrToString(p *uint16) string {
	if p == nil {
		return ""
	}
	var s []uint16
	for ptr := unsafe.Pointer(p); *(*uint16)(ptr) != 0; ptr = unsafe.Add(ptr, 2) {
		s = append(s, *(*uint16)(ptr))
	}
	r := make([]rune, len(s))
	for i, v := range s {
		r[i] = rune(v)
	}
	return string(r)
}

func (f *FakeTraceAPI) StartTrace(handle *uint64, name *uint16, props *etw.SessionProperties) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := utf16PtrToString(name)
	f.record(Call{Op: "StartTrace", Name: n})
	if f.StartErr != nil {
		return f.StartErr
	}
	for _, running := range f.sessions {
		if running == n {
			return etw.ERROR_ALREADY_EXISTS
		}
	}
	f.nextHandle++
	*handle = f.nextHandle
	f.sessions[*handle] = n
	c := *props
	f.lastProps = &c
	return nil
}

func (f *FakeTraceAPI) ControlTrace(handle uint64, name *uint16, props *etw.SessionProperties, control uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := utf16PtrToString(name)
	f.record(Call{Op: "ControlTrace", Handle: handle, Name: n, Control: control})

	if handle == 0 {
		for h, running := range f.sessions {
			if running == n {
				handle = h
			}
		}
	}
	if _, ok := f.sessions[handle]; !ok {
		return etw.ERROR_WMI_INSTANCE_NOT_FOUND
	}

	switch control {
	case etw.EVENT_TRACE_CONTROL_STOP:
		delete(f.sessions, handle)
		return f.StopErr
	case etw.EVENT_TRACE_CONTROL_QUERY:
		props.NumberOfBuffers = f.Stats.NumberOfBuffers
		props.FreeBuffers = f.Stats.FreeBuffers
		props.EventsLost = f.Stats.EventsLost
		props.RealTimeBuffersLost = f.Stats.RealTimeBuffersLost
	}
	return nil
}

func (f *FakeTraceAPI) OpenTrace(logfile *etw.EventTraceLogfile) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := utf16PtrToString(*(**uint16)(unsafe.Pointer(&logfile.LoggerName)))
	f.record(Call{Op: "OpenTrace", Name: name})
	if f.OpenErr != nil {
		return 0, f.OpenErr
	}

	logfile.LogfileHeader.Union1[1] = f.PointerSize
	f.lastCtx = logfile.Context
	f.nextHandle++
	f.traces[f.nextHandle] = &fakeTrace{
		context: logfile.Context,
		queue:   make(chan func()),
		closed:  make(chan struct{}),
	}
	return f.nextHandle, nil
}

// ProcessTrace runs injected deliveries until the trace is closed.
func (f *FakeTraceAPI) ProcessTrace(handles []uint64) error {
	f.mu.Lock()
	f.record(Call{Op: "ProcessTrace", Handle: handles[0]})
	t, ok := f.traces[handles[0]]
	processing := f.processing
	f.mu.Unlock()
	if !ok {
		return etw.ERROR_INVALID_HANDLE
	}
	close(processing)

	for {
		select {
		case fn := <-t.queue:
			fn()
		case <-t.closed:
			f.mu.Lock()
			f.processing = make(chan struct{})
			err := f.ProcessErr
			f.mu.Unlock()
			return err
		}
	}
}

func (f *FakeTraceAPI) CloseTrace(handle uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(Call{Op: "CloseTrace", Handle: handle})
	t, ok := f.traces[handle]
	if !ok {
		return etw.ERROR_INVALID_HANDLE
	}
	t.once.Do(func() { close(t.closed) })
	delete(f.traces, handle)
	return f.CloseErr
}

// WaitProcessing blocks until a ProcessTrace call is running.
func (f *FakeTraceAPI) WaitProcessing() {
	f.mu.Lock()
	ch := f.processing
	f.mu.Unlock()
	<-ch
}

func (f *FakeTraceAPI) current() (*fakeTrace, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.traces {
		return t, true
	}
	return nil, false
}

// Deliver hands r to the open trace on its ProcessTrace goroutine, through
// etw.DispatchEventRecord, and waits until the callback returned.
func (f *FakeTraceAPI) Deliver(r *Record) error {
	t, ok := f.current()
	if !ok {
		return ErrNoTrace
	}
	done := make(chan struct{})
	fn := func() {
		r.EventRecord.UserContext = t.context
		etw.DispatchEventRecord(&r.EventRecord)
		close(done)
	}
	select {
	case t.queue <- fn:
	case <-t.closed:
		return ErrNoTrace
	}
	<-done
	runtime.KeepAlive(r)
	return nil
}

// DeliverBuffer runs the buffer callback with lf on the ProcessTrace goroutine.
func (f *FakeTraceAPI) DeliverBuffer(lf *etw.EventTraceLogfile) error {
	t, ok := f.current()
	if !ok {
		return ErrNoTrace
	}
	done := make(chan struct{})
	fn := func() {
		lf.Context = t.context
		etw.DispatchBuffer(lf)
		close(done)
	}
	select {
	case t.queue <- fn:
	case <-t.closed:
		return ErrNoTrace
	}
	<-done
	return nil
}

// Record is an EventRecord together with the payload its UserData points to.
type Record struct {
	EventRecord etw.EventRecord
	Payload     []byte
}

// NewRecord builds a classic kernel record of provider with the given
// opcode, version and payload.
func NewRecord(provider *etw.GUID, opcode, version uint8, payload []byte) *Record {
	r := &Record{Payload: payload}
	h := &r.EventRecord.EventHeader
	h.ProviderId = *provider
	h.EventDescriptor.Opcode = opcode
	h.EventDescriptor.Version = version
	h.Flags = etw.EVENT_HEADER_FLAG_CLASSIC_HEADER | etw.EVENT_HEADER_FLAG_64_BIT_HEADER
	h.TimeStamp = 133000000000000000
	if len(payload) > 0 {
		r.EventRecord.UserData = uintptr(unsafe.Pointer(&payload[0]))
		r.EventRecord.UserDataLength = uint16(len(payload))
	}
	return r
}
