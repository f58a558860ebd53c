package etw

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrSessionRunning is returned by Start on a session that is already running.
	ErrSessionRunning = errors.New("etw: session already running")
	// ErrTraceOpen is returned by OpenAndRun on a consumer that is already open.
	ErrTraceOpen = errors.New("etw: trace already open")
	// ErrNotSupported is returned by the trace API on platforms without ETW.
	ErrNotSupported = errors.New("etw: event tracing is only supported on windows")
)

// TraceAPI is the subset of the native trace controller and consumer API used
// by [KernelSession] and [Consumer]. [SystemTraceAPI] returns the advapi32
// implementation; tests substitute their own.
//
// Every method returns nil on ERROR_SUCCESS and a syscall.Errno otherwise.
type TraceAPI interface {
	// StartTrace registers and starts a trace session (StartTraceW).
	StartTrace(handle *uint64, name *uint16, props *SessionProperties) error
	// ControlTrace queries, updates, flushes or stops a session (ControlTraceW).
	// The session is identified by handle or, when handle is 0, by name.
	ControlTrace(handle uint64, name *uint16, props *SessionProperties, control uint32) error
	// OpenTrace opens a real-time trace for consumption (OpenTraceW).
	OpenTrace(logfile *EventTraceLogfile) (uint64, error)
	// ProcessTrace delivers events to the callbacks set in OpenTrace and
	// blocks until the trace is closed.
	ProcessTrace(handles []uint64) error
	// CloseTrace closes a handle returned by OpenTrace.
	CloseTrace(handle uint64) error
}

// SessionStartError is returned when StartTrace fails. Code is typically
// ERROR_ACCESS_DENIED when the caller lacks the privilege to control the
// kernel logger, or ERROR_ALREADY_EXISTS when another process owns it.
type SessionStartError struct {
	Name string
	Code syscall.Errno
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("etw: failed to start session %q: %v (code %d)", e.Name, e.Code, uint32(e.Code))
}

func (e *SessionStartError) Unwrap() error { return e.Code }

// TraceOpenError is returned when OpenTrace fails for a real-time session.
type TraceOpenError struct {
	Name string
	Code syscall.Errno
}

func (e *TraceOpenError) Error() string {
	return fmt.Sprintf("etw: failed to open trace %q: %v (code %d)", e.Name, e.Code, uint32(e.Code))
}

func (e *TraceOpenError) Unwrap() error { return e.Code }

// asErrno extracts the Win32 code from an error returned by a TraceAPI.
func asErrno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
