package etw

// Important documentation "hidden" in the Remarks section of StartTrace:
// https://learn.microsoft.com/en-us/windows/win32/api/evntrace/nf-evntrace-starttracew

import (
	"fmt"
	"sync"
)

// SessionState is the owner-side state of a [KernelSession].
type SessionState uint8

const (
	SessionNotStarted SessionState = iota
	SessionRunning
)

func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "NotStarted"
	case SessionRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// SessionOption configures a KernelSession.
type SessionOption func(*KernelSession)

// WithTraceAPI replaces the native trace API, mainly for tests.
func WithTraceAPI(api TraceAPI) SessionOption {
	return func(s *KernelSession) { s.api = api }
}

// KernelSession controls a real-time trace session that receives the kernel
// process events (EVENT_TRACE_FLAG_PROCESS).
//
// The default name is the "NT Kernel Logger", of which only one may exist on
// the system. Starting it from two programs fails with ERROR_ALREADY_EXISTS
// unless the previous one is stopped first with [KernelSession.StopExisting].
//
// You can check currently active sessions with the command: `logman query -ets`
type KernelSession struct {
	api       TraceAPI
	traceName string

	mu        sync.Mutex // Protects the fields below during Start/Stop/Query
	state     SessionState
	handle    uint64
	liveProps *SessionProperties // record returned by StartTrace
}

// NewKernelSession creates a session controller. Nothing is started until
// [KernelSession.Start] is called.
func NewKernelSession(name string, opts ...SessionOption) *KernelSession {
	if name == "" {
		name = NtKernelLogger
	}
	s := &KernelSession{
		api:       SystemTraceAPI(),
		traceName: name,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TraceName returns the session name given at creation.
func (s *KernelSession) TraceName() string {
	return s.traceName
}

// State returns the current session state.
func (s *KernelSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsStarted returns true if the session is running.
func (s *KernelSession) IsStarted() bool {
	return s != nil && s.State() == SessionRunning
}

// Handle returns the session handle, 0 when not started.
func (s *KernelSession) Handle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// StopExisting stops a session with this name left running by another
// process (or a previous run of this one). The result is only logged: the
// common case is that no such session exists.
func (s *KernelSession) StopExisting() {
	name, err := utf16PtrFromString(s.traceName)
	if err != nil {
		seslog.Debug().Err(err).Str("session", s.traceName).Msg("Invalid session name")
		return
	}
	props := newSessionProperties()
	if err := s.api.ControlTrace(0, name, props, EVENT_TRACE_CONTROL_STOP); err != nil {
		seslog.Debug().Err(err).Str("session", s.traceName).Msg("No previous session stopped")
		return
	}
	seslog.Info().Str("session", s.traceName).Msg("Stopped previous session")
}

// Start starts the real-time session with the given buffering parameters
// and returns its handle.
//
// BufferSize is in KB. A kernel event can be up to 64KB, smaller buffers
// lose the events that don't fit.
func (s *KernelSession) Start(bufferSizeKB, minBuffers, maxBuffers uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionRunning {
		return s.handle, ErrSessionRunning
	}

	if n := UTF16Len(s.traceName); n == 0 || n >= MaxLoggerNameLen {
		return 0, fmt.Errorf("etw: invalid session name length %d", n)
	}
	u16Name, err := utf16PtrFromString(s.traceName)
	if err != nil {
		return 0, fmt.Errorf("etw: invalid session name %q: %w", s.traceName, err)
	}

	props := NewKernelSessionProperties(s.traceName, bufferSizeKB, minBuffers, maxBuffers)
	seslog.Debug().Str("session", s.traceName).
		Str("guid", props.Wnode.Guid.String()).
		Uint32("LogFileMode", props.LogFileMode).
		Uint32("EnableFlags", props.EnableFlags).
		Msg("Starting session")

	var handle uint64
	if err := s.api.StartTrace(&handle, u16Name, props); err != nil {
		if errno, ok := asErrno(err); ok {
			return 0, &SessionStartError{Name: s.traceName, Code: errno}
		}
		return 0, fmt.Errorf("etw: failed to start session %q: %w", s.traceName, err)
	}

	s.handle = handle
	s.liveProps = props
	s.state = SessionRunning

	seslog.Info().Str("session", s.traceName).
		Uint64("Handle", handle).
		Uint32("BufferSizeKB", props.BufferSize).
		Uint32("MinBuffers", props.MinimumBuffers).
		Uint32("MaxBuffers", props.MaximumBuffers).
		Msg("Session started")

	return handle, nil
}

// Stop stops the session. Teardown failures are logged and otherwise
// ignored; the session is considered stopped afterwards. Calling Stop on a
// session that is not running does nothing.
func (s *KernelSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return
	}
	seslog.Debug().Str("session", s.traceName).Msg("Session stopping...")

	// ControlTrace overwrites the record, use a copy.
	props := s.liveProps.Clone()
	if err := s.api.ControlTrace(s.handle, nil, props, EVENT_TRACE_CONTROL_STOP); err != nil {
		seslog.Debug().Err(err).Str("session", s.traceName).Msg("ControlTrace stop failed")
	}

	s.handle = 0
	s.liveProps = nil
	s.state = SessionNotStarted

	seslog.Info().Str("session", s.traceName).Msg("Session stopped")
}

// Query returns the current properties and statistics of the running
// session (buffers in use, events lost...).
func (s *KernelSession) Query() (*SessionProperties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return nil, fmt.Errorf("etw: session %q not started", s.traceName)
	}
	props := newSessionProperties()
	if err := s.api.ControlTrace(s.handle, nil, props, EVENT_TRACE_CONTROL_QUERY); err != nil {
		return nil, fmt.Errorf("etw: ControlTrace query failed: %w", err)
	}
	return props, nil
}

// Flush flushes the session's active buffers to the real-time consumer.
func (s *KernelSession) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return fmt.Errorf("etw: session %q not started", s.traceName)
	}
	return s.api.ControlTrace(s.handle, nil, newSessionProperties(), EVENT_TRACE_CONTROL_FLUSH)
}
