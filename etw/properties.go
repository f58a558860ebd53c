package etw

import (
	"unsafe"
)

// SessionProperties is an EVENT_TRACE_PROPERTIES immediately followed by the
// storage StartTrace and ControlTrace copy the session name into. The API
// requires both in one contiguous allocation, described by
// Wnode.BufferSize and LoggerNameOffset.
type SessionProperties struct {
	EventTraceProperties
	LoggerName [MaxLoggerNameLen]uint16
}

// newSessionProperties returns a zeroed record whose size and name offset
// already describe the trailing name storage. This is all ControlTrace needs
// for QUERY and STOP.
func newSessionProperties() *SessionProperties {
	p := &SessionProperties{}
	p.Wnode.BufferSize = uint32(unsafe.Sizeof(*p))
	p.LoggerNameOffset = uint32(unsafe.Offsetof(p.LoggerName))
	p.LogFileNameOffset = 0

	assert(p.Wnode.BufferSize >= p.LoggerNameOffset+MaxLoggerNameLen*2,
		"properties buffer too small: size %d, name offset %d", p.Wnode.BufferSize, p.LoggerNameOffset)
	return p
}

// NewKernelSessionProperties builds the record used to start a real-time
// session that logs process events.
//
// The NT Kernel Logger is identified by SystemTraceControlGuid. Any other
// name starts a private system logger (Windows 8+), which receives the same
// kernel events through EVENT_TRACE_SYSTEM_LOGGER_MODE.
func NewKernelSessionProperties(name string, bufferSizeKB, minBuffers, maxBuffers uint32) *SessionProperties {
	p := newSessionProperties()

	if name == NtKernelLogger {
		p.Wnode.Guid = *SystemTraceControlGuid
	} else {
		p.LogFileMode |= EVENT_TRACE_SYSTEM_LOGGER_MODE
	}
	p.Wnode.Flags = WNODE_FLAG_TRACED_GUID
	p.Wnode.ClientContext = 1 // QPC
	p.LogFileMode |= EVENT_TRACE_REAL_TIME_MODE
	p.EnableFlags = EVENT_TRACE_FLAG_PROCESS

	p.BufferSize = bufferSizeKB
	p.MinimumBuffers = minBuffers
	p.MaximumBuffers = maxBuffers

	return p
}

// SessionName returns the name ETW wrote into the trailing storage, if any.
func (p *SessionProperties) SessionName() string {
	return utf16ToString(p.LoggerName[:])
}

// Clone returns a copy suitable for a ControlTrace call, which overwrites
// the record it is given.
func (p *SessionProperties) Clone() *SessionProperties {
	c := *p
	c.LogFileNameOffset = 0
	return &c
}
