package etw

import "syscall"

// Session and consumer flags (evntrace.h).
const (
	WNODE_FLAG_TRACED_GUID = 0x00020000

	EVENT_TRACE_REAL_TIME_MODE     = 0x00000100
	EVENT_TRACE_USE_PAGED_MEMORY   = 0x01000000
	EVENT_TRACE_SYSTEM_LOGGER_MODE = 0x02000000

	EVENT_TRACE_FLAG_PROCESS = 0x00000001
	EVENT_TRACE_FLAG_THREAD  = 0x00000002

	EVENT_TRACE_CONTROL_QUERY  = 0
	EVENT_TRACE_CONTROL_STOP   = 1
	EVENT_TRACE_CONTROL_UPDATE = 2
	EVENT_TRACE_CONTROL_FLUSH  = 3

	PROCESS_TRACE_MODE_REAL_TIME     = 0x00000100
	PROCESS_TRACE_MODE_RAW_TIMESTAMP = 0x00001000
	PROCESS_TRACE_MODE_EVENT_RECORD  = 0x10000000

	EVENT_HEADER_FLAG_32_BIT_HEADER  = 0x0020
	EVENT_HEADER_FLAG_64_BIT_HEADER  = 0x0040
	EVENT_HEADER_FLAG_CLASSIC_HEADER = 0x0100
)

// Win32 error codes returned by the trace API. They are declared as
// syscall.Errno so errors.Is matches the values from golang.org/x/sys/windows.
const (
	ERROR_SUCCESS                syscall.Errno = 0
	ERROR_ACCESS_DENIED          syscall.Errno = 5
	ERROR_INVALID_HANDLE         syscall.Errno = 6
	ERROR_BAD_LENGTH             syscall.Errno = 24
	ERROR_INVALID_PARAMETER      syscall.Errno = 87
	ERROR_ALREADY_EXISTS         syscall.Errno = 183
	ERROR_MORE_DATA              syscall.Errno = 234
	ERROR_WMI_INSTANCE_NOT_FOUND syscall.Errno = 4201
	ERROR_CTX_CLOSE_PENDING      syscall.Errno = 7007
)

// MaxLoggerNameLen is the number of UTF-16 units reserved after the
// properties record for the session name, terminator included.
const MaxLoggerNameLen = 1024

// PointerWidth is the pointer size, in bytes, of the machine that logged a
// trace. Kernel MOF payloads embed pointer-sized fields, so every layout
// computation in a payload depends on it.
type PointerWidth uint8

const (
	PointerWidth32 PointerWidth = 4
	PointerWidth64 PointerWidth = 8
)

// Valid reports whether p is one of the two supported widths.
func (p PointerWidth) Valid() bool {
	return p == PointerWidth32 || p == PointerWidth64
}

// https://learn.microsoft.com/en-us/windows/win32/etw/wnode-header
type WnodeHeader struct {
	BufferSize        uint32
	ProviderId        uint32
	HistoricalContext uint64 // union with Version/Linkage
	TimeStamp         int64  // union with CountLost/KernelHandle
	Guid              GUID
	ClientContext     uint32
	Flags             uint32
}

// EventTracePropertiesCommon is EVENT_TRACE_PROPERTIES without the trailing
// alignment that 32-bit hosts need. Use [EventTraceProperties].
//
// https://learn.microsoft.com/en-us/windows/win32/api/evntrace/ns-evntrace-event_trace_properties
type EventTracePropertiesCommon struct {
	Wnode               WnodeHeader
	BufferSize          uint32 // KB
	MinimumBuffers      uint32
	MaximumBuffers      uint32
	MaximumFileSize     uint32
	LogFileMode         uint32
	FlushTimer          uint32
	EnableFlags         uint32
	AgeLimit            int32
	NumberOfBuffers     uint32
	FreeBuffers         uint32
	EventsLost          uint32
	BuffersWritten      uint32
	LogBuffersLost      uint32
	RealTimeBuffersLost uint32
	LoggerThreadId      uintptr // HANDLE
	LogFileNameOffset   uint32
	LoggerNameOffset    uint32
}

// EVENT_TRACE_HEADER, the classic (MOF) event header.
type EventTraceHeader struct {
	Size           uint16
	FieldTypeFlags uint16 // HeaderType + MarkerFlags
	Type           uint8
	Level          uint8
	Version        uint16
	ThreadId       uint32
	ProcessId      uint32
	TimeStamp      int64
	Guid           GUID
	ProcessorTime  uint64 // union with KernelTime/UserTime
}

// ETW_BUFFER_CONTEXT
type EtwBufferContext struct {
	ProcessorNumber uint8
	Alignment       uint8
	LoggerId        uint16
}

// EventTraceCommon is EVENT_TRACE without the 32-bit trailing alignment.
type EventTraceCommon struct {
	Header           EventTraceHeader
	InstanceId       uint32
	ParentInstanceId uint32
	ParentGuid       GUID
	MofData          uintptr
	MofLength        uint32
	BufferContext    EtwBufferContext
}

// SYSTEMTIME
type SystemTime struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// TIME_ZONE_INFORMATION
type TimeZoneInformation struct {
	Bias         int32
	StandardName [32]uint16
	StandardDate SystemTime
	StandardBias int32
	DaylightName [32]uint16
	DaylightDate SystemTime
	DaylightBias int32
}

// TRACE_LOGFILE_HEADER
//
// https://learn.microsoft.com/en-us/windows/win32/api/evntrace/ns-evntrace-trace_logfile_header
type TraceLogfileHeader struct {
	BufferSize         uint32
	Version            uint32 // union with VersionDetail
	ProviderVersion    uint32
	NumberOfProcessors uint32
	EndTime            int64
	TimerResolution    uint32
	MaximumFileSize    uint32
	LogFileMode        uint32
	BuffersWritten     uint32
	Union1             [4]uint32 // LogInstanceGuid or {StartBuffers, PointerSize, EventsLost, CpuSpeedInMHz}
	LoggerName         uintptr   // *uint16
	LogFileName        uintptr   // *uint16
	TimeZone           TimeZoneInformation
	_                  [timeZonePad]byte
	BootTime           int64
	PerfFreq           int64
	StartTime          int64
	ReservedFlags      uint32 // ClockType
	BuffersLost        uint32
}

func (h *TraceLogfileHeader) GetStartBuffers() uint32  { return h.Union1[0] }
func (h *TraceLogfileHeader) GetPointerSize() uint32   { return h.Union1[1] }
func (h *TraceLogfileHeader) GetEventsLost() uint32    { return h.Union1[2] }
func (h *TraceLogfileHeader) GetCpuSpeedInMHz() uint32 { return h.Union1[3] }

// GetLogInstanceGuid reads Union1 as a GUID. Only meaningful for file traces.
func (h *TraceLogfileHeader) GetLogInstanceGuid() GUID {
	return GUID{
		Data1: h.Union1[0],
		Data2: uint16(h.Union1[1]),
		Data3: uint16(h.Union1[1] >> 16),
		Data4: [8]byte{
			byte(h.Union1[2]), byte(h.Union1[2] >> 8), byte(h.Union1[2] >> 16), byte(h.Union1[2] >> 24),
			byte(h.Union1[3]), byte(h.Union1[3] >> 8), byte(h.Union1[3] >> 16), byte(h.Union1[3] >> 24),
		},
	}
}

// EventTraceLogfileCommon is EVENT_TRACE_LOGFILEW without the 32-bit
// trailing alignment. Use [EventTraceLogfile].
//
// https://learn.microsoft.com/en-us/windows/win32/api/evntrace/ns-evntrace-event_trace_logfilew
type EventTraceLogfileCommon struct {
	LogFileName      uintptr // *uint16
	LoggerName       uintptr // *uint16
	CurrentTime      int64
	BuffersRead      uint32
	ProcessTraceMode uint32 // union with LogFileMode
	CurrentEvent     EventTrace
	LogfileHeader    TraceLogfileHeader
	BufferCallback   uintptr
	BufferSize       uint32
	Filled           uint32
	EventsLost       uint32
	EventCallback    uintptr // union with EventRecordCallback
	IsKernelTrace    uint32
	Context          uintptr
}

// https://learn.microsoft.com/en-us/windows/win32/api/evntcons/ns-evntcons-event_descriptor
type EventDescriptor struct {
	Id      uint16
	Version uint8
	Channel uint8
	Level   uint8
	Opcode  uint8
	Task    uint16
	Keyword uint64
}

// https://learn.microsoft.com/en-us/windows/win32/api/evntcons/ns-evntcons-event_header
type EventHeader struct {
	Size            uint16
	HeaderType      uint16
	Flags           uint16
	EventProperty   uint16
	ThreadId        uint32
	ProcessId       uint32
	TimeStamp       int64
	ProviderId      GUID
	EventDescriptor EventDescriptor
	ProcessorTime   uint64 // union with KernelTime/UserTime
	ActivityId      GUID
}

// EventRecordCommon is EVENT_RECORD without the 32-bit trailing alignment.
//
// https://learn.microsoft.com/en-us/windows/win32/api/evntcons/ns-evntcons-event_record
type EventRecordCommon struct {
	EventHeader       EventHeader
	BufferContext     EtwBufferContext
	ExtendedDataCount uint16
	UserDataLength    uint16
	ExtendedData      uintptr
	UserData          uintptr
	UserContext       uintptr
}

// Is32BitHeader reports whether the logging machine was 32-bit. Kernel MOF
// events carry this bit, but the consumer uses the logfile header instead.
func (e *EventRecord) Is32BitHeader() bool {
	return e.EventHeader.Flags&EVENT_HEADER_FLAG_32_BIT_HEADER != 0
}

// Is64BitHeader reports whether the logging machine was 64-bit.
func (e *EventRecord) Is64BitHeader() bool {
	return e.EventHeader.Flags&EVENT_HEADER_FLAG_64_BIT_HEADER != 0
}

// Thread priorities accepted by [WithThreadPriority].
const (
	THREAD_PRIORITY_NORMAL        = 0
	THREAD_PRIORITY_ABOVE_NORMAL  = 1
	THREAD_PRIORITY_HIGHEST       = 2
	THREAD_PRIORITY_TIME_CRITICAL = 15
)
