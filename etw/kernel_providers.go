package etw

// KernelNtFlag is a bitmask selecting a group of legacy kernel events on a
// kernel logger session (EVENT_TRACE_PROPERTIES.EnableFlags).
type KernelNtFlag uint32

const (
	// NtKernelLogger is KERNEL_LOGGER_NAMEW, the one session name that can
	// receive MOF kernel events on every Windows version.
	NtKernelLogger = "NT Kernel Logger"

	// Process logs process start, end and rundown (DCStart/DCEnd) events.
	// https://learn.microsoft.com/en-us/windows/win32/etw/process
	Process KernelNtFlag = EVENT_TRACE_FLAG_PROCESS

	// Thread logs thread start and end events. Not enabled by this module,
	// kept so the flag table documents what EnableFlags can carry.
	Thread KernelNtFlag = EVENT_TRACE_FLAG_THREAD
)

// KernelNtGUID is the event GUID (provider id) under which the NT Kernel Logger
// reports a MOF event class.
type KernelNtGUID = *GUID

var (
	// SystemTraceControlGuid is the session GUID of the NT Kernel Logger.
	// {9e814aad-3204-11d2-9a82-006008a86939}
	SystemTraceControlGuid KernelNtGUID = MustParseGUID("{9e814aad-3204-11d2-9a82-006008a86939}")

	// ProcessKernelGuid identifies the Process MOF class (Process_V1..V4_TypeGroup1).
	// https://learn.microsoft.com/en-us/windows/win32/etw/process
	ProcessKernelGuid KernelNtGUID = MustParseGUID("{3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c}")

	// EventTraceGuid identifies the trace header events every kernel session
	// delivers first (EventTrace_Header, RT_LostEvent...).
	EventTraceGuid KernelNtGUID = MustParseGUID("{68fdd900-4a3e-11d1-84f4-0000f80464e3}")
)

// MOF opcodes (EVENT_TRACE_TYPE_*) shared by the kernel event classes.
const (
	EVENT_TRACE_TYPE_INFO     = 0x00
	EVENT_TRACE_TYPE_START    = 0x01
	EVENT_TRACE_TYPE_END      = 0x02
	EVENT_TRACE_TYPE_DC_START = 0x03
	EVENT_TRACE_TYPE_DC_END   = 0x04

	// Opcodes of EventTraceGuid events.
	EVENT_TRACE_TYPE_RT_LOST_EVENT  = 0x20
	EVENT_TRACE_TYPE_RT_LOST_BUFFER = 0x21
	EVENT_TRACE_TYPE_RT_LOST_FILE   = 0x22
)

// OpcodeName returns a short name for the process opcodes, used by logs and
// the diagnostics channel.
func OpcodeName(opcode uint8) string {
	switch opcode {
	case EVENT_TRACE_TYPE_INFO:
		return "Info"
	case EVENT_TRACE_TYPE_START:
		return "Start"
	case EVENT_TRACE_TYPE_END:
		return "End"
	case EVENT_TRACE_TYPE_DC_START:
		return "DCStart"
	case EVENT_TRACE_TYPE_DC_END:
		return "DCEnd"
	default:
		return "Unknown"
	}
}
