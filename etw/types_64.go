//go:build !386 && !arm

package etw

// On 64-bit hosts the Go layout already matches the C alignment.
const timeZonePad = 0

type EventTraceProperties struct {
	EventTracePropertiesCommon
}

type EventTrace struct {
	EventTraceCommon
}

type EventTraceLogfile struct {
	EventTraceLogfileCommon
}

type EventRecord struct {
	EventRecordCommon
}

// traceHandleArgs passes a TRACEHANDLE as syscall arguments.
func traceHandleArgs(h uint64) []uintptr {
	return []uintptr{uintptr(h)}
}

// joinTraceHandle rebuilds a TRACEHANDLE returned in r1 (and r2 on 32-bit).
func joinTraceHandle(r1, _ uintptr) uint64 {
	return uint64(r1)
}
