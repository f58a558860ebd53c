//go:build 386 || arm

package etw

// Go aligns 64-bit fields to 4 bytes on these architectures while the C
// structures keep 8, so the padding is spelled out.
const timeZonePad = 4

type EventTraceProperties struct {
	EventTracePropertiesCommon
	_ uint32 // Padding
}

type EventTrace struct {
	EventTraceCommon
	_ uint32 // Padding
}

type EventTraceLogfile struct {
	EventTraceLogfileCommon
	_ uint32 // Padding
}

type EventRecord struct {
	EventRecordCommon
	_ uint32 // Padding
}

// A TRACEHANDLE is a 64-bit value passed on two stack slots, low word first.
func traceHandleArgs(h uint64) []uintptr {
	return []uintptr{uintptr(uint32(h)), uintptr(uint32(h >> 32))}
}

// 64-bit return values come back in EDX:EAX (r2:r1).
func joinTraceHandle(r1, r2 uintptr) uint64 {
	return uint64(uint32(r1)) | uint64(uint32(r2))<<32
}
