//go:build !windows

package etw

// Without native trampolines the callbacks are only reachable through
// DispatchEventRecord and DispatchBuffer.
var (
	eventRecordCallback uintptr
	bufferCallback      uintptr
)
