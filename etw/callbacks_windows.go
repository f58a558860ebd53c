//go:build windows

package etw

import "syscall"

var (
	eventRecordCallback = syscall.NewCallback(DispatchEventRecord)
	bufferCallback      = syscall.NewCallback(DispatchBuffer)
)
