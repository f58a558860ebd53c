//go:build windows

package etw

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// Exports from kernel32.dll
var (
	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	setThreadPriority = kernel32.NewProc("SetThreadPriority")
)

// setCurrentThreadPriority sets the priority of the calling OS thread. The
// caller must be locked to its thread (runtime.LockOSThread).
//
// https://learn.microsoft.com/en-us/windows/win32/api/processthreadsapi/nf-processthreadsapi-setthreadpriority
func setCurrentThreadPriority(priority int) error {
	r1, _, err := syscall.SyscallN(setThreadPriority.Addr(),
		uintptr(windows.CurrentThread()),
		uintptr(priority))
	if r1 == 0 {
		return err
	}
	return nil
}
