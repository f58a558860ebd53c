//go:build windows

package etw

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	advapi32 = windows.NewLazySystemDLL("advapi32.dll")

	startTraceW   = advapi32.NewProc("StartTraceW")
	controlTraceW = advapi32.NewProc("ControlTraceW")
	openTraceW    = advapi32.NewProc("OpenTraceW")
	processTrace  = advapi32.NewProc("ProcessTrace")
	closeTrace    = advapi32.NewProc("CloseTrace")
)

// INVALID_PROCESSTRACE_HANDLE is what OpenTraceW returns on failure.
var INVALID_PROCESSTRACE_HANDLE uint64 = 0xFFFFFFFFFFFFFFFF

func init() {
	// OpenTrace returns a 32-bit invalid handle on 32-bit Vista and Windows 7.
	v := windows.RtlGetVersion()
	if runtime.GOARCH == "386" && v.MajorVersion == 6 && (v.MinorVersion == 0 || v.MinorVersion == 1) {
		INVALID_PROCESSTRACE_HANDLE = 0x00000000FFFFFFFF
	}
}

type advapi32API struct{}

// SystemTraceAPI returns the TraceAPI backed by advapi32.dll.
func SystemTraceAPI() TraceAPI { return advapi32API{} }

func errnoResult(r1 uintptr) error {
	if r1 == 0 {
		return nil
	}
	return syscall.Errno(r1)
}

/*
ULONG WMIAPI StartTraceW(

	[out]     PTRACEHANDLE            TraceHandle,
	[in]      LPCWSTR                 InstanceName,
	[in, out] PEVENT_TRACE_PROPERTIES Properties

);
*/
func (advapi32API) StartTrace(handle *uint64, name *uint16, props *SessionProperties) error {
	r1, _, _ := syscall.SyscallN(startTraceW.Addr(),
		uintptr(unsafe.Pointer(handle)),
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(props)))
	return errnoResult(r1)
}

/*
ULONG WMIAPI ControlTraceW(

	[in]      TRACEHANDLE             TraceHandle,
	[in]      LPCWSTR                 InstanceName,
	[in, out] PEVENT_TRACE_PROPERTIES Properties,
	[in]      ULONG                   ControlCode

);
*/
func (advapi32API) ControlTrace(handle uint64, name *uint16, props *SessionProperties, control uint32) error {
	args := traceHandleArgs(handle)
	args = append(args,
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(props)),
		uintptr(control))
	r1, _, _ := syscall.SyscallN(controlTraceW.Addr(), args...)
	return errnoResult(r1)
}

/*
ETW_APP_DECLSPEC_DEPRECATED PROCESSTRACE_HANDLE WMIAPI OpenTraceW(

	[in, out] PEVENT_TRACE_LOGFILEW Logfile

);
*/
func (advapi32API) OpenTrace(logfile *EventTraceLogfile) (uint64, error) {
	r1, r2, err := syscall.SyscallN(openTraceW.Addr(),
		uintptr(unsafe.Pointer(logfile)))
	h := joinTraceHandle(r1, r2)
	if h == INVALID_PROCESSTRACE_HANDLE {
		if errno, ok := err.(syscall.Errno); ok && errno != 0 {
			return h, errno
		}
		return h, ERROR_INVALID_HANDLE
	}
	return h, nil
}

/*
ETW_APP_DECLSPEC_DEPRECATED ULONG WMIAPI ProcessTrace(

	[in] PTRACEHANDLE HandleArray,
	[in] ULONG        HandleCount,
	[in] LPFILETIME   StartTime,
	[in] LPFILETIME   EndTime

);
*/
func (advapi32API) ProcessTrace(handles []uint64) error {
	if len(handles) == 0 {
		return ERROR_INVALID_PARAMETER
	}
	r1, _, _ := syscall.SyscallN(processTrace.Addr(),
		uintptr(unsafe.Pointer(&handles[0])),
		uintptr(len(handles)),
		0,
		0)
	return errnoResult(r1)
}

/*
ETW_APP_DECLSPEC_DEPRECATED ULONG WMIAPI CloseTrace(

	[in] TRACEHANDLE TraceHandle

);
*/
func (advapi32API) CloseTrace(handle uint64) error {
	r1, _, _ := syscall.SyscallN(closeTrace.Addr(), traceHandleArgs(handle)...)
	return errnoResult(r1)
}
