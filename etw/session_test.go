package etw_test

import (
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/tekert/procexit/etw"
	"github.com/tekert/procexit/internal/etwtest"
	"github.com/tekert/procexit/internal/test"
)

func TestKernelSessionProperties(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	p := etw.NewKernelSessionProperties(etw.NtKernelLogger, 64, 4, 16)

	// One allocation holds the record and the name storage.
	tt.Equal(uint32(unsafe.Sizeof(*p)), p.Wnode.BufferSize)
	tt.Equal(uint32(unsafe.Offsetof(p.LoggerName)), p.LoggerNameOffset)
	tt.Assert(p.Wnode.BufferSize >= p.LoggerNameOffset+etw.MaxLoggerNameLen*2)
	tt.Equal(uint32(0), p.LogFileNameOffset)

	tt.Assert(p.Wnode.Guid.Equals(etw.SystemTraceControlGuid))
	tt.Equal(uint32(etw.WNODE_FLAG_TRACED_GUID), p.Wnode.Flags)
	tt.Equal(uint32(1), p.Wnode.ClientContext)
	tt.Equal(uint32(etw.EVENT_TRACE_REAL_TIME_MODE), p.LogFileMode)
	tt.Equal(uint32(etw.EVENT_TRACE_FLAG_PROCESS), p.EnableFlags)
	tt.Equal(uint32(64), p.BufferSize)
	tt.Equal(uint32(4), p.MinimumBuffers)
	tt.Equal(uint32(16), p.MaximumBuffers)
}

func TestSystemLoggerProperties(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	p := etw.NewKernelSessionProperties("procexit-exits", 32, 2, 8)
	tt.Assert(p.Wnode.Guid.IsZero(), "private loggers get their GUID from ETW")
	tt.Assert(p.LogFileMode&etw.EVENT_TRACE_SYSTEM_LOGGER_MODE != 0)
	tt.Assert(p.LogFileMode&etw.EVENT_TRACE_REAL_TIME_MODE != 0)
	tt.Equal(uint32(etw.EVENT_TRACE_FLAG_PROCESS), p.EnableFlags)
}

func TestKernelSessionLifecycle(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	api := etwtest.New()
	s := etw.NewKernelSession(etw.NtKernelLogger, etw.WithTraceAPI(api))
	tt.Equal(etw.SessionNotStarted, s.State())

	h, err := s.Start(64, 4, 16)
	tt.CheckErr(err)
	tt.Assert(h != 0)
	tt.Assert(s.IsStarted())
	tt.Equal(h, s.Handle())

	props := api.LastStartProperties()
	tt.Assert(props != nil)
	tt.Assert(props.Wnode.Guid.Equals(etw.SystemTraceControlGuid))

	// Start while running is a misuse.
	_, err = s.Start(64, 4, 16)
	tt.ExpectErr(err, etw.ErrSessionRunning)

	s.Stop()
	tt.Equal(etw.SessionNotStarted, s.State())
	tt.Equal(uint64(0), s.Handle())
	tt.Assert(!api.Running())

	// Idempotent.
	s.Stop()
	tt.Equal(1, countControl(api, etw.EVENT_TRACE_CONTROL_STOP))

	// And restartable.
	_, err = s.Start(64, 4, 16)
	tt.CheckErr(err)
	s.Stop()
}

func TestKernelSessionStopSwallowsErrors(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	api := etwtest.New()
	api.StopErr = etw.ERROR_INVALID_PARAMETER
	s := etw.NewKernelSession(etw.NtKernelLogger, etw.WithTraceAPI(api))

	_, err := s.Start(64, 4, 16)
	tt.CheckErr(err)
	s.Stop()
	tt.Equal(etw.SessionNotStarted, s.State())
}

func TestKernelSessionStartError(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	api := etwtest.New()
	api.StartErr = etw.ERROR_ACCESS_DENIED
	s := etw.NewKernelSession(etw.NtKernelLogger, etw.WithTraceAPI(api))

	_, err := s.Start(64, 4, 16)
	var startErr *etw.SessionStartError
	tt.Assert(errors.As(err, &startErr))
	tt.Equal(etw.ERROR_ACCESS_DENIED, startErr.Code)
	tt.ExpectErr(err, etw.ERROR_ACCESS_DENIED)
	tt.Equal(etw.SessionNotStarted, s.State())
}

func TestKernelSessionStopExisting(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	api := etwtest.New()

	// Another owner left the kernel logger running.
	other := etw.NewKernelSession(etw.NtKernelLogger, etw.WithTraceAPI(api))
	_, err := other.Start(64, 4, 16)
	tt.CheckErr(err)

	s := etw.NewKernelSession(etw.NtKernelLogger, etw.WithTraceAPI(api))
	_, err = s.Start(64, 4, 16)
	var startErr *etw.SessionStartError
	tt.Assert(errors.As(err, &startErr))
	tt.Equal(etw.ERROR_ALREADY_EXISTS, startErr.Code)

	s.StopExisting()
	_, err = s.Start(64, 4, 16)
	tt.CheckErr(err)

	// Nothing to stop is not an error.
	s.Stop()
	s.StopExisting()
}

func TestKernelSessionNameLength(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	s := etw.NewKernelSession(strings.Repeat("x", etw.MaxLoggerNameLen), etw.WithTraceAPI(etwtest.New()))
	_, err := s.Start(64, 4, 16)
	tt.Assert(err != nil)
	tt.Equal(etw.SessionNotStarted, s.State())
}

func TestKernelSessionQuery(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	api := etwtest.New()
	api.Stats = etwtest.SessionStats{NumberOfBuffers: 8, FreeBuffers: 5, EventsLost: 2, RealTimeBuffersLost: 1}
	s := etw.NewKernelSession("", etw.WithTraceAPI(api))
	tt.Equal(etw.NtKernelLogger, s.TraceName())

	_, err := s.Query()
	tt.Assert(err != nil, "query before start")

	_, err = s.Start(64, 4, 16)
	tt.CheckErr(err)
	defer s.Stop()

	props, err := s.Query()
	tt.CheckErr(err)
	tt.Equal(uint32(8), props.NumberOfBuffers)
	tt.Equal(uint32(5), props.FreeBuffers)
	tt.Equal(uint32(2), props.EventsLost)
	tt.Equal(uint32(1), props.RealTimeBuffersLost)
	tt.CheckErr(s.Flush())
}

func countControl(api *etwtest.FakeTraceAPI, control uint32) int {
	n := 0
	for _, c := range api.Calls() {
		if c.Op == "ControlTrace" && c.Control == control {
			n++
		}
	}
	return n
}
