// Package etw provides the minimal Event Tracing for Windows bindings needed
// to follow kernel process events in real time, without CGO.
//
// It covers the two halves of a real-time trace: the controller side
// ([KernelSession], which starts and stops the "NT Kernel Logger" or a
// private system logger with EVENT_TRACE_FLAG_PROCESS) and the consumer side
// ([Consumer], which opens the session and delivers raw [EventRecord] values
// on a dedicated goroutine).
//
// The native structures are laid out byte for byte, with the 32-bit padding
// kept in types_32.go. The advapi32 calls sit behind [TraceAPI], so the
// session and consumer state machines also build (and are tested) on other
// platforms, where [SystemTraceAPI] fails with [ErrNotSupported].
//
// Basic usage:
//
//	s := etw.NewKernelSession(etw.NtKernelLogger)
//	s.StopExisting()
//	if _, err := s.Start(64, 4, 16); err != nil {
//		return err
//	}
//	defer s.Stop()
//
//	c := etw.NewConsumer(s.TraceName())
//	defer c.Stop()
//	err := c.OpenAndRun(func(er *etw.EventRecord, p etw.PointerWidth) {
//		// Runs on the consumer goroutine; er is only valid during the call.
//	})
//
// Controlling the kernel logger requires administrator rights.
package etw
