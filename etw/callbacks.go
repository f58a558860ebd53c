package etw

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// The native callbacks are plain functions created once per process (a
// callback slot is never released). They find the consumer that owns a
// record through the Context pointer given to OpenTrace, which ETW copies to
// EventRecord.UserContext and passes back in EventTraceLogfile.Context.
//
// The key is an opaque counter, not a Go pointer, so the GC never sees a
// pointer handed to native code.
var (
	traceContexts = xsync.NewMap[uintptr, *traceContext]()
	contextKeys   atomic.Uintptr
)

// traceContext routes the records of one open trace to its consumer. The
// callback and width are fixed for the life of the trace, so a worker left
// behind by a timed out Stop keeps using its own even after a reopen.
type traceContext struct {
	key      uintptr
	consumer *Consumer
	onRecord RecordCallback
	width    PointerWidth
}

// newTraceContext reserves a key. The context is not reachable from the
// callbacks until registerTraceContext.
func newTraceContext(c *Consumer, onRecord RecordCallback) *traceContext {
	return &traceContext{
		key:      contextKeys.Add(1),
		consumer: c,
		onRecord: onRecord,
	}
}

func registerTraceContext(tc *traceContext) {
	traceContexts.Store(tc.key, tc)
}

func unregisterTraceContext(tc *traceContext) {
	if tc != nil {
		traceContexts.Delete(tc.key)
	}
}

func lookupTraceContext(key uintptr) (*traceContext, bool) {
	return traceContexts.Load(key)
}

// DispatchEventRecord is the body of the native EventRecordCallback: it
// routes er to the consumer registered under er.UserContext. Records of an
// unknown context (after Stop) are dropped.
//
// A TraceAPI that produces records itself, like the fake used in tests,
// calls it from ProcessTrace on the worker goroutine.
func DispatchEventRecord(er *EventRecord) uintptr {
	if er == nil {
		return 0
	}
	if tc, ok := lookupTraceContext(er.UserContext); ok {
		tc.consumer.handleRecord(tc, er)
	}
	return 0
}

// DispatchBuffer is the body of the native BufferCallback. Returning 1
// (TRUE) tells ProcessTrace to keep going; only CloseTrace stops it.
func DispatchBuffer(lf *EventTraceLogfile) uintptr {
	if lf == nil {
		return 1
	}
	if tc, ok := lookupTraceContext(lf.Context); ok {
		tc.consumer.handleBuffer(lf)
	}
	return 1
}
