//go:build !windows

package etw

type unsupportedAPI struct{}

// SystemTraceAPI returns a TraceAPI whose every call fails with
// ErrNotSupported. Tests inject their own implementation instead.
func SystemTraceAPI() TraceAPI { return unsupportedAPI{} }

func (unsupportedAPI) StartTrace(*uint64, *uint16, *SessionProperties) error {
	return ErrNotSupported
}

func (unsupportedAPI) ControlTrace(uint64, *uint16, *SessionProperties, uint32) error {
	return ErrNotSupported
}

func (unsupportedAPI) OpenTrace(*EventTraceLogfile) (uint64, error) {
	return 0, ErrNotSupported
}

func (unsupportedAPI) ProcessTrace([]uint64) error { return ErrNotSupported }

func (unsupportedAPI) CloseTrace(uint64) error { return ErrNotSupported }
