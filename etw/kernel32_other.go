//go:build !windows

package etw

func setCurrentThreadPriority(int) error { return ErrNotSupported }
