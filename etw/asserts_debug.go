//go:build debug

package etw

import "fmt"

// assert panics with the formatted message when condition is false. Only
// built with -tags debug; release builds compile it away.
func assert(condition bool, format string, args ...any) {
	if condition {
		return
	}
	panic(fmt.Sprintf("etw: assertion failed: "+format, args...))
}
