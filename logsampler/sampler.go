/*
Package logsampler decides whether a log line on a hot path should be written.

The consumer goroutine of a trace session may see the same failure thousands
of times per second (a malformed record, a panicking subscriber). Logging each
one would cost more than the work itself, so callers ask a Sampler first and
log only when it says so, together with the number of suppressed lines.
*/
package logsampler

import "time"

// BackoffConfig defines the parameters for the exponential backoff strategy.
type BackoffConfig struct {
	InitialInterval time.Duration // Quiet window after the first line of a key.
	MaxInterval     time.Duration // Upper bound of the quiet window.
	Factor          float64       // Window growth after each emitted line (e.g. 2.0).
	// ResetInterval is the inactivity after which a key starts over at
	// InitialInterval and its pending count is reported. Zero disables it.
	ResetInterval time.Duration
}

// SummaryReporter receives the suppressed count of keys that are dropped by
// the sampler, so the count is not lost silently. It keeps the sampler free
// of any logging library.
type SummaryReporter interface {
	LogSummary(key string, suppressedCount int64)
}

type discardReporter struct{}

func (discardReporter) LogSummary(string, int64) {}

// Clock returns the current time. Tests replace it to drive the windows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sampler defines the interface for deciding if a log message should be processed.
type Sampler interface {
	// ShouldLog reports whether the line for key should be written and, if so,
	// how many lines of that key were suppressed since the last one.
	ShouldLog(key string, err error) (bool, int64)
	// Flush reports the pending suppressed counts and forgets every key.
	Flush()
	// Close flushes one last time.
	Close()
}
