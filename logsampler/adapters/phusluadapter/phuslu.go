// Package phusluadapter connects the logsampler package to phuslu/log.
package phusluadapter

import (
	"hash/maphash"
	"strconv"
	"sync/atomic"

	"github.com/tekert/procexit/logsampler"

	plog "github.com/phuslu/log"
)

var hashSeed = maphash.MakeSeed()

// SummaryReporter writes sampler summaries to a phuslu logger.
type SummaryReporter struct {
	Logger *plog.Logger
}

// LogSummary logs a sampler summary report.
func (r *SummaryReporter) LogSummary(key string, suppressedCount int64) {
	if r == nil || r.Logger == nil {
		return
	}
	r.Logger.Info().
		Str("samplerKey", key).
		Int64("suppressedCount", suppressedCount).
		Msg("log sampler summary")
}

// SampledLogger is a plog.Logger whose Sampled* methods consult a sampler.
// The plain methods (Info, Debug...) are not sampled.
type SampledLogger struct {
	*plog.Logger
	Sampler logsampler.Sampler
}

// NewSampledLogger wraps baseLogger. A nil sampler logs every line.
func NewSampledLogger(baseLogger *plog.Logger, sampler logsampler.Sampler) *SampledLogger {
	return &SampledLogger{Logger: baseLogger, Sampler: sampler}
}

// errKey appends a hash of the error text to key, so distinct errors at the
// same call site are sampled separately.
func errKey(key string, err error) string {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	h.WriteString(err.Error())

	var buf [96]byte
	b := append(buf[:0], key...)
	b = append(b, ':')
	b = strconv.AppendUint(b, h.Sum64(), 16)
	return string(b)
}

// Sampled returns an entry at level, or nil when the level is disabled or the
// sampler suppresses key. A nil *plog.Entry is safe to chain on.
func (l *SampledLogger) Sampled(level plog.Level, key string, err error, bySignature bool) *plog.Entry {
	if plog.Level(atomic.LoadUint32((*uint32)(&l.Logger.Level))) > level {
		return nil
	}
	if bySignature && err != nil {
		key = errKey(key, err)
	}

	var suppressed int64
	if l.Sampler != nil {
		var ok bool
		if ok, suppressed = l.Sampler.ShouldLog(key, err); !ok {
			return nil
		}
	}

	e := l.Logger.WithLevel(level)
	if suppressed > 0 {
		e = e.Int64("suppressedCount", suppressed)
	}
	if err != nil {
		e = e.Err(err)
	}
	return e
}

// SampledError starts a new sampled log event with Error level.
func (l *SampledLogger) SampledError(key string) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, nil, false)
}

// SampledErrorWithErrSig is like SampledError but samples each distinct error
// text on its own.
func (l *SampledLogger) SampledErrorWithErrSig(key string, err error) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, err, true)
}

// SampledWarn starts a new sampled log event with Warn level.
func (l *SampledLogger) SampledWarn(key string) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, nil, false)
}

// SampledWarnWithErrSig is like SampledWarn but samples each distinct error
// text on its own.
func (l *SampledLogger) SampledWarnWithErrSig(key string, err error) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, err, true)
}

// SampledDebug starts a new sampled log event with Debug level.
func (l *SampledLogger) SampledDebug(key string) *plog.Entry {
	return l.Sampled(plog.DebugLevel, key, nil, false)
}
