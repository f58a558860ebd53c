package etw

import (
	"os"
	"time"

	"github.com/tekert/procexit/logsampler"
	"github.com/tekert/procexit/logsampler/adapters/phusluadapter"

	plog "github.com/phuslu/log"
)

// LoggerName defines the name of a logger for configuration.
type LoggerName string

// Available logger names. Use these as keys when configuring log levels.
const (
	ConsumerLogger LoggerName = "consumer"
	SessionLogger  LoggerName = "session"
	DefaultLogger  LoggerName = "default"
)

// SampledLogger is the phuslu logger with sampled hot-path methods.
type SampledLogger = phusluadapter.SampledLogger

// LoggerManager owns the package loggers and the sampler shared by the hot
// path ones.
type LoggerManager struct {
	writer  plog.Writer
	sampler logsampler.Sampler
	loggers map[LoggerName]*plog.Logger

	sampled *SampledLogger // consumer logger, used on the worker goroutine
}

var (
	loggerManager *LoggerManager
	conlog        *SampledLogger // Consumer hot path
	seslog        *plog.Logger   // Session operations
	log           *plog.Logger   // Default/everything else
)

func init() {
	loggerManager = NewLoggerManager()
	conlog = loggerManager.sampled
	seslog = loggerManager.loggers[SessionLogger]
	log = loggerManager.loggers[DefaultLogger]
}

// DefaultBackoff is the sampling used for repeated hot-path messages.
var DefaultBackoff = logsampler.BackoffConfig{
	InitialInterval: 1 * time.Second,
	MaxInterval:     1 * time.Hour,
	Factor:          1.2,
	ResetInterval:   10 * time.Minute,
}

// NewLoggerManager creates a new logger manager with default settings
func NewLoggerManager() *LoggerManager {
	writer := &plog.IOWriter{Writer: os.Stderr}

	lm := &LoggerManager{
		writer:  writer,
		loggers: make(map[LoggerName]*plog.Logger),
	}
	levels := map[LoggerName]plog.Level{
		ConsumerLogger: plog.WarnLevel, // Higher threshold for hot path
		SessionLogger:  plog.InfoLevel,
		DefaultLogger:  plog.InfoLevel,
	}
	for name, level := range levels {
		lm.loggers[name] = &plog.Logger{
			Level:   level,
			Writer:  writer,
			Context: plog.NewContext(nil).Str("component", string(name)).Value(),
		}
	}

	reporter := &phusluadapter.SummaryReporter{Logger: lm.loggers[DefaultLogger]}
	lm.sampler = logsampler.NewEventDrivenSampler(DefaultBackoff, reporter)
	lm.sampled = phusluadapter.NewSampledLogger(lm.loggers[ConsumerLogger], lm.sampler)

	return lm
}

// SetBaseContext changes the base context for all loggers.
func (lm *LoggerManager) SetBaseContext(ctx []byte) {
	for name, logger := range lm.loggers {
		logger.Context = plog.NewContext(ctx).Str("component", string(name)).Value()
	}
}

// SetSampler changes the active sampler. It closes the previous one.
func (lm *LoggerManager) SetSampler(sampler logsampler.Sampler) {
	if lm.sampler != nil {
		lm.sampler.Close()
	}
	lm.sampler = sampler
	lm.sampled.Sampler = sampler
}

// SetWriter changes the writer for all loggers
func (lm *LoggerManager) SetWriter(writer plog.Writer) {
	lm.writer = writer
	for _, logger := range lm.loggers {
		logger.Writer = writer
	}
}

// SetLogLevels sets the log level for one or more loggers.
// Use the exported LoggerName constants (e.g., etw.ConsumerLogger) as keys.
func (lm *LoggerManager) SetLogLevels(levels map[LoggerName]plog.Level) {
	for name, level := range levels {
		if logger, ok := lm.loggers[name]; ok {
			logger.SetLevel(level)
		}
	}
}

// GetSampler returns the sampler used for hot path logging.
func (lm *LoggerManager) GetSampler() logsampler.Sampler {
	return lm.sampler
}

// SetSampler sets the global sampler for hot-path logging.
func SetSampler(s logsampler.Sampler) { loggerManager.SetSampler(s) }

// SetLogLevels sets the log level for one or more loggers globally.
func SetLogLevels(levels map[LoggerName]plog.Level) {
	loggerManager.SetLogLevels(levels)
}

// SetLogLevelsAll sets all registered loggers to the given level
func SetLogLevelsAll(level plog.Level) {
	for _, logger := range loggerManager.loggers {
		logger.SetLevel(level)
	}
}

func SetLogDebugLevel() { SetLogLevelsAll(plog.DebugLevel) }
func SetLogInfoLevel()  { SetLogLevelsAll(plog.InfoLevel) }
func SetLogWarnLevel()  { SetLogLevelsAll(plog.WarnLevel) }
func SetLogErrorLevel() { SetLogLevelsAll(plog.ErrorLevel) }
func SetLogTraceLevel() { SetLogLevelsAll(plog.TraceLevel) }

// DisableLogging sets all loggers to a level above Panic (no output).
func DisableLogging() {
	SetLogLevelsAll(99)
}

// SetLogWriter sets writer for all loggers
func SetLogWriter(writer plog.Writer) { loggerManager.SetWriter(writer) }

// SetLogBaseContext sets the base context for all loggers
func SetLogBaseContext(ctx []byte) { loggerManager.SetBaseContext(ctx) }

// GetLogManager returns the global logger manager
func GetLogManager() *LoggerManager { return loggerManager }
