package procexit

import (
	"os"

	"github.com/tekert/procexit/etw"
	"github.com/tekert/procexit/logsampler"
	"github.com/tekert/procexit/logsampler/adapters/phusluadapter"

	plog "github.com/phuslu/log"
)

// LoggerName names one of the package loggers.
type LoggerName string

const (
	DecoderLogger LoggerName = "decoder"
	MonitorLogger LoggerName = "monitor"
)

// LoggerManager owns the procexit loggers. The decoder logger runs on the
// trace worker and is sampled.
type LoggerManager struct {
	writer  plog.Writer
	sampler logsampler.Sampler
	loggers map[LoggerName]*plog.Logger
	sampled *phusluadapter.SampledLogger
}

var (
	loggerManager *LoggerManager
	declog        *phusluadapter.SampledLogger // Decoder and notifier hot path
	log           *plog.Logger                 // Monitor lifecycle
)

func init() {
	loggerManager = NewLoggerManager()
	declog = loggerManager.sampled
	log = loggerManager.loggers[MonitorLogger]
}

// NewLoggerManager creates the loggers with their default levels.
func NewLoggerManager() *LoggerManager {
	writer := &plog.IOWriter{Writer: os.Stderr}
	lm := &LoggerManager{
		writer:  writer,
		loggers: make(map[LoggerName]*plog.Logger),
	}
	levels := map[LoggerName]plog.Level{
		DecoderLogger: plog.WarnLevel,
		MonitorLogger: plog.InfoLevel,
	}
	for name, level := range levels {
		lm.loggers[name] = &plog.Logger{
			Level:   level,
			Writer:  writer,
			Context: plog.NewContext(nil).Str("component", string(name)).Value(),
		}
	}

	reporter := &phusluadapter.SummaryReporter{Logger: lm.loggers[MonitorLogger]}
	lm.sampler = logsampler.NewEventDrivenSampler(etw.DefaultBackoff, reporter)
	lm.sampled = phusluadapter.NewSampledLogger(lm.loggers[DecoderLogger], lm.sampler)
	return lm
}

// SetWriter changes the writer of every logger.
func (lm *LoggerManager) SetWriter(writer plog.Writer) {
	lm.writer = writer
	for _, l := range lm.loggers {
		l.Writer = writer
	}
}

// SetLogLevels sets the level of the named loggers, unknown names are ignored.
func (lm *LoggerManager) SetLogLevels(levels map[LoggerName]plog.Level) {
	for name, level := range levels {
		if l, ok := lm.loggers[name]; ok {
			l.SetLevel(level)
		}
	}
}

// SetLogLevelsAll sets every procexit logger to level.
func SetLogLevelsAll(level plog.Level) {
	for _, l := range loggerManager.loggers {
		l.SetLevel(level)
	}
}

// SetLogLevels sets the level of the named procexit loggers.
func SetLogLevels(levels map[LoggerName]plog.Level) { loggerManager.SetLogLevels(levels) }

// SetLogWriter sets the writer of the procexit loggers.
func SetLogWriter(writer plog.Writer) { loggerManager.SetWriter(writer) }

// DisableLogging silences the procexit loggers.
func DisableLogging() { SetLogLevelsAll(99) }

// ConfigureLogging applies the logging section of cfg to procexit and to the
// etw library loggers.
func ConfigureLogging(cfg LoggingConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	libLevel, err := parseLevel(cfg.LibLevel)
	if err != nil {
		return err
	}
	SetLogLevelsAll(level)
	etw.SetLogLevelsAll(libLevel)
	return nil
}
