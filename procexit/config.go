package procexit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tekert/procexit/etw"

	plog "github.com/phuslu/log"
)

// Config is the monitor configuration, loadable from TOML.
type Config struct {
	Session     SessionConfig     `toml:"session"`
	Consumer    ConsumerConfig    `toml:"consumer"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Logging     LoggingConfig     `toml:"logging"`
}

// SessionConfig controls the kernel trace session.
type SessionConfig struct {
	// Session name. "NT Kernel Logger" works on every Windows version, any
	// other name creates a system logger session (Windows 8+).
	Name string `toml:"name"`

	// Size of each trace buffer, in KB (default: 64)
	BufferSizeKB uint32 `toml:"buffer_size_kb"`

	MinBuffers uint32 `toml:"min_buffers"`
	MaxBuffers uint32 `toml:"max_buffers"`

	// Stop a leftover session with the same name before starting (default: true)
	StopExisting bool `toml:"stop_existing"`
}

// ConsumerConfig controls the trace consumer.
type ConsumerConfig struct {
	// How long Stop waits for the worker to return from ProcessTrace.
	StopTimeout Duration `toml:"stop_timeout"`

	// Run the worker thread at THREAD_PRIORITY_ABOVE_NORMAL.
	HighPriority bool `toml:"high_priority"`
}

// DiagnosticsConfig controls the raw record side channel.
type DiagnosticsConfig struct {
	// Deliver diagnostics to the handler set with Monitor.Diagnostics.
	Enabled bool `toml:"enabled"`

	// Maximum number of payload bytes in a hex dump, 0 for all.
	HexLimit int `toml:"hex_limit"`
}

// LoggingConfig holds the log levels: trace, debug, info, warn, error.
type LoggingConfig struct {
	Level    string `toml:"level"`
	LibLevel string `toml:"lib_level"`
}

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Name:         etw.NtKernelLogger,
			BufferSizeKB: 64,
			MinBuffers:   4,
			MaxBuffers:   32,
			StopExisting: true,
		},
		Consumer: ConsumerConfig{
			StopTimeout:  Duration{etw.DefaultStopTimeout},
			HighPriority: false,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:  false,
			HexLimit: 256,
		},
		Logging: LoggingConfig{
			Level:    "info",
			LibLevel: "warn",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undec[0].String(), path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML, creating the directory if needed.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", path, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	n := etw.UTF16Len(c.Session.Name)
	if n == 0 {
		return fmt.Errorf("session.name cannot be empty")
	}
	if n >= etw.MaxLoggerNameLen {
		return fmt.Errorf("session.name is %d UTF-16 units, max %d", n, etw.MaxLoggerNameLen-1)
	}
	if c.Session.BufferSizeKB == 0 {
		return fmt.Errorf("session.buffer_size_kb must be greater than 0")
	}
	if c.Session.MinBuffers == 0 {
		return fmt.Errorf("session.min_buffers must be greater than 0")
	}
	if c.Session.MaxBuffers < c.Session.MinBuffers {
		return fmt.Errorf("session.max_buffers (%d) is lower than session.min_buffers (%d)",
			c.Session.MaxBuffers, c.Session.MinBuffers)
	}
	if c.Consumer.StopTimeout.Duration <= 0 {
		return fmt.Errorf("consumer.stop_timeout must be positive")
	}
	if c.Diagnostics.HexLimit < 0 {
		return fmt.Errorf("diagnostics.hex_limit cannot be negative")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := parseLevel(c.Logging.LibLevel); err != nil {
		return fmt.Errorf("logging.lib_level: %w", err)
	}
	return nil
}

// parseLevel converts a level name to a phuslu level. Empty means info.
func parseLevel(s string) (plog.Level, error) {
	switch s {
	case "trace":
		return plog.TraceLevel, nil
	case "debug":
		return plog.DebugLevel, nil
	case "", "info":
		return plog.InfoLevel, nil
	case "warn", "warning":
		return plog.WarnLevel, nil
	case "error":
		return plog.ErrorLevel, nil
	case "fatal":
		return plog.FatalLevel, nil
	}
	return plog.InfoLevel, fmt.Errorf("unknown log level %q", s)
}
