package procexit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tekert/procexit/etw"
)

// ErrNotRunning is returned by the session queries of a stopped Monitor.
var ErrNotRunning = errors.New("procexit: monitor not running")

// Option configures a Monitor.
type Option func(*Monitor)

// WithTraceAPI makes the monitor use api instead of advapi32. Tests use it
// with an in-memory fake.
func WithTraceAPI(api etw.TraceAPI) Option {
	return func(m *Monitor) { m.api = api }
}

// Monitor reports every process that exits on the machine.
//
// Start creates the kernel session and the consumer worker; records are
// decoded and published on that worker, in the order ETW delivers them.
type Monitor struct {
	cfg Config
	api etw.TraceAPI

	mu       sync.Mutex // Start/Stop
	running  bool
	session  *etw.KernelSession
	consumer *etw.Consumer

	notifier Notifier
	diag     atomic.Pointer[DiagnosticFunc]

	received       atomic.Uint64
	decoded        atomic.Uint64
	unknownVersion atomic.Uint64
	lostEvents     atomic.Uint64
	rejected       map[string]*atomic.Uint64 // fixed key set, built by NewMonitor
}

// NewMonitor returns a stopped monitor. A nil cfg means DefaultConfig.
func NewMonitor(cfg *Config, opts ...Option) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Monitor{
		cfg:      *cfg,
		rejected: make(map[string]*atomic.Uint64, len(Reasons)+1),
	}
	for _, r := range Reasons {
		m.rejected[r] = new(atomic.Uint64)
	}
	m.rejected[ReasonUnknown] = new(atomic.Uint64)
	for _, opt := range opts {
		opt(m)
	}

	var (
		sesOpts []etw.SessionOption
		conOpts = []etw.ConsumerOption{etw.WithStopTimeout(m.cfg.Consumer.StopTimeout.Duration)}
	)
	if m.api != nil {
		sesOpts = append(sesOpts, etw.WithTraceAPI(m.api))
		conOpts = append(conOpts, etw.WithConsumerTraceAPI(m.api))
	}
	if m.cfg.Consumer.HighPriority {
		conOpts = append(conOpts, etw.WithThreadPriority(etw.THREAD_PRIORITY_ABOVE_NORMAL))
	}
	m.session = etw.NewKernelSession(m.cfg.Session.Name, sesOpts...)
	m.consumer = etw.NewConsumer(m.session.TraceName(), conOpts...)
	return m
}

// Config returns a copy of the monitor configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Start starts the kernel session and the consumer. Errors are fatal for
// this attempt; a *etw.SessionStartError with ERROR_ACCESS_DENIED means the
// process is not elevated.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return etw.ErrSessionRunning
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("procexit: invalid config: %w", err)
	}

	s := m.cfg.Session
	if s.StopExisting {
		m.session.StopExisting()
	}
	if _, err := m.session.Start(s.BufferSizeKB, s.MinBuffers, s.MaxBuffers); err != nil {
		return fmt.Errorf("procexit: failed to start session: %w", err)
	}
	if err := m.consumer.OpenAndRun(m.onRecord); err != nil {
		m.session.Stop()
		return fmt.Errorf("procexit: failed to open trace: %w", err)
	}
	m.running = true

	log.Info().Str("session", m.session.TraceName()).
		Uint8("pointerWidth", uint8(m.consumer.PointerWidth())).
		Msg("Process exit monitor started")
	return nil
}

// Stop closes the trace, waits for the worker and stops the session.
// Teardown failures are logged by the etw package and never returned, the
// error is always nil. Stop is idempotent and safe before Start.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.consumer.Stop()
	m.session.Stop()
	m.running = false

	log.Info().Str("session", m.session.TraceName()).
		Uint64("exits", m.decoded.Load()).
		Msg("Process exit monitor stopped")
	return nil
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Done is closed when the consumer worker returns, either after Stop or
// because ProcessTrace failed (the session was stopped from outside).
func (m *Monitor) Done() <-chan struct{} {
	return m.consumer.Done()
}

// Err returns the error ProcessTrace returned, if any.
func (m *Monitor) Err() error {
	return m.consumer.LastError()
}

// Subscribe registers fn for every decoded exit. See Notifier.Subscribe.
func (m *Monitor) Subscribe(fn Subscriber) (unsubscribe func()) {
	return m.notifier.Subscribe(fn)
}

// Diagnostics installs fn as the diagnostics handler, nil removes it. It
// receives the process provider records that did not produce an exit, and
// exits decoded with the fallback layout of an unknown version.
//
// The handler is only called when the configuration has diagnostics.enabled.
func (m *Monitor) Diagnostics(fn DiagnosticFunc) {
	if fn == nil {
		m.diag.Store(nil)
		return
	}
	m.diag.Store(&fn)
}

func (m *Monitor) diagnostics() *DiagnosticFunc {
	if !m.cfg.Diagnostics.Enabled {
		return nil
	}
	return m.diag.Load()
}

// SessionProperties queries the running session statistics.
func (m *Monitor) SessionProperties() (*etw.SessionProperties, error) {
	if !m.session.IsStarted() {
		return nil, ErrNotRunning
	}
	return m.session.Query()
}

func (m *Monitor) onRecord(er *etw.EventRecord, width etw.PointerWidth) {
	m.received.Add(1)
	rec := RawRecordFrom(er)

	if rec.ProviderID.Equals(etw.EventTraceGuid) {
		m.traceEvent(&rec)
	}

	exit, err := DecodeRecord(rec, width)
	if err != nil {
		m.reject(&rec, err)
		return
	}
	m.decoded.Add(1)
	m.notifier.Publish(exit)

	if rec.Version > LatestKnownVersion {
		m.unknownVersion.Add(1)
		declog.SampledWarn("unknown-version").
			Uint8("version", rec.Version).
			Msg("process end event decoded with the latest known layout")
		if fn := m.diagnostics(); fn != nil {
			d := newDiagnostic(DiagUnknownVersion, &rec, m.cfg.Diagnostics.HexLimit, nil)
			d.PID = exit.PID
			(*fn)(d)
		}
	}
}

// traceEvent handles the header records of the session itself. The only
// interesting ones report real-time buffers ETW dropped.
func (m *Monitor) traceEvent(rec *RawRecord) {
	switch rec.Opcode {
	case etw.EVENT_TRACE_TYPE_RT_LOST_EVENT,
		etw.EVENT_TRACE_TYPE_RT_LOST_BUFFER,
		etw.EVENT_TRACE_TYPE_RT_LOST_FILE:
		m.lostEvents.Add(1)
		declog.SampledWarn("rt-lost").
			Uint8("opcode", rec.Opcode).
			Msg("real-time events lost, the consumer is falling behind")
	}
}

func (m *Monitor) reject(rec *RawRecord, err error) {
	reason := RejectReason(err)
	m.rejected[reason].Add(1)

	switch reason {
	case ReasonForeignProvider:
		return
	case ReasonOtherOpcode:
		if fn := m.diagnostics(); fn != nil {
			(*fn)(newDiagnostic(DiagOtherOpcode, rec, m.cfg.Diagnostics.HexLimit, err))
		}
		return
	}

	declog.SampledDebug("decode-"+reason).
		Err(err).
		Uint8("version", rec.Version).
		Int("payloadLen", len(rec.Payload)).
		Msg("process end event dropped")
	if fn := m.diagnostics(); fn != nil {
		(*fn)(newDiagnostic(DiagRejected, rec, m.cfg.Diagnostics.HexLimit, err))
	}
}

// Stats is a snapshot of the monitor counters.
type Stats struct {
	Running          bool
	PointerWidth     etw.PointerWidth
	RecordsReceived  uint64
	ExitsDecoded     uint64
	UnknownVersion   uint64
	RealTimeLost     uint64 // RT_Lost{Event,Buffer,File} records seen
	Rejected         map[string]uint64
	ConsumerErrors   uint64
	SubscriberPanics uint64
	BuffersRead      uint64
}

// Stats returns the current counters.
func (m *Monitor) Stats() Stats {
	st := Stats{
		Running:          m.Running(),
		PointerWidth:     m.consumer.PointerWidth(),
		RecordsReceived:  m.received.Load(),
		ExitsDecoded:     m.decoded.Load(),
		UnknownVersion:   m.unknownVersion.Load(),
		RealTimeLost:     m.lostEvents.Load(),
		Rejected:         make(map[string]uint64, len(m.rejected)),
		ConsumerErrors:   m.consumer.ErrorEvents.Load(),
		SubscriberPanics: m.notifier.Panics.Load(),
		BuffersRead:      m.consumer.BuffersRead.Load(),
	}
	for reason, c := range m.rejected {
		st.Rejected[reason] = c.Load()
	}
	return st
}
