package procexit

import (
	"github.com/tekert/procexit/etw"
	"github.com/tekert/procexit/internal/hexf"
)

// DiagnosticKind says why a record was reported on the diagnostics channel.
type DiagnosticKind uint8

const (
	// DiagOtherOpcode is a process provider record that is not an end event
	// (start, rundown...).
	DiagOtherOpcode DiagnosticKind = iota + 1
	// DiagRejected is a process end record the decoder could not use.
	DiagRejected
	// DiagUnknownVersion is a process end record decoded with the fallback
	// layout of an unknown schema version.
	DiagUnknownVersion
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagOtherOpcode:
		return "other_opcode"
	case DiagRejected:
		return "rejected"
	case DiagUnknownVersion:
		return "unknown_version"
	}
	return "unknown"
}

// Diagnostic describes one process provider record for troubleshooting. It
// owns its data, unlike the record it was built from.
type Diagnostic struct {
	Kind       DiagnosticKind
	Opcode     uint8
	OpcodeName string
	Version    uint8
	PID        uint32 // set for DiagUnknownVersion
	PayloadLen int
	Hex        string
	Reason     string
}

// DiagnosticFunc receives diagnostics on the trace worker goroutine.
type DiagnosticFunc func(Diagnostic)

func newDiagnostic(kind DiagnosticKind, rec *RawRecord, hexLimit int, err error) Diagnostic {
	d := Diagnostic{
		Kind:       kind,
		Opcode:     rec.Opcode,
		OpcodeName: etw.OpcodeName(rec.Opcode),
		Version:    rec.Version,
		PayloadLen: len(rec.Payload),
		Hex:        hexf.Dump(rec.Payload, hexLimit),
	}
	if err != nil {
		d.Reason = RejectReason(err)
	}
	return d
}
