package procexit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tekert/procexit/etw"
)

// Decode rejections. None of them is fatal, the record is dropped and
// counted.
var (
	ErrForeignProvider    = errors.New("procexit: record is not from the process provider")
	ErrNotProcessEnd      = errors.New("procexit: record is not a process end event")
	ErrUnsupportedVersion = errors.New("procexit: unsupported schema version")
	ErrShortPayload       = errors.New("procexit: payload shorter than the schema layout")
	ErrOutOfBounds        = errors.New("procexit: read past the end of the payload")
	ErrEmptyImageName     = errors.New("procexit: empty image name")
)

// Rejection reasons, as exported in metrics and diagnostics.
const (
	ReasonForeignProvider    = "foreign_provider"
	ReasonOtherOpcode        = "other_opcode"
	ReasonUnsupportedVersion = "unsupported_version"
	ReasonShortPayload       = "short_payload"
	ReasonOutOfBounds        = "out_of_bounds"
	ReasonEmptyImage         = "empty_image"
	ReasonUnknown            = "unknown"
)

// Reasons lists every rejection reason label.
var Reasons = []string{
	ReasonForeignProvider,
	ReasonOtherOpcode,
	ReasonUnsupportedVersion,
	ReasonShortPayload,
	ReasonOutOfBounds,
	ReasonEmptyImage,
}

// RejectReason maps a decode error to its metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrForeignProvider):
		return ReasonForeignProvider
	case errors.Is(err, ErrNotProcessEnd):
		return ReasonOtherOpcode
	case errors.Is(err, ErrUnsupportedVersion):
		return ReasonUnsupportedVersion
	case errors.Is(err, ErrShortPayload):
		return ReasonShortPayload
	case errors.Is(err, ErrOutOfBounds):
		return ReasonOutOfBounds
	case errors.Is(err, ErrEmptyImageName):
		return ReasonEmptyImage
	}
	return ReasonUnknown
}

// LatestKnownVersion is the highest Process_TypeGroup1 schema version with a
// known layout. Higher versions are decoded with its offsets.
const LatestKnownVersion = 4

// DecodedExit is one process termination.
type DecodedExit struct {
	PID        uint32    `json:"pid"`
	ParentPID  uint32    `json:"parent_pid"`
	SessionID  uint32    `json:"session_id"`
	ExitStatus uint32    `json:"exit_status"`
	ImageName  string    `json:"image_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// AppendJSON appends the JSON object form of e to dst.
func (e DecodedExit) AppendJSON(dst []byte) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (e DecodedExit) String() string {
	return fmt.Sprintf("pid=%d ppid=%d status=0x%08X image=%s", e.PID, e.ParentPID, e.ExitStatus, e.ImageName)
}

// HostOffset returns the offset of a field preceded by n bytes of 4-byte
// fields and k pointer sized fields, on a machine with pointer width p.
func HostOffset(n, k int, p etw.PointerWidth) int {
	return n + k*int(p)
}

// PIDOffset is the offset of ProcessId. Version 1 starts with a 4-byte
// PageDirectoryBase, later versions with the pointer sized UniqueProcessKey.
func PIDOffset(version uint8, p etw.PointerWidth) int {
	if version == 1 {
		return 4
	}
	return int(p)
}

// SIDOffset is the offset of the UserSID field.
//
// Versions above LatestKnownVersion use the version 4 layout. That is a best
// effort guess, a new layout may decode into garbage instead of failing.
// Version 0 also maps to the version 4 layout here, but DecodePayload rejects
// it with ErrUnsupportedVersion before any offset is used: no kernel emits it.
func SIDOffset(version uint8, p etw.PointerWidth) int {
	switch version {
	case 1:
		return 20
	case 2:
		return HostOffset(20, 1, p)
	case 3:
		return HostOffset(24, 2, p)
	default:
		return HostOffset(28, 2, p) + 8
	}
}

// DecodePayload decodes a process end payload of the given schema version.
// Version 0 is rejected with ErrUnsupportedVersion, any version above
// LatestKnownVersion is decoded with the version 4 layout.
func DecodePayload(version uint8, p etw.PointerWidth, payload []byte) (DecodedExit, error) {
	if version == 0 {
		return DecodedExit{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if !p.Valid() {
		p = etw.PointerWidth64
	}

	r := payloadReader{buf: payload}
	pidOff := PIDOffset(version, p)
	sidOff := SIDOffset(version, p)
	if r.Len() < sidOff {
		return DecodedExit{}, fmt.Errorf("%w: %d < %d (v%d, p%d)",
			ErrShortPayload, r.Len(), sidOff, version, p)
	}

	var (
		exit DecodedExit
		err  error
	)
	// ProcessId, ParentId, SessionId, ExitStatus.
	if exit.PID, err = r.Uint32(pidOff); err != nil {
		return DecodedExit{}, err
	}
	if exit.ParentPID, err = r.Uint32(pidOff + 4); err != nil {
		return DecodedExit{}, err
	}
	if exit.SessionID, err = r.Uint32(pidOff + 8); err != nil {
		return DecodedExit{}, err
	}
	if exit.ExitStatus, err = r.Uint32(pidOff + 12); err != nil {
		return DecodedExit{}, err
	}

	off, err := skipSID(r, sidOff)
	if err != nil {
		return DecodedExit{}, err
	}

	image, err := r.CString(off)
	if err != nil {
		return DecodedExit{}, err
	}
	exit.ImageName = baseName(image)
	if exit.ImageName == "" {
		return DecodedExit{}, ErrEmptyImageName
	}
	return exit, nil
}

// skipSID returns the offset right after the UserSID field at off.
//
// A revision of zero is a 4-byte NULL placeholder. Otherwise the field is a
// TOKEN_USER pointer pair followed by the SID: 8 bytes plus 4 per
// sub-authority, clamped to the payload.
func skipSID(r payloadReader, off int) (int, error) {
	rev, err := r.Uint8(off)
	if err != nil {
		return 0, err
	}
	if rev == 0 {
		return r.Skip(off, 4), nil
	}
	count, err := r.Uint8(off + 1)
	if err != nil {
		return 0, err
	}
	return r.Skip(off, 8+4*int(count)), nil
}

// baseName strips everything up to the last path separator.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DecodeRecord classifies rec and decodes it when it is a process end event
// of the kernel process provider.
func DecodeRecord(rec RawRecord, p etw.PointerWidth) (DecodedExit, error) {
	if !rec.ProviderID.Equals(etw.ProcessKernelGuid) {
		return DecodedExit{}, ErrForeignProvider
	}
	if rec.Opcode != etw.EVENT_TRACE_TYPE_END {
		return DecodedExit{}, fmt.Errorf("%w: opcode %s", ErrNotProcessEnd, etw.OpcodeName(rec.Opcode))
	}
	exit, err := DecodePayload(rec.Version, p, rec.Payload)
	if err != nil {
		return DecodedExit{}, err
	}
	exit.Timestamp = rec.Time()
	return exit, nil
}

// Decode is DecodeRecord without the rejection reason.
func Decode(rec RawRecord, p etw.PointerWidth) (DecodedExit, bool) {
	exit, err := DecodeRecord(rec, p)
	return exit, err == nil
}
