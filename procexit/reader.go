package procexit

import (
	"bytes"
	"encoding/binary"
)

// payloadReader is a read-only view over an event payload. Every accessor
// validates offset and length before touching the slice.
type payloadReader struct {
	buf []byte
}

func (r payloadReader) Len() int { return len(r.buf) }

// Uint8 reads one byte at off.
func (r payloadReader) Uint8(off int) (uint8, error) {
	if off < 0 || off >= len(r.buf) {
		return 0, ErrOutOfBounds
	}
	return r.buf[off], nil
}

// Uint32 reads a little-endian uint32 at off.
func (r payloadReader) Uint32(off int) (uint32, error) {
	if off < 0 || off > len(r.buf)-4 {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint32(r.buf[off:]), nil
}

// CString returns the bytes from off up to the first NUL or the end of the
// payload. off == Len() yields an empty string.
func (r payloadReader) CString(off int) (string, error) {
	if off < 0 || off > len(r.buf) {
		return "", ErrOutOfBounds
	}
	s := r.buf[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}

// Skip returns off+n clamped to the payload length.
func (r payloadReader) Skip(off, n int) int {
	if n < 0 {
		n = 0
	}
	if off+n > len(r.buf) {
		return len(r.buf)
	}
	return off + n
}
