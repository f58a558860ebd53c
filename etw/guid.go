package etw

import (
	"fmt"
	"strconv"

	"github.com/tekert/procexit/internal/hexf"
)

// GUID has the same memory layout as the Windows GUID structure so it can be
// embedded directly in the native records.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var nullGUID = GUID{}

// IsZero reports whether g is the null GUID.
func (g *GUID) IsZero() bool {
	return g.Equals(&nullGUID)
}

// Equals compares two GUIDs field by field.
func (g *GUID) Equals(o *GUID) bool {
	return g.Data1 == o.Data1 &&
		g.Data2 == o.Data2 &&
		g.Data3 == o.Data3 &&
		g.Data4 == o.Data4
}

// AppendText appends the registry form of the GUID, without braces and in
// upper case, to buf.
func (g *GUID) AppendText(buf []byte) []byte {
	buf = hexf.AppendUint32PaddedU(buf, g.Data1)
	buf = append(buf, '-')
	buf = hexf.AppendUint16PaddedU(buf, g.Data2)
	buf = append(buf, '-')
	buf = hexf.AppendUint16PaddedU(buf, g.Data3)
	buf = append(buf, '-')
	buf = hexf.AppendUint8PaddedU(buf, g.Data4[0])
	buf = hexf.AppendUint8PaddedU(buf, g.Data4[1])
	buf = append(buf, '-')
	for _, b := range g.Data4[2:] {
		buf = hexf.AppendUint8PaddedU(buf, b)
	}
	return buf
}

// String returns the GUID in braces, e.g. {3D6FA8D0-FE05-11D0-9DDA-00C04FD7BA7C}.
func (g *GUID) String() string {
	buf := make([]byte, 0, 38)
	buf = append(buf, '{')
	buf = g.AppendText(buf)
	buf = append(buf, '}')
	return string(buf)
}

// StringU is an alias of String kept for symmetry with the hex helpers.
func (g *GUID) StringU() string {
	return g.String()
}

// MustParseGUID parses a GUID and panics on error. Only use it for constants.
func MustParseGUID(s string) *GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// ParseGUID parses a GUID in the 8-4-4-4-12 form, with or without braces.
func ParseGUID(s string) (*GUID, error) {
	if len(s) == 38 {
		if s[0] != '{' || s[37] != '}' {
			return nil, fmt.Errorf("invalid GUID %q: bad braces", s)
		}
		s = s[1:37]
	}
	if len(s) != 36 {
		return nil, fmt.Errorf("invalid GUID %q: bad length %d", s, len(s))
	}
	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return nil, fmt.Errorf("invalid GUID %q: bad separators", s)
	}

	g := &GUID{}
	d1, err := strconv.ParseUint(s[0:8], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	d2, err := strconv.ParseUint(s[9:13], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	d3, err := strconv.ParseUint(s[14:18], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	g.Data1 = uint32(d1)
	g.Data2 = uint16(d2)
	g.Data3 = uint16(d3)

	// Data4 is the 4th group (2 bytes) followed by the 5th group (6 bytes).
	tail := s[19:23] + s[24:36]
	for i := range g.Data4 {
		b, err := strconv.ParseUint(tail[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
		}
		g.Data4[i] = byte(b)
	}
	return g, nil
}
