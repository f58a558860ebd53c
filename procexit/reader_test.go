package procexit

import (
	"testing"

	"github.com/tekert/procexit/internal/test"
)

func TestPayloadReaderBounds(t *testing.T) {
	tt := test.FromT(t)
	r := payloadReader{buf: []byte{0x78, 0x56, 0x34, 0x12, 0xAA}}

	v, err := r.Uint32(0)
	tt.CheckErr(err)
	tt.Equal(uint32(0x12345678), v)

	v, err = r.Uint32(1)
	tt.CheckErr(err)
	tt.Equal(uint32(0xAA123456), v)

	_, err = r.Uint32(2)
	tt.ExpectErr(err, ErrOutOfBounds)
	_, err = r.Uint32(-1)
	tt.ExpectErr(err, ErrOutOfBounds)

	b, err := r.Uint8(4)
	tt.CheckErr(err)
	tt.Equal(uint8(0xAA), b)
	_, err = r.Uint8(5)
	tt.ExpectErr(err, ErrOutOfBounds)

	var empty payloadReader
	_, err = empty.Uint32(0)
	tt.ExpectErr(err, ErrOutOfBounds)
	_, err = empty.Uint8(0)
	tt.ExpectErr(err, ErrOutOfBounds)
}

func TestPayloadReaderCString(t *testing.T) {
	tt := test.FromT(t)
	r := payloadReader{buf: []byte("ab\x00cd")}

	s, err := r.CString(0)
	tt.CheckErr(err)
	tt.Equal("ab", s)

	// No terminator: read to the end.
	s, err = r.CString(3)
	tt.CheckErr(err)
	tt.Equal("cd", s)

	s, err = r.CString(r.Len())
	tt.CheckErr(err)
	tt.Equal("", s)

	_, err = r.CString(r.Len() + 1)
	tt.ExpectErr(err, ErrOutOfBounds)
}

func TestPayloadReaderSkipClamps(t *testing.T) {
	tt := test.FromT(t)
	r := payloadReader{buf: make([]byte, 10)}

	tt.Equal(6, r.Skip(2, 4))
	tt.Equal(10, r.Skip(2, 8))
	tt.Equal(10, r.Skip(2, 1000))
	tt.Equal(2, r.Skip(2, -3))
}

func TestBaseName(t *testing.T) {
	tt := test.FromT(t)
	tt.Equal("notepad.exe", baseName(`C:\Windows\System32\notepad.exe`))
	tt.Equal("sh", baseName("/usr/bin/sh"))
	tt.Equal("mixed.exe", baseName(`\Device\HarddiskVolume3/dir\mixed.exe`))
	tt.Equal("System", baseName("System"))
	tt.Equal("", baseName(`C:\dir\`))
	tt.Equal("", baseName(""))
}
