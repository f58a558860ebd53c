package etw

import (
	"strings"
	"time"
	"unicode/utf16"
)

const FiletimeEpoch = 116444736000000000

// FromFiletime converts a Windows FILETIME (100-nanosecond intervals since
// 1601) to a time.Time.
//
//go:inline
func FromFiletime(fileTime int64) time.Time {
	return time.Unix(0, (fileTime-FiletimeEpoch)*100)
}

// FromFiletimeUTC is FromFiletime in UTC.
//
//go:inline
func FromFiletimeUTC(fileTime int64) time.Time {
	return FromFiletime(fileTime).UTC()
}

// ToFiletime is the inverse of FromFiletime.
func ToFiletime(t time.Time) int64 {
	return t.UnixNano()/100 + FiletimeEpoch
}

// utf16FromString returns the NUL terminated UTF-16 encoding of s.
// It fails if s contains a NUL byte.
func utf16FromString(s string) ([]uint16, error) {
	if strings.IndexByte(s, 0) != -1 {
		return nil, ERROR_INVALID_PARAMETER
	}
	return append(utf16.Encode([]rune(s)), 0), nil
}

// utf16PtrFromString is the portable form of syscall.UTF16PtrFromString.
func utf16PtrFromString(s string) (*uint16, error) {
	a, err := utf16FromString(s)
	if err != nil {
		return nil, err
	}
	return &a[0], nil
}

// utf16ToString decodes s up to the first NUL.
func utf16ToString(s []uint16) string {
	for i, v := range s {
		if v == 0 {
			s = s[:i]
			break
		}
	}
	return string(utf16.Decode(s))
}

// UTF16Len returns the number of UTF-16 units needed to encode s, without
// the terminator.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
