package etw_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tekert/procexit/etw"
	"github.com/tekert/procexit/internal/test"
)

func TestGUID(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	// with curly brackets
	guid := "{3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c}"
	g, err := etw.ParseGUID(guid)
	tt.CheckErr(err)
	tt.Assert(!g.IsZero())
	tt.Assert(strings.EqualFold(guid, g.StringU()))
	tt.Equal(uint32(0x3d6fa8d0), g.Data1)
	tt.Equal(uint16(0xfe05), g.Data2)
	tt.Equal(uint16(0x11d0), g.Data3)
	tt.Equal([8]byte{0x9d, 0xda, 0x00, 0xc0, 0x4f, 0xd7, 0xba, 0x7c}, g.Data4)

	guid = "9e814aad-3204-11d2-9a82-006008a86939"
	g, err = etw.ParseGUID(guid)
	tt.CheckErr(err)
	tt.Assert(strings.EqualFold(fmt.Sprintf("{%s}", guid), g.String()))
	tt.Assert(g.Equals(etw.SystemTraceControlGuid))

	g, err = etw.ParseGUID("00000000-0000-0000-0000-000000000000")
	tt.CheckErr(err)
	tt.Assert(g.IsZero())
}

func TestParseGUID_ErrorCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"Empty String", ""},
		{"Incorrect Length (Short)", "54849625-5478-4994-a5ba-3e3b0328c30"},
		{"Incorrect Length (Long)", "54849625-5478-4994-a5ba-3e3b0328c30dd"},
		{"Mismatched Braces (Missing Closing)", "{45d8cccd-539f-4b72-a8b7-5c683142609a"},
		{"Mismatched Braces (Missing Opening)", "45d8cccd-539f-4b72-a8b7-5c683142609a}"},
		{"Wrong Braces", "[45d8cccd-539f-4b72-a8b7-5c683142609a]"},
		{"Invalid Separator (Correct Length)", "45d8cccd-539f-4b72-a8b7 5c683142609a"},
		{"Missing Hyphens", "45d8cccd539f4b72a8b75c683142609a"},
		{"Invalid Hex Character", "{45d8cccd-539f-4b72-a8b7-5c683142609g}"},
		{"Invalid Hex In Data2", "45d8cccd-539x-4b72-a8b7-5c683142609a"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := etw.ParseGUID(tc.input); err == nil {
				t.Errorf("ParseGUID(%q) expected an error", tc.input)
			}
		})
	}
}

func TestGUIDEquality(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	a := etw.MustParseGUID("{3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c}")
	b := *a
	tt.Assert(a.Equals(&b))
	b.Data4[7]++
	tt.Assert(!a.Equals(&b))
	tt.Assert(!a.Equals(etw.SystemTraceControlGuid))
}

func TestGUIDAppendText(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	buf := etw.ProcessKernelGuid.AppendText([]byte("provider="))
	tt.Equal("provider=3D6FA8D0-FE05-11D0-9DDA-00C04FD7BA7C", string(buf))
}

func TestMustParseGUIDPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("MustParseGUID should panic on invalid input")
		}
	}()
	etw.MustParseGUID("not-a-guid")
}

func BenchmarkGUIDString(b *testing.B) {
	g := etw.ProcessKernelGuid
	b.ReportAllocs()
	for b.Loop() {
		_ = g.String()
	}
}

func BenchmarkParseGUID(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_, _ = etw.ParseGUID("{3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c}")
	}
}
