package procexit_test

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/tekert/procexit/etw"
	"github.com/tekert/procexit/internal/etwtest"
	"github.com/tekert/procexit/internal/test"
	"github.com/tekert/procexit/procexit"
)

var (
	widths   = []etw.PointerWidth{etw.PointerWidth32, etw.PointerWidth64}
	versions = []uint8{1, 2, 3, 4, 5}
	noSID    = []byte{0, 0, 0, 0}
)

type exitFields struct {
	pid, ppid, session, status uint32
}

// buildPayload lays out a Process_TypeGroup1 end payload: the fixed fields up
// to UserSID, then sid and image as given.
func buildPayload(version uint8, p etw.PointerWidth, f exitFields, sid []byte, image string, nul bool) []byte {
	pidOff := procexit.PIDOffset(version, p)
	sidOff := procexit.SIDOffset(version, p)

	buf := make([]byte, sidOff)
	// Fill the fields we don't decode so a wrong offset shows.
	for i := range buf {
		buf[i] = 0xCC
	}
	binary.LittleEndian.PutUint32(buf[pidOff:], f.pid)
	binary.LittleEndian.PutUint32(buf[pidOff+4:], f.ppid)
	binary.LittleEndian.PutUint32(buf[pidOff+8:], f.session)
	binary.LittleEndian.PutUint32(buf[pidOff+12:], f.status)
	buf = append(buf, sid...)
	buf = append(buf, image...)
	if nul {
		buf = append(buf, 0)
	}
	return buf
}

func endRecord(version uint8, payload []byte) procexit.RawRecord {
	return procexit.RawRecord{
		ProviderID: *etw.ProcessKernelGuid,
		Opcode:     etw.EVENT_TRACE_TYPE_END,
		Version:    version,
		Payload:    payload,
	}
}

func TestDecodeNotepadV3(t *testing.T) {
	tt := test.FromT(t)

	payload := make([]byte, 40)
	binary.LittleEndian.PutUint32(payload[8:], 4321)
	binary.LittleEndian.PutUint32(payload[20:], 0)
	payload = append(payload, 0, 0, 0, 0)
	payload = append(payload, "C:\\Windows\\System32\\notepad.exe\x00"...)

	tt.Equal(40, procexit.HostOffset(24, 2, etw.PointerWidth64))

	exit, ok := procexit.Decode(endRecord(3, payload), etw.PointerWidth64)
	tt.Assert(ok)
	tt.Equal(uint32(4321), exit.PID)
	tt.Equal(uint32(0), exit.ExitStatus)
	tt.Equal("notepad.exe", exit.ImageName)
}

func TestDecodeRejectsOtherOpcodes(t *testing.T) {
	tt := test.FromT(t)
	payload := buildPayload(3, 8, exitFields{pid: 10}, noSID, `C:\a.exe`, true)

	for _, op := range []uint8{
		etw.EVENT_TRACE_TYPE_INFO,
		etw.EVENT_TRACE_TYPE_START,
		etw.EVENT_TRACE_TYPE_DC_START,
		etw.EVENT_TRACE_TYPE_DC_END,
	} {
		rec := endRecord(3, payload)
		rec.Opcode = op
		_, err := procexit.DecodeRecord(rec, etw.PointerWidth64)
		tt.ExpectErr(err, procexit.ErrNotProcessEnd, "opcode %d", op)
		tt.Equal(procexit.ReasonOtherOpcode, procexit.RejectReason(err))
	}

	rec := endRecord(3, payload)
	rec.ProviderID = *etw.EventTraceGuid
	_, ok := procexit.Decode(rec, etw.PointerWidth64)
	tt.Assert(!ok)
	_, err := procexit.DecodeRecord(rec, etw.PointerWidth64)
	tt.ExpectErr(err, procexit.ErrForeignProvider)
}

func TestOffsets(t *testing.T) {
	tt := test.FromT(t)

	for _, p := range widths {
		// Version 1 has no pointer sized fields.
		tt.Equal(4, procexit.PIDOffset(1, p))
		tt.Equal(20, procexit.SIDOffset(1, p))

		for _, v := range []uint8{2, 3, 4, 5, 200} {
			tt.Equal(int(p), procexit.PIDOffset(v, p), "v%d p%d", v, p)
		}
		tt.Equal(20+int(p), procexit.SIDOffset(2, p))
		tt.Equal(24+2*int(p), procexit.SIDOffset(3, p))
		tt.Equal(28+2*int(p)+8, procexit.SIDOffset(4, p))
		// Unknown versions use the version 4 layout.
		tt.Equal(procexit.SIDOffset(4, p), procexit.SIDOffset(5, p))
		tt.Equal(procexit.SIDOffset(4, p), procexit.SIDOffset(255, p))
	}
}

func TestDecodeAllLayouts(t *testing.T) {
	want := exitFields{pid: 0xFFFFFFFC, ppid: 612, session: 1, status: 0xC0000005}

	for _, v := range versions {
		for _, p := range widths {
			t.Run(fmt.Sprintf("v%d_p%d", v, p), func(t *testing.T) {
				tt := test.FromT(t)
				payload := buildPayload(v, p, want, noSID, `\Device\HarddiskVolume3\Tools\app.exe`, true)

				exit, err := procexit.DecodePayload(v, p, payload)
				tt.CheckErr(err)
				tt.Equal(want.pid, exit.PID)
				tt.Equal(want.ppid, exit.ParentPID)
				tt.Equal(want.session, exit.SessionID)
				tt.Equal(want.status, exit.ExitStatus)
				tt.Equal("app.exe", exit.ImageName)
			})
		}
	}
}

func TestDecodeShortPayload(t *testing.T) {
	for _, v := range versions {
		for _, p := range widths {
			t.Run(fmt.Sprintf("v%d_p%d", v, p), func(t *testing.T) {
				tt := test.FromT(t)
				full := buildPayload(v, p, exitFields{pid: 1}, noSID, "a.exe", true)
				sidOff := procexit.SIDOffset(v, p)

				for n := 0; n < sidOff; n++ {
					_, err := procexit.DecodePayload(v, p, full[:n])
					tt.ExpectErr(err, procexit.ErrShortPayload, "len %d", n)
				}

				// The boundary case: one byte short of the SID offset.
				_, ok := procexit.Decode(endRecord(v, full[:sidOff-1]), p)
				tt.Assert(!ok)

				// Exactly at the SID offset the revision byte is missing.
				_, err := procexit.DecodePayload(v, p, full[:sidOff])
				tt.ExpectErr(err, procexit.ErrOutOfBounds)
				tt.Equal(procexit.ReasonOutOfBounds, procexit.RejectReason(err))
			})
		}
	}
}

func TestDecodeSkipsSID(t *testing.T) {
	for _, c := range []uint8{0, 1, 2, 5, 15} {
		t.Run(fmt.Sprintf("subauth_%d", c), func(t *testing.T) {
			tt := test.FromT(t)

			// Revision, count, 6-byte authority, then c sub-authorities.
			sid := []byte{1, c, 0, 0, 0, 0, 0, 5}
			for i := 0; i < int(c); i++ {
				sid = append(sid, 0x15, 0, 0, 0)
			}
			tt.Equal(8+4*int(c), len(sid))

			payload := buildPayload(3, 8, exitFields{pid: 77}, sid, `C:\Program Files\svc.exe`, true)
			exit, err := procexit.DecodePayload(3, 8, payload)
			tt.CheckErr(err)
			tt.Equal(uint32(77), exit.PID)
			tt.Equal("svc.exe", exit.ImageName)
		})
	}
}

func TestDecodeSIDSkipClamped(t *testing.T) {
	tt := test.FromT(t)

	// 255 sub-authorities claimed, only a few bytes present.
	sid := []byte{1, 255, 0, 0, 0, 0, 0, 5, 1, 2, 3}
	payload := buildPayload(2, 4, exitFields{pid: 5}, sid, "", false)

	_, err := procexit.DecodePayload(2, 4, payload)
	tt.ExpectErr(err, procexit.ErrEmptyImageName)
	tt.Equal(procexit.ReasonEmptyImage, procexit.RejectReason(err))

	// Revision byte is the last byte of the payload: the count is missing.
	payload = buildPayload(2, 4, exitFields{pid: 5}, []byte{1}, "", false)
	_, err = procexit.DecodePayload(2, 4, payload)
	tt.ExpectErr(err, procexit.ErrOutOfBounds)

	// A zero revision skips 4 bytes even if fewer are left.
	payload = buildPayload(2, 4, exitFields{pid: 5}, []byte{0, 0}, "", false)
	_, err = procexit.DecodePayload(2, 4, payload)
	tt.ExpectErr(err, procexit.ErrEmptyImageName)
}

func TestDecodeImageName(t *testing.T) {
	tt := test.FromT(t)

	for _, tc := range []struct {
		image string
		nul   bool
		want  string
	}{
		{`C:\Windows\explorer.exe`, true, "explorer.exe"},
		{`C:\Windows\explorer.exe`, false, "explorer.exe"},
		{"System", true, "System"},
		{"Registry\x00garbage", false, "Registry"},
		{`C:/tools/x.exe`, true, "x.exe"},
	} {
		payload := buildPayload(4, 8, exitFields{pid: 1}, noSID, tc.image, tc.nul)
		exit, err := procexit.DecodePayload(4, 8, payload)
		tt.CheckErr(err, tc.image)
		tt.Equal(tc.want, exit.ImageName)
	}

	for _, image := range []string{"", `C:\dir\`} {
		payload := buildPayload(4, 8, exitFields{pid: 1}, noSID, image, true)
		_, err := procexit.DecodePayload(4, 8, payload)
		tt.ExpectErr(err, procexit.ErrEmptyImageName, image)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	tt := test.FromT(t)
	payload := buildPayload(4, 8, exitFields{pid: 1}, noSID, "a.exe", true)

	_, err := procexit.DecodePayload(0, 8, payload)
	tt.ExpectErr(err, procexit.ErrUnsupportedVersion)
	tt.Equal(procexit.ReasonUnsupportedVersion, procexit.RejectReason(err))

	// The offset helpers fold 0 into the version 4 layout, the payload that
	// would decode with it is still refused.
	tt.Equal(procexit.SIDOffset(4, 8), procexit.SIDOffset(0, 8))
	_, ok := procexit.Decode(endRecord(0, payload), 8)
	tt.Assert(!ok)
}

func TestDecodeInvalidWidthFallsBackTo64(t *testing.T) {
	tt := test.FromT(t)
	payload := buildPayload(3, 8, exitFields{pid: 99}, noSID, "a.exe", true)

	exit, err := procexit.DecodePayload(3, 0, payload)
	tt.CheckErr(err)
	tt.Equal(uint32(99), exit.PID)
}

func TestRawRecordFrom(t *testing.T) {
	tt := test.FromT(t)
	payload := buildPayload(3, 8, exitFields{pid: 4321}, noSID, `C:\x\notepad.exe`, true)

	r := etwtest.NewRecord(etw.ProcessKernelGuid, etw.EVENT_TRACE_TYPE_END, 3, payload)
	rec := procexit.RawRecordFrom(&r.EventRecord)
	tt.Assert(rec.ProviderID.Equals(etw.ProcessKernelGuid))
	tt.Equal(uint8(etw.EVENT_TRACE_TYPE_END), rec.Opcode)
	tt.Equal(uint8(3), rec.Version)
	tt.Equal(len(payload), len(rec.Payload))
	tt.Assert(&rec.Payload[0] == &payload[0], "payload must alias the record data")

	exit, ok := procexit.Decode(rec, etw.PointerWidth64)
	tt.Assert(ok)
	tt.Equal("notepad.exe", exit.ImageName)
	tt.Equal(etw.FromFiletime(r.EventRecord.EventHeader.TimeStamp), exit.Timestamp)

	empty := etwtest.NewRecord(etw.ProcessKernelGuid, etw.EVENT_TRACE_TYPE_END, 3, nil)
	tt.Assert(procexit.RawRecordFrom(&empty.EventRecord).Payload == nil)
}

func TestDecodedExitJSON(t *testing.T) {
	tt := test.FromT(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	exit := procexit.DecodedExit{
		PID:        4321,
		ParentPID:  1000,
		ExitStatus: 0xC000013A,
		ImageName:  "notepad.exe",
		Timestamp:  ts,
	}

	b, err := exit.AppendJSON([]byte("exit="))
	tt.CheckErr(err)
	tt.Equal("exit=", string(b[:5]))

	var got map[string]any
	tt.CheckErr(json.Unmarshal(b[5:], &got))
	tt.Equal(float64(4321), got["pid"])
	tt.Equal(float64(0xC000013A), got["exit_status"])
	tt.Equal("notepad.exe", got["image_name"])
	tt.Equal("2024-03-01T12:00:00Z", got["timestamp"])
}
