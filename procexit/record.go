package procexit

import (
	"time"
	"unsafe"

	"github.com/tekert/procexit/etw"
)

// RawRecord is the part of an EventRecord the decoder looks at.
//
// Payload aliases memory owned by ETW when built with RawRecordFrom: it is
// only valid during the record callback and must not be retained.
type RawRecord struct {
	ProviderID etw.GUID
	Opcode     uint8
	Version    uint8
	Flags      uint16
	TimeStamp  int64
	Payload    []byte
}

// RawRecordFrom views er as a RawRecord without copying the payload.
func RawRecordFrom(er *etw.EventRecord) RawRecord {
	h := &er.EventHeader
	rec := RawRecord{
		ProviderID: h.ProviderId,
		Opcode:     h.EventDescriptor.Opcode,
		Version:    h.EventDescriptor.Version,
		Flags:      h.Flags,
		TimeStamp:  h.TimeStamp,
	}
	// Reinterpret the field instead of converting the uintptr so checkptr
	// does not flag memory that was never allocated by Go.
	data := *(*unsafe.Pointer)(unsafe.Pointer(&er.UserData))
	if data != nil && er.UserDataLength > 0 {
		rec.Payload = unsafe.Slice((*byte)(data), int(er.UserDataLength))
	}
	return rec
}

// Time converts the record timestamp. ETW delivers system time (FILETIME)
// unless the trace was opened with raw timestamps.
func (r *RawRecord) Time() time.Time {
	if r.TimeStamp == 0 {
		return time.Time{}
	}
	return etw.FromFiletime(r.TimeStamp)
}
