// Package hexf holds the hex helpers used for GUID formatting and for the raw
// payload dumps emitted on the diagnostics channel.
package hexf

import "strconv"

var hextableUpper = [16]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'A', 'B', 'C', 'D', 'E', 'F'}

// EncodeU writes the uppercase hex form of src into dst and returns the
// number of bytes written. len(dst) must be at least 2*len(src).
func EncodeU(dst, src []byte) int {
	j := 0
	for _, v := range src {
		dst[j] = hextableUpper[v>>4]
		dst[j+1] = hextableUpper[v&0x0f]
		j += 2
	}
	return len(src) * 2
}

// EncodeToStringU returns the uppercase hex form of src.
func EncodeToStringU(src []byte) string {
	dst := make([]byte, len(src)*2)
	EncodeU(dst, src)
	return string(dst)
}

// encodeUintPadded writes n as size*2 uppercase hex digits into dst.
func encodeUintPadded(dst []byte, n uint64, size int) {
	for i := size*2 - 1; i >= 0; i -= 2 {
		val := byte(n)
		dst[i-1] = hextableUpper[val>>4]
		dst[i] = hextableUpper[val&0x0F]
		n >>= 8
	}
}

// AppendUint32PaddedU appends n as 8 zero-padded uppercase hex digits.
func AppendUint32PaddedU(dst []byte, n uint32) []byte {
	var b [8]byte
	encodeUintPadded(b[:], uint64(n), 4)
	return append(dst, b[:]...)
}

// AppendUint16PaddedU appends n as 4 zero-padded uppercase hex digits.
func AppendUint16PaddedU(dst []byte, n uint16) []byte {
	var b [4]byte
	encodeUintPadded(b[:], uint64(n), 2)
	return append(dst, b[:]...)
}

// AppendUint8PaddedU appends n as 2 uppercase hex digits.
func AppendUint8PaddedU(dst []byte, n uint8) []byte {
	var b [2]byte
	encodeUintPadded(b[:], uint64(n), 1)
	return append(dst, b[:]...)
}

const dumpWidth = 16

// AppendDump appends a classic offset/hex/ascii dump of src to dst, 16 bytes
// per line. At most limit bytes of src are dumped when limit > 0; a final
// "... N more bytes" line notes the truncation.
//
//	0000  04 00 00 00 E1 10 00 00  00 00 00 00 01 00 00 00  |................|
func AppendDump(dst, src []byte, limit int) []byte {
	rest := 0
	if limit > 0 && len(src) > limit {
		rest = len(src) - limit
		src = src[:limit]
	}

	for off := 0; off < len(src); off += dumpWidth {
		line := src[off:min(off+dumpWidth, len(src))]

		dst = AppendUint16PaddedU(dst, uint16(off))
		dst = append(dst, ' ', ' ')
		for i := range dumpWidth {
			if i == dumpWidth/2 {
				dst = append(dst, ' ')
			}
			if i < len(line) {
				dst = AppendUint8PaddedU(dst, line[i])
				dst = append(dst, ' ')
			} else {
				dst = append(dst, ' ', ' ', ' ')
			}
		}
		dst = append(dst, ' ', '|')
		for _, c := range line {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			dst = append(dst, c)
		}
		dst = append(dst, '|', '\n')
	}

	if rest > 0 {
		dst = append(dst, "... "...)
		dst = strconv.AppendInt(dst, int64(rest), 10)
		dst = append(dst, " more bytes\n"...)
	}
	return dst
}

// Dump returns AppendDump(nil, src, limit) as a string.
func Dump(src []byte, limit int) string {
	return string(AppendDump(make([]byte, 0, (len(src)/dumpWidth+2)*80), src, limit))
}
