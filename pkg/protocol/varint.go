package protocol

// MaxVarintLen32 is the maximum number of bytes a varint needs to represent
// a 32-bit value. Frame lengths live in a 32-bit space, so this is the
// default width limit for length prefixes.
const MaxVarintLen32 = 5

// AppendUvarint appends the varint encoding of v to dst and returns the
// extended slice. The encoding is the usual 7-bits-per-byte, LSB-group-first
// form with the high bit of each byte marking continuation. Any uint64 is
// representable; encoding never fails.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// UvarintLen returns the number of bytes AppendUvarint would emit for v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Uvarint decodes a varint from the front of buf, allowing at most maxWidth
// encoded bytes. It returns the decoded value and the number of bytes
// consumed.
//
// A return of (0, 0, nil) means the buffer ends before the varint does:
// the caller should feed more bytes and retry. ErrVarintOverflow means the
// encoding failed to terminate within maxWidth bytes; no amount of further
// input can repair that, so the caller must treat the stream as corrupt.
// The incomplete/invalid distinction is what lets a streaming decoder tell
// "wait" apart from "fail".
func Uvarint(buf []byte, maxWidth int) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		if i >= maxWidth {
			return 0, 0, ErrVarintOverflow
		}
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	if len(buf) >= maxWidth {
		// maxWidth bytes seen, all with the continuation bit set.
		return 0, 0, ErrVarintOverflow
	}
	return 0, 0, nil
}
