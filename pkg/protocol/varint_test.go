package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []struct {
		v    uint64
		wire []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{1536, []byte{0x80, 0x0c}},
	}

	for _, tc := range cases {
		got := AppendUvarint(nil, tc.v)
		if !bytes.Equal(got, tc.wire) {
			t.Errorf("AppendUvarint(%d) = %x, want %x", tc.v, got, tc.wire)
		}
		if n := UvarintLen(tc.v); n != len(tc.wire) {
			t.Errorf("UvarintLen(%d) = %d, want %d", tc.v, n, len(tc.wire))
		}

		v, consumed, err := Uvarint(tc.wire, MaxVarintLen32)
		if err != nil {
			t.Fatalf("Uvarint(%x): %v", tc.wire, err)
		}
		if v != tc.v || consumed != len(tc.wire) {
			t.Errorf("Uvarint(%x) = (%d, %d), want (%d, %d)", tc.wire, v, consumed, tc.v, len(tc.wire))
		}
	}
}

func TestUvarintTrailingBytes(t *testing.T) {
	// Decoding must stop at the varint terminator and report how many
	// bytes it consumed, leaving the rest for the payload.
	v, n, err := Uvarint([]byte{0xac, 0x02, 0xde, 0xad}, MaxVarintLen32)
	if err != nil {
		t.Fatalf("Uvarint: %v", err)
	}
	if v != 300 || n != 2 {
		t.Errorf("Uvarint = (%d, %d), want (300, 2)", v, n)
	}
}

func TestUvarintIncomplete(t *testing.T) {
	cases := [][]byte{
		{},
		{0x80},
		{0xff, 0xff},
		{0x80, 0x80, 0x80, 0x80}, // four continuation bytes, width 5 allows one more
	}
	for _, buf := range cases {
		v, n, err := Uvarint(buf, MaxVarintLen32)
		if err != nil {
			t.Errorf("Uvarint(%x): unexpected error %v", buf, err)
		}
		if v != 0 || n != 0 {
			t.Errorf("Uvarint(%x) = (%d, %d), want incomplete (0, 0)", buf, v, n)
		}
	}
}

func TestUvarintOverflow(t *testing.T) {
	cases := [][]byte{
		{0x80, 0x80, 0x80, 0x80, 0x80},       // five continuation bytes, no terminator in width
		{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, // terminator beyond the width limit
	}
	for _, buf := range cases {
		_, _, err := Uvarint(buf, MaxVarintLen32)
		if !errors.Is(err, ErrVarintOverflow) {
			t.Errorf("Uvarint(%x): err = %v, want ErrVarintOverflow", buf, err)
		}
	}
}

func TestUvarintTerminatesAtWidthLimit(t *testing.T) {
	// A varint whose final byte lands exactly on the width limit is valid.
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0x0f} // max uint32
	v, n, err := Uvarint(buf, MaxVarintLen32)
	if err != nil {
		t.Fatalf("Uvarint: %v", err)
	}
	if v != 0xffffffff || n != 5 {
		t.Errorf("Uvarint = (%#x, %d), want (0xffffffff, 5)", v, n)
	}
}
