package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeSingleFrame(t *testing.T) {
	c := NewCodec()
	c.Feed([]byte{0x03, 0x41, 0x42, 0x43})

	frame, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(frame, []byte("ABC")) {
		t.Errorf("frame = %q, want %q", frame, "ABC")
	}
	if c.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", c.Buffered())
	}

	// No second frame is buffered.
	frame, err = c.Next()
	if err != nil || frame != nil {
		t.Errorf("Next = (%v, %v), want (nil, nil)", frame, err)
	}
}

func TestDecodeSplitFeed(t *testing.T) {
	c := NewCodec()

	c.Feed([]byte{0x03, 0x41})
	frame, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if frame != nil {
		t.Fatalf("frame = %q before full payload arrived", frame)
	}

	c.Feed([]byte{0x42, 0x43})
	frame, err = c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(frame, []byte("ABC")) {
		t.Errorf("frame = %q, want %q", frame, "ABC")
	}
}

func TestDecodeSplitPrefix(t *testing.T) {
	// A frame boundary can fall inside the varint prefix itself.
	c := NewCodec()
	payload := bytes.Repeat([]byte{0xaa}, 200) // length 200 needs a 2-byte prefix

	wire, err := c.EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	c.Feed(wire[:1])
	if frame, err := c.Next(); err != nil || frame != nil {
		t.Fatalf("Next after half prefix = (%v, %v), want (nil, nil)", frame, err)
	}

	c.Feed(wire[1:])
	frame, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(frame, payload) {
		t.Errorf("frame mismatch after split prefix")
	}
}

func TestRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 2, 3, 127, 128, 300, 1535, 1536}

	for _, n := range lengths {
		c := NewCodec()
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}

		wire, err := c.EncodeFrame(payload)
		if err != nil {
			t.Fatalf("EncodeFrame(len %d): %v", n, err)
		}

		c.Feed(wire)
		frame, err := c.Next()
		if err != nil {
			t.Fatalf("Next(len %d): %v", n, err)
		}
		if frame == nil {
			t.Fatalf("Next(len %d) = nil, want frame", n)
		}
		if !bytes.Equal(frame, payload) {
			t.Errorf("round-trip mismatch at len %d", n)
		}
	}
}

func TestZeroLengthFrame(t *testing.T) {
	c := NewCodec()
	wire, err := c.EncodeFrame(nil)
	if err != nil {
		t.Fatalf("EncodeFrame(nil): %v", err)
	}
	if !bytes.Equal(wire, []byte{0x00}) {
		t.Errorf("wire = %x, want 00", wire)
	}

	c.Feed(wire)
	frame, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if frame == nil || len(frame) != 0 {
		t.Errorf("frame = %v, want empty non-nil frame", frame)
	}
}

func TestFragmentationInvariance(t *testing.T) {
	// Feeding the wire bytes in chunks of every size must decode the same
	// frame sequence as feeding them all at once.
	payloads := [][]byte{
		{},
		[]byte("A"),
		[]byte("hello"),
		bytes.Repeat([]byte{0x5a}, 321),
	}

	var wire []byte
	enc := NewCodec()
	for _, p := range payloads {
		var err error
		wire, err = enc.AppendFrame(wire, p)
		if err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
	}

	for chunk := 1; chunk <= len(wire); chunk++ {
		c := NewCodec()
		var got [][]byte

		for off := 0; off < len(wire); off += chunk {
			end := off + chunk
			if end > len(wire) {
				end = len(wire)
			}
			c.Feed(wire[off:end])
			for {
				frame, err := c.Next()
				if err != nil {
					t.Fatalf("chunk %d: Next: %v", chunk, err)
				}
				if frame == nil {
					break
				}
				got = append(got, frame)
			}
		}

		if len(got) != len(payloads) {
			t.Fatalf("chunk %d: decoded %d frames, want %d", chunk, len(got), len(payloads))
		}
		for i := range payloads {
			if !bytes.Equal(got[i], payloads[i]) {
				t.Errorf("chunk %d: frame %d mismatch", chunk, i)
			}
		}
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	c := NewCodec(WithMaxFrameLen(2))
	c.Feed([]byte{0x03, 0x41, 0x42, 0x43})

	_, err := c.Next()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Next: err = %v, want ErrFrameTooLarge", err)
	}

	// The failure is sticky: the stream is desynchronized and feeding more
	// bytes must not resurrect it.
	c.Feed([]byte{0x01, 0x41})
	if _, err := c.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Next after failure: err = %v, want ErrFrameTooLarge", err)
	}
	if !errors.Is(c.Err(), ErrFrameTooLarge) {
		t.Errorf("Err = %v, want ErrFrameTooLarge", c.Err())
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	c := NewCodec(WithMaxFrameLen(4))
	_, err := c.EncodeFrame([]byte("hello"))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("EncodeFrame: err = %v, want ErrFrameTooLarge", err)
	}

	// A rejected encode must not poison the codec for valid frames.
	wire, err := c.EncodeFrame([]byte("hi"))
	if err != nil {
		t.Fatalf("EncodeFrame after rejection: %v", err)
	}
	c.Feed(wire)
	frame, err := c.Next()
	if err != nil || !bytes.Equal(frame, []byte("hi")) {
		t.Errorf("Next = (%q, %v), want (%q, nil)", frame, err, "hi")
	}
}

func TestDecodeMalformedVarint(t *testing.T) {
	c := NewCodec()
	c.Feed(bytes.Repeat([]byte{0xff}, MaxVarintLen32+1))

	_, err := c.Next()
	if !errors.Is(err, ErrMalformedVarint) {
		t.Fatalf("Next: err = %v, want ErrMalformedVarint", err)
	}
	if !errors.Is(c.Err(), ErrMalformedVarint) {
		t.Errorf("Err = %v, want ErrMalformedVarint", c.Err())
	}
}

func TestMultipleFramesSingleFeed(t *testing.T) {
	c := NewCodec()
	c.Feed([]byte{
		0x02, 0x01, 0x02, // frame 1
		0x00,             // frame 2, empty
		0x01, 0xff,       // frame 3
	})

	want := [][]byte{{0x01, 0x02}, {}, {0xff}}
	for i, w := range want {
		frame, err := c.Next()
		if err != nil {
			t.Fatalf("Next[%d]: %v", i, err)
		}
		if frame == nil {
			t.Fatalf("Next[%d] = nil, want %x", i, w)
		}
		if !bytes.Equal(frame, w) {
			t.Errorf("frame[%d] = %x, want %x", i, frame, w)
		}
	}

	if frame, err := c.Next(); frame != nil || err != nil {
		t.Errorf("trailing Next = (%v, %v), want (nil, nil)", frame, err)
	}
}

func TestBufferedTracksPartialFrame(t *testing.T) {
	c := NewCodec()
	c.Feed([]byte{0x05, 0x01, 0x02})
	if _, err := c.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c.Buffered() != 3 {
		t.Errorf("Buffered = %d, want 3", c.Buffered())
	}
}

func FuzzCodecRoundTrip(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("ABC"))
	f.Add(bytes.Repeat([]byte{0x00}, 1536))

	f.Fuzz(func(t *testing.T, payload []byte) {
		c := NewCodec()
		wire, err := c.EncodeFrame(payload)
		if err != nil {
			if len(payload) <= c.MaxFrameLen() {
				t.Fatalf("EncodeFrame rejected in-bounds payload: %v", err)
			}
			return
		}

		c.Feed(wire)
		frame, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !bytes.Equal(frame, payload) {
			t.Fatalf("round-trip mismatch: got %x, want %x", frame, payload)
		}
		if c.Buffered() != 0 {
			t.Fatalf("Buffered = %d after full frame", c.Buffered())
		}
	})
}

func FuzzDecodeArbitraryBytes(f *testing.F) {
	f.Add([]byte{0x03, 0x41, 0x42, 0x43})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	f.Add([]byte{0x00, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Decoding arbitrary garbage must terminate without panicking and
		// without returning frames beyond the configured maximum.
		c := NewCodec()
		c.Feed(data)
		for {
			frame, err := c.Next()
			if err != nil {
				return
			}
			if frame == nil {
				return
			}
			if len(frame) > c.MaxFrameLen() {
				t.Fatalf("decoded frame of %d bytes exceeds maximum", len(frame))
			}
		}
	})
}
