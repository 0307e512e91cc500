package protocol

// DefaultMaxFrameLen is the largest payload the device-side RPC will accept.
// Value from the Flipper firmware, applications/rpc/rpc.h.
const DefaultMaxFrameLen = 1536

// Codec converts a raw byte stream into complete RPC frames and back.
//
// The wire format is varint(payload length) || payload, no delimiter and no
// checksum. One Codec instance owns the decode buffer for one transport
// connection; Feed and Next must stay on a single goroutine and the codec
// must never be shared across sessions. EncodeFrame and AppendFrame do
// not touch the decode buffer and may run concurrently with decoding.
type Codec struct {
	buf       []byte
	maxFrame  int
	maxVarint int
	failure   error
}

// CodecOption configures a Codec at construction.
type CodecOption func(*Codec)

// WithMaxFrameLen overrides the maximum payload length the codec will
// encode or decode. Lengths beyond this fail with ErrFrameTooLarge.
func WithMaxFrameLen(n int) CodecOption {
	return func(c *Codec) {
		c.maxFrame = n
	}
}

// WithMaxVarintWidth overrides the maximum encoded width of the length
// prefix. Prefixes wider than this fail with ErrMalformedVarint.
func WithMaxVarintWidth(n int) CodecOption {
	return func(c *Codec) {
		c.maxVarint = n
	}
}

// NewCodec returns a Codec with DefaultMaxFrameLen and MaxVarintLen32
// unless overridden by options.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		maxFrame:  DefaultMaxFrameLen,
		maxVarint: MaxVarintLen32,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxFrameLen returns the configured maximum payload length.
func (c *Codec) MaxFrameLen() int {
	return c.maxFrame
}

// Feed appends raw transport bytes to the decode buffer. It never fails;
// bounds are enforced when Next parses the length prefix.
func (c *Codec) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	c.buf = append(c.buf, p...)
}

// Next attempts to extract one complete frame from the front of the decode
// buffer. It returns (nil, nil) when more input is needed — no bytes are
// consumed, and the call is idempotent until the next Feed.
//
// Repeated Feed/Next calls yield every frame exactly once, in arrival
// order. A protocol violation (oversized or malformed length prefix) is
// fatal: Next returns the error, the buffer is discarded, and every
// subsequent call returns the same error.
func (c *Codec) Next() ([]byte, error) {
	if c.failure != nil {
		return nil, c.failure
	}

	length, consumed, err := Uvarint(c.buf, c.maxVarint)
	if err != nil {
		return nil, c.fail(ErrMalformedVarint)
	}
	if consumed == 0 {
		// Prefix not complete yet.
		return nil, nil
	}
	if length > uint64(c.maxFrame) {
		return nil, c.fail(ErrFrameTooLarge)
	}

	total := consumed + int(length)
	if len(c.buf) < total {
		// Prefix parsed, payload still in flight.
		return nil, nil
	}

	payload := make([]byte, length)
	copy(payload, c.buf[consumed:total])
	n := copy(c.buf, c.buf[total:])
	c.buf = c.buf[:n]
	return payload, nil
}

// Buffered returns the number of bytes fed but not yet consumed into a
// complete frame. A non-zero value at end-of-stream means the stream was
// truncated mid-frame.
func (c *Codec) Buffered() int {
	return len(c.buf)
}

// Err returns the sticky decode failure, or nil if the codec is healthy.
func (c *Codec) Err() error {
	return c.failure
}

func (c *Codec) fail(err error) error {
	c.failure = err
	c.buf = nil
	return err
}

// EncodeFrame returns the wire encoding of payload: varint length prefix
// followed by the payload bytes. Payloads longer than the configured
// maximum are rejected with ErrFrameTooLarge so we never emit a frame the
// peer's decoder is guaranteed to refuse.
func (c *Codec) EncodeFrame(payload []byte) ([]byte, error) {
	return c.AppendFrame(nil, payload)
}

// AppendFrame appends the wire encoding of payload to dst and returns the
// extended slice.
func (c *Codec) AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > c.maxFrame {
		return dst, ErrFrameTooLarge
	}
	dst = AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...), nil
}
