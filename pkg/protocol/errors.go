package protocol

import "errors"

// Protocol-level failure modes. All of these are fatal to the connection
// that produced them: a stream that has desynchronized from its length
// prefixes cannot be resynchronized, so the owning session must be torn
// down and re-established.
var (
	// ErrFrameTooLarge is returned when a frame's declared (or requested)
	// payload length exceeds the codec's configured maximum.
	ErrFrameTooLarge = errors.New("flipperbridge: frame exceeds maximum length")

	// ErrMalformedVarint is returned when a length prefix is not a valid
	// varint within the configured maximum width.
	ErrMalformedVarint = errors.New("flipperbridge: malformed varint length prefix")

	// ErrVarintOverflow is returned by Uvarint when an encoding does not
	// terminate within the permitted byte width.
	ErrVarintOverflow = errors.New("flipperbridge: varint exceeds maximum width")

	// ErrTruncatedStream is reported when the transport reaches end-of-stream
	// while a partial frame is still buffered. The tail bytes are lost, and
	// the peer's framing state is unknown.
	ErrTruncatedStream = errors.New("flipperbridge: stream truncated mid-frame")
)
