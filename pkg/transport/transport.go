package transport

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by WriteChunk and ReadChunk after the
// transport has been closed locally.
var ErrTransportClosed = errors.New("flipperbridge: transport is closed")

// Transport is the abstract byte-level link between a session and a
// physical connection. Each implementation delivers the raw stream in
// whatever chunking the medium produces — BLE notifications arrive as
// discrete MTU-sized chunks, a serial port as arbitrary byte runs — and
// the session's frame codec absorbs both without transport-specific logic.
type Transport interface {
	// WriteChunk transmits p on the link. The bytes of a single call are
	// written contiguously; the caller is responsible for serializing
	// concurrent writers. The context may carry deadlines or cancellation.
	WriteChunk(ctx context.Context, p []byte) error

	// ReadChunk blocks until the next run of raw bytes arrives and returns
	// it. It returns io.EOF when the peer cleanly ends the stream, and
	// ErrTransportClosed after a local Close. The returned slice is owned
	// by the caller.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Close shuts down the link and releases its resources. It is
	// idempotent and safe to call concurrently with WriteChunk/ReadChunk;
	// blocked operations return an error.
	Close() error
}
