package transport

import (
	"context"
	"io"
	"sync"
)

// pipeBuffer is how many chunks each direction of a Pipe can hold before
// WriteChunk blocks.
const pipeBuffer = 16

// PipeTransport is one end of an in-memory, bidirectional chunk pipe. It
// exists for tests and for wiring two sessions back to back without a
// physical link.
type PipeTransport struct {
	send chan<- []byte
	recv <-chan []byte

	localDone chan struct{}
	peerDone  chan struct{}
	closeOnce sync.Once
}

// Pipe returns a connected pair of transports. Chunks written on one end
// arrive, in order and with their boundaries preserved, at the other.
// Closing either end surfaces io.EOF to the peer's ReadChunk once the
// in-flight chunks are drained.
func Pipe() (*PipeTransport, *PipeTransport) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	a := &PipeTransport{send: ab, recv: ba, localDone: aDone, peerDone: bDone}
	b := &PipeTransport{send: ba, recv: ab, localDone: bDone, peerDone: aDone}
	return a, b
}

// WriteChunk delivers a copy of p to the peer.
func (t *PipeTransport) WriteChunk(ctx context.Context, p []byte) error {
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case <-t.localDone:
		return ErrTransportClosed
	case <-t.peerDone:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	case t.send <- buf:
		return nil
	}
}

// ReadChunk returns the next chunk written by the peer.
func (t *PipeTransport) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case p := <-t.recv:
		return p, nil
	case <-t.localDone:
		return nil, ErrTransportClosed
	case <-t.peerDone:
		// The peer may have written chunks before closing; hand those out
		// before reporting end-of-stream.
		select {
		case p := <-t.recv:
			return p, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down this end of the pipe. Idempotent.
func (t *PipeTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.localDone)
	})
	return nil
}
