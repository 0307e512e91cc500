// Package session binds one Transport to one frame Codec and exposes a
// concurrent-safe, frame-level API: many goroutines may Send, one logical
// consumer drains Frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/perillamint/flipperbridge/pkg/protocol"
	"github.com/perillamint/flipperbridge/pkg/transport"
)

// ErrSessionClosed is returned by Send after Close, and resolves every
// operation still waiting on the session when it terminates.
var ErrSessionClosed = errors.New("flipperbridge: session is closed")

// State is the session lifecycle position. Transitions are one-way:
// Open -> Closing -> Closed.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

// defaultRecvBuffer is the capacity of the Frames channel.
const defaultRecvBuffer = 16

// Option configures a Session during construction.
type Option func(*Session)

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithMaxFrameLen overrides the maximum frame payload length for both
// directions.
func WithMaxFrameLen(n int) Option {
	return func(s *Session) {
		s.codecOpts = append(s.codecOpts, protocol.WithMaxFrameLen(n))
	}
}

// WithMaxVarintWidth overrides the maximum length-prefix width accepted
// from the peer.
func WithMaxVarintWidth(n int) Option {
	return func(s *Session) {
		s.codecOpts = append(s.codecOpts, protocol.WithMaxVarintWidth(n))
	}
}

// WithRecvBuffer sets the capacity of the Frames channel. Once it fills,
// the read loop stops pulling from the transport until the consumer
// catches up.
func WithRecvBuffer(n int) Option {
	return func(s *Session) {
		s.recvBuffer = n
	}
}

// Session owns exactly one transport connection. It serializes outbound
// frames onto the wire and decodes the inbound byte stream into the Frames
// channel. A Session is bound to its connection for life: after any
// terminal error (or a transport reconnect), create a new Session rather
// than reusing this one.
type Session struct {
	t     transport.Transport
	codec *protocol.Codec
	log   zerolog.Logger

	codecOpts  []protocol.CodecOption
	recvBuffer int

	// writeMu is the single-writer discipline: one frame at a time reaches
	// the transport, so concurrent Send calls never interleave bytes.
	writeMu sync.Mutex

	frames chan []byte
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	cause error

	done chan struct{}
}

// New wraps t in a Session and starts its read loop. The caller hands
// ownership of the transport to the session; Close releases it.
func New(t transport.Transport, opts ...Option) *Session {
	s := &Session{
		t:          t,
		log:        zerolog.Nop(),
		recvBuffer: defaultRecvBuffer,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = protocol.NewCodec(s.codecOpts...)
	s.frames = make(chan []byte, s.recvBuffer)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.readLoop(ctx)
	return s
}

// Send encodes payload as one frame and writes it to the transport. It is
// safe to call from many goroutines; each frame is written contiguously
// (atomic at frame granularity) in whatever order callers win the write
// lock. A transport write failure closes the session.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}

	// Frame encoding is stateless, so it can happen outside the lock and
	// concurrently with the read loop's decoding.
	wire, err := s.codec.EncodeFrame(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateOpen {
		return ErrSessionClosed
	}
	if err := s.t.WriteChunk(ctx, wire); err != nil {
		if ctx.Err() != nil {
			// Caller cancellation is not a link failure.
			return err
		}
		if s.State() != StateOpen {
			// Lost the race with a concurrent Close.
			return ErrSessionClosed
		}
		werr := fmt.Errorf("flipperbridge: transport write: %w", err)
		s.closeWith(werr)
		return werr
	}
	s.log.Trace().Int("len", len(payload)).Msg("frame sent")
	return nil
}

// Frames returns the shared stream of received frames, in wire arrival
// order. The session assumes one logical consumer; fan-out to independent
// readers is a layer above (see the rpc package). The channel is closed
// when the session terminates — consult Err for the reason.
func (s *Session) Frames() <-chan []byte {
	return s.frames
}

// Err reports why the session terminated: a protocol violation, a
// transport failure, io.EOF for a clean peer shutdown, or nil when the
// session was closed locally (or is still open).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the session down: no new Sends are accepted, the in-flight
// write (if any) finishes or fails, the read loop stops, and the transport
// is released. Idempotent; closing a closed session is a no-op.
func (s *Session) Close() error {
	s.closeWith(nil)
	return nil
}

// closeWith drives Open -> Closing -> Closed. The first caller records the
// terminal cause; everyone else is a no-op. cause nil means a local,
// deliberate close.
func (s *Session) closeWith(cause error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.cause = cause
	s.mu.Unlock()

	if cause != nil {
		s.log.Debug().Err(cause).Msg("session closing")
	}

	// Stop the read loop and unblock any transport operation.
	s.cancel()
	if err := s.t.Close(); err != nil {
		s.log.Debug().Err(err).Msg("transport close")
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)
}

// readLoop pulls raw chunks from the transport, feeds the codec, and emits
// every completed frame. It is the only goroutine that touches the decode
// buffer. The loop exits — closing the Frames channel — on transport
// end-of-stream, a protocol violation, or session close.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.frames)

	for {
		chunk, err := s.t.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Local close already in progress; keep its cause.
				s.closeWith(nil)
				return
			}
			if errors.Is(err, io.EOF) && s.codec.Buffered() > 0 {
				// Peer went away with a partial frame on the floor.
				err = protocol.ErrTruncatedStream
			}
			s.closeWith(err)
			return
		}

		s.log.Trace().Int("len", len(chunk)).Msg("transport read")
		s.codec.Feed(chunk)

		for {
			frame, err := s.codec.Next()
			if err != nil {
				s.closeWith(err)
				return
			}
			if frame == nil {
				break
			}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				s.closeWith(nil)
				return
			}
		}
	}
}
