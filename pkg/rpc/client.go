// Package rpc matches outgoing command frames to their responses by
// correlation id, on top of a session's frame stream. It is the one
// logical consumer of Session.Frames; callers that need raw frame access
// should use the session directly instead.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/perillamint/flipperbridge/pkg/session"
)

// ErrRequestTimeout resolves a call whose response did not arrive within
// the deadline. The session stays open; only the one request is affected.
var ErrRequestTimeout = errors.New("flipperbridge: request timed out")

// DefaultTimeout bounds a Call when neither the context nor an option
// supplies a deadline.
const DefaultTimeout = 5 * time.Second

// defaultUnsolicitedBuffer is the capacity of the Unsolicited channel.
const defaultUnsolicitedBuffer = 32

// IDCodec reads and writes the correlation identifier embedded in a
// payload. How the id is encoded is the application schema's business
// (for the Flipper it lives in the protobuf Main message's command_id
// field); the correlator only needs this pair of capabilities. Id 0 is
// reserved: the device uses it for unsolicited notifications.
type IDCodec interface {
	// CommandID extracts the correlation id from payload. ok is false if
	// the payload carries no readable id.
	CommandID(payload []byte) (id uint32, ok bool)

	// SetCommandID returns payload with its correlation id set. It may
	// modify payload in place or return a rewritten copy.
	SetCommandID(payload []byte, id uint32) ([]byte, error)
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the session-wide default response timeout. A context
// deadline on an individual Call takes precedence.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithUnsolicitedBuffer sets the capacity of the Unsolicited channel.
func WithUnsolicitedBuffer(n int) Option {
	return func(c *Client) {
		c.unsolBuffer = n
	}
}

type result struct {
	payload []byte
	err     error
}

// Client correlates commands with responses over one session. Many
// goroutines may Call concurrently; each pending request resolves exactly
// once — with a response, a timeout, or ErrSessionClosed.
type Client struct {
	sess    *session.Session
	idc     IDCodec
	log     zerolog.Logger
	timeout time.Duration

	unsolBuffer int
	unsolicited chan []byte

	nextID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan result
	dead    bool
}

// NewClient wraps s, taking exclusive ownership of its frame stream, and
// starts the dispatch loop.
func NewClient(s *session.Session, idc IDCodec, opts ...Option) *Client {
	c := &Client{
		sess:        s,
		idc:         idc,
		log:         zerolog.Nop(),
		timeout:     DefaultTimeout,
		unsolBuffer: defaultUnsolicitedBuffer,
		pending:     make(map[uint32]chan result),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsolicited = make(chan []byte, c.unsolBuffer)
	go c.dispatch()
	return c
}

// Call sends payload with a freshly assigned correlation id and blocks
// until the matching response arrives, the deadline passes, or the
// session closes. The timeout of one call never disturbs other pending
// requests.
func (c *Client) Call(ctx context.Context, payload []byte) ([]byte, error) {
	id := c.allocID()
	wire, err := c.idc.SetCommandID(payload, id)
	if err != nil {
		return nil, fmt.Errorf("flipperbridge: embed command id: %w", err)
	}

	ch := make(chan result, 1)
	if err := c.register(id, ch); err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.sess.Send(ctx, wire); err != nil {
		c.unregister(id, ch)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		c.unregister(id, ch)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Debug().Uint32("id", id).Msg("request timed out")
			return nil, ErrRequestTimeout
		}
		return nil, ctx.Err()
	}
}

// Notify sends payload as a fire-and-forget command: correlation id 0, no
// response expected.
func (c *Client) Notify(ctx context.Context, payload []byte) error {
	wire, err := c.idc.SetCommandID(payload, 0)
	if err != nil {
		return fmt.Errorf("flipperbridge: embed command id: %w", err)
	}
	return c.sess.Send(ctx, wire)
}

// Unsolicited streams incoming frames that match no pending request:
// device-initiated notifications, frames without a readable id, and
// responses that arrived after their request timed out. The channel is
// closed when the session terminates. A consumer that falls behind loses
// the oldest frames, never the session.
func (c *Client) Unsolicited() <-chan []byte {
	return c.unsolicited
}

// Err reports the session's terminal error, if any.
func (c *Client) Err() error {
	return c.sess.Err()
}

// Close shuts down the underlying session. Every pending request resolves
// with session.ErrSessionClosed.
func (c *Client) Close() error {
	return c.sess.Close()
}

// allocID returns the next correlation id, skipping the reserved 0.
func (c *Client) allocID() uint32 {
	for {
		if id := c.nextID.Add(1); id != 0 {
			return id
		}
	}
}

func (c *Client) register(id uint32, ch chan result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return session.ErrSessionClosed
	}
	c.pending[id] = ch
	return nil
}

// unregister removes a pending request after a timeout or send failure.
// If the dispatcher resolved it concurrently, the response it already
// delivered is rerouted to the unsolicited stream so it is not lost.
// Both resolution paths touch the channel under the mutex, so exactly
// one of them sees each response.
func (c *Client) unregister(id uint32, ch chan result) {
	c.mu.Lock()
	_, present := c.pending[id]
	delete(c.pending, id)

	var orphan []byte
	if !present {
		select {
		case r := <-ch:
			if r.err == nil {
				orphan = r.payload
			}
		default:
		}
	}
	c.mu.Unlock()

	if orphan != nil {
		c.deliverUnsolicited(orphan)
	}
}

// dispatch is the single consumer of the session's frame stream. It routes
// each incoming frame to its pending request, or to the unsolicited
// stream, until the session terminates — at which point every still
// pending request is resolved with ErrSessionClosed.
func (c *Client) dispatch() {
	for frame := range c.sess.Frames() {
		id, ok := c.idc.CommandID(frame)
		if !ok || id == 0 {
			c.deliverUnsolicited(frame)
			continue
		}

		c.mu.Lock()
		ch, found := c.pending[id]
		if found {
			delete(c.pending, id)
			// Buffered one deep with a single producer, so this never
			// blocks while the lock is held.
			ch <- result{payload: frame}
		}
		c.mu.Unlock()

		if !found {
			c.deliverUnsolicited(frame)
		}
	}

	if err := c.sess.Err(); err != nil {
		c.log.Debug().Err(err).Msg("session terminated")
	}

	c.mu.Lock()
	c.dead = true
	orphans := c.pending
	c.pending = nil
	c.mu.Unlock()

	for id, ch := range orphans {
		c.log.Debug().Uint32("id", id).Msg("resolving pending request: session closed")
		ch <- result{err: session.ErrSessionClosed}
	}
	close(c.unsolicited)
}

// deliverUnsolicited hands frame to the unsolicited channel, dropping the
// oldest buffered frame if the consumer is not keeping up. The mutex
// serializes deliveries against the channel close in dispatch, so a late
// delivery after shutdown is discarded instead of panicking.
func (c *Client) deliverUnsolicited(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return
	}
	select {
	case c.unsolicited <- frame:
		return
	default:
	}
	select {
	case old := <-c.unsolicited:
		c.log.Warn().Int("len", len(old)).Msg("unsolicited frame dropped: consumer too slow")
	default:
	}
	select {
	case c.unsolicited <- frame:
	default:
	}
}
