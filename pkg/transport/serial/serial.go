// Package serial implements the flipperbridge Transport over a CDC-ACM
// serial character device (/dev/ttyACM0, COM3, ...). Besides raw byte
// transfer it knows the device-side shell handshake that switches the
// firmware from its interactive prompt into binary RPC mode.
package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	goserial "go.bug.st/serial"

	"github.com/perillamint/flipperbridge/pkg/transport"
)

// DefaultBaudRate matches the device firmware's CDC configuration.
const DefaultBaudRate = 115200

// DefaultPrompt is the device shell prompt ("\n>: ") that marks the
// firmware as ready to accept the RPC handshake.
var DefaultPrompt = []byte{0x0a, 0x3e, 0x3a, 0x20}

const (
	// startRPCCommand switches the device shell into binary RPC mode.
	startRPCCommand = "start_rpc_session\r"

	// promptWindow bounds the pattern search buffer while draining shell
	// output; anything older cannot contain the prompt tail.
	promptWindow = 32

	readChunkSize = 1024

	// readPollInterval is the port read timeout. The pump treats a
	// zero-byte read as a tick, which keeps close and cancellation
	// responsive without busy-waiting.
	readPollInterval = 100 * time.Millisecond
)

// Option configures a Port before it is opened.
type Option func(*Port)

// WithBaudRate overrides DefaultBaudRate.
func WithBaudRate(baud int) Option {
	return func(p *Port) {
		p.baud = baud
	}
}

// WithPrompt overrides the shell prompt pattern awaited by InitRPC.
func WithPrompt(pattern []byte) Option {
	return func(p *Port) {
		p.prompt = pattern
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Port) {
		p.log = log
	}
}

// Port is a serial transport bound to one open character device.
type Port struct {
	path   string
	baud   int
	prompt []byte
	log    zerolog.Logger

	port goserial.Port

	pumpOnce sync.Once
	chunks   chan []byte
	readErr  error

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Port)(nil)

// Open opens the serial device at path, 8N1 at the configured baud rate.
// Call InitRPC before exchanging frames unless the device is already in
// RPC mode.
func Open(path string, opts ...Option) (*Port, error) {
	p := &Port{
		path:   path,
		baud:   DefaultBaudRate,
		prompt: DefaultPrompt,
		log:    zerolog.Nop(),
		chunks: make(chan []byte, 32),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	port, err := goserial.Open(path, &goserial.Mode{BaudRate: p.baud})
	if err != nil {
		return nil, fmt.Errorf("flipperbridge: open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("flipperbridge: serial read timeout: %w", err)
	}
	p.port = port
	p.log.Debug().Str("port", path).Int("baud", p.baud).Msg("serial port opened")
	return p, nil
}

// InitRPC drives the firmware from its interactive shell into binary RPC
// mode: wait for the prompt, issue the start command, and consume the
// command echo so the first bytes handed to the frame codec are frame
// bytes. Must run before the first ReadChunk.
func (p *Port) InitRPC(ctx context.Context) error {
	if err := p.drainUntil(ctx, p.prompt); err != nil {
		return fmt.Errorf("flipperbridge: await shell prompt: %w", err)
	}
	p.log.Debug().Msg("shell prompt detected, starting RPC session")

	if err := p.writeAll([]byte(startRPCCommand)); err != nil {
		return fmt.Errorf("flipperbridge: start rpc session: %w", err)
	}
	if err := p.drainUntil(ctx, []byte(startRPCCommand+"\n")); err != nil {
		return fmt.Errorf("flipperbridge: await command echo: %w", err)
	}
	p.log.Debug().Msg("rpc session started")
	return nil
}

// drainUntil discards port output until pattern appears, keeping only a
// bounded tail window for the search.
func (p *Port) drainUntil(ctx context.Context, pattern []byte) error {
	window := make([]byte, 0, promptWindow+readChunkSize)
	buf := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-p.done:
			return transport.ErrTransportClosed
		default:
		}

		n, err := p.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			// Read timeout tick.
			continue
		}
		p.log.Trace().Hex("data", buf[:n]).Msg("serial drain")

		window = append(window, buf[:n]...)
		if bytes.Contains(window, pattern) {
			return nil
		}
		if len(window) > promptWindow {
			window = append(window[:0], window[len(window)-promptWindow:]...)
		}
	}
}

// WriteChunk writes p to the port in full and drains the OS buffer.
func (p *Port) WriteChunk(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return transport.ErrTransportClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.log.Trace().Hex("data", data).Msg("serial write")
	return p.writeAll(data)
}

func (p *Port) writeAll(data []byte) error {
	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			return fmt.Errorf("flipperbridge: serial write: %w", err)
		}
		data = data[n:]
	}
	if err := p.port.Drain(); err != nil {
		return fmt.Errorf("flipperbridge: serial drain: %w", err)
	}
	return nil
}

// ReadChunk returns the next run of bytes read from the port. The first
// call starts the background read pump; run InitRPC before that.
func (p *Port) ReadChunk(ctx context.Context) ([]byte, error) {
	p.pumpOnce.Do(func() {
		go p.pump()
	})

	select {
	case chunk, ok := <-p.chunks:
		if !ok {
			if p.readErr != nil {
				return nil, p.readErr
			}
			return nil, io.EOF
		}
		return chunk, nil
	case <-p.done:
		return nil, transport.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump moves bytes from the blocking port read into the chunk channel
// until the port fails or the transport closes.
func (p *Port) pump() {
	defer close(p.chunks)
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, err := p.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.log.Trace().Hex("data", chunk).Msg("serial read")
			select {
			case p.chunks <- chunk:
			case <-p.done:
				return
			}
		}
		if err != nil {
			select {
			case <-p.done:
				// Local close; the error is just the port shutting down.
			default:
				p.readErr = fmt.Errorf("flipperbridge: serial read: %w", err)
			}
			return
		}
	}
}

// Close releases the serial port. Idempotent; unblocks pending reads and
// writes.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.port.Close()
		p.log.Debug().Str("port", p.path).Msg("serial port closed")
	})
	return err
}
