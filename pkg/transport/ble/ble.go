// Package ble implements the flipperbridge Transport over a Bluetooth Low
// Energy GATT serial profile: device-to-host bytes arrive as notifications
// on an RX characteristic, host-to-device bytes are written to a TX
// characteristic in MTU-sized pieces, and an optional overflow
// characteristic reports the device's free receive buffer for flow
// control.
package ble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"github.com/perillamint/flipperbridge/pkg/transport"
)

var (
	// ErrProfileNotFound is returned when the connected peripheral does
	// not expose the expected GATT service.
	ErrProfileNotFound = errors.New("flipperbridge: serial service not found on peripheral")

	// ErrNoCharacteristic is returned when the serial service is missing
	// one of its characteristics. Usually means the wrong device.
	ErrNoCharacteristic = errors.New("flipperbridge: expected GATT characteristic not found")
)

const (
	// fallbackWriteChunk is used when the MTU cannot be read: the minimum
	// ATT payload every BLE link must support.
	fallbackWriteChunk = 20

	// overflowPollInterval paces flow-control rechecks while the device's
	// receive buffer is full.
	overflowPollInterval = 10 * time.Millisecond

	recvBufferChunks = 64
)

// Profile names the GATT service and characteristics that carry the
// serial stream. Overflow may be the zero UUID if the device offers no
// flow-control characteristic.
type Profile struct {
	Service  bluetooth.UUID
	RX       bluetooth.UUID // device -> host, via notifications
	TX       bluetooth.UUID // host -> device, write without response
	Overflow bluetooth.UUID // free receive-buffer bytes, uint32 little-endian
}

// FlipperProfile is the serial-over-GATT profile exposed by the Flipper
// Zero firmware.
var FlipperProfile = Profile{
	Service:  mustUUID("8fe5b3d5-2e7f-4a98-2a48-7acc60fe0000"),
	RX:       mustUUID("19ed82ae-ed21-4c9d-4145-228e61fe0000"),
	TX:       mustUUID("19ed82ae-ed21-4c9d-4145-228e62fe0000"),
	Overflow: mustUUID("19ed82ae-ed21-4c9d-4145-228e63fe0000"),
}

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Option configures a Device during Connect.
type Option func(*Device)

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Device) {
		d.log = log
	}
}

// Device is a BLE transport bound to one connected peripheral.
type Device struct {
	dev bluetooth.Device
	log zerolog.Logger

	rx     bluetooth.DeviceCharacteristic
	tx     bluetooth.DeviceCharacteristic
	ovf    bluetooth.DeviceCharacteristic
	hasOvf bool

	writeChunk int

	chunks chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Device)(nil)

// Connect establishes a connection to the peripheral at addr, discovers
// the profile's service and characteristics, and subscribes to RX
// notifications. The returned Device is ready for frame traffic; no shell
// handshake is needed on the BLE path.
func Connect(ctx context.Context, adapter *bluetooth.Adapter, addr bluetooth.Address, profile Profile, opts ...Option) (*Device, error) {
	d := &Device{
		log:        zerolog.Nop(),
		writeChunk: fallbackWriteChunk,
		chunks:     make(chan []byte, recvBufferChunks),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	dev, err := adapter.Connect(addr, params)
	if err != nil {
		return nil, fmt.Errorf("flipperbridge: ble connect: %w", err)
	}
	d.dev = dev

	if err := d.discover(profile); err != nil {
		dev.Disconnect()
		return nil, err
	}

	if mtu, err := d.tx.GetMTU(); err == nil && int(mtu) > 3 {
		d.writeChunk = int(mtu) - 3 // ATT write header
	}

	if err := d.rx.EnableNotifications(d.onNotify); err != nil {
		dev.Disconnect()
		return nil, fmt.Errorf("flipperbridge: enable rx notifications: %w", err)
	}

	d.log.Debug().Int("write_chunk", d.writeChunk).Msg("ble transport connected")
	return d, nil
}

func (d *Device) discover(profile Profile) error {
	svcs, err := d.dev.DiscoverServices([]bluetooth.UUID{profile.Service})
	if err != nil {
		return fmt.Errorf("flipperbridge: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return ErrProfileNotFound
	}

	want := []bluetooth.UUID{profile.RX, profile.TX}
	var zero bluetooth.UUID
	if profile.Overflow != zero {
		want = append(want, profile.Overflow)
	}

	chars, err := svcs[0].DiscoverCharacteristics(want)
	if err != nil {
		return fmt.Errorf("flipperbridge: discover characteristics: %w", err)
	}

	var haveRX, haveTX bool
	for _, c := range chars {
		switch c.UUID() {
		case profile.RX:
			d.rx = c
			haveRX = true
		case profile.TX:
			d.tx = c
			haveTX = true
		case profile.Overflow:
			d.ovf = c
			d.hasOvf = true
		}
	}
	if !haveRX || !haveTX {
		return ErrNoCharacteristic
	}
	return nil
}

// onNotify runs on the BLE stack's event goroutine, so it must never
// block: chunks that do not fit are traded for the oldest buffered one.
func (d *Device) onNotify(buf []byte) {
	chunk := make([]byte, len(buf))
	copy(chunk, buf)

	select {
	case d.chunks <- chunk:
		return
	default:
	}
	select {
	case <-d.chunks:
		d.log.Warn().Msg("ble receive buffer full, dropping oldest chunk")
	default:
	}
	select {
	case d.chunks <- chunk:
	default:
	}
}

// WriteChunk sends p to the TX characteristic, split into MTU-sized
// pieces, honoring the overflow characteristic's flow control when the
// device provides one.
func (d *Device) WriteChunk(ctx context.Context, p []byte) error {
	select {
	case <-d.done:
		return transport.ErrTransportClosed
	default:
	}

	for off := 0; off < len(p); off += d.writeChunk {
		end := off + d.writeChunk
		if end > len(p) {
			end = len(p)
		}
		piece := p[off:end]

		if err := d.waitWritable(ctx, len(piece)); err != nil {
			return err
		}
		if _, err := d.tx.WriteWithoutResponse(piece); err != nil {
			return fmt.Errorf("flipperbridge: ble write: %w", err)
		}
		d.log.Trace().Hex("data", piece).Msg("ble write")
	}
	return nil
}

// waitWritable polls the overflow characteristic until the device reports
// room for need bytes. A device without the characteristic, or one whose
// overflow read fails, is written to optimistically.
func (d *Device) waitWritable(ctx context.Context, need int) error {
	if !d.hasOvf {
		return nil
	}
	buf := make([]byte, 4)
	for {
		n, err := d.ovf.Read(buf)
		if err != nil || n < 4 {
			return nil
		}
		free := binary.LittleEndian.Uint32(buf[:4])
		if int(free) >= need {
			return nil
		}
		d.log.Trace().Uint32("free", free).Int("need", need).Msg("ble flow control wait")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return transport.ErrTransportClosed
		case <-time.After(overflowPollInterval):
		}
	}
}

// ReadChunk returns the next notification payload from the RX
// characteristic. BLE has no end-of-stream signal; a vanished peer
// surfaces as a local Close or a context timeout.
func (d *Device) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-d.chunks:
		d.log.Trace().Hex("data", chunk).Msg("ble read")
		return chunk, nil
	case <-d.done:
		return nil, transport.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects from the peripheral. Idempotent.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.dev.Disconnect()
		d.log.Debug().Msg("ble transport closed")
	})
	return err
}
