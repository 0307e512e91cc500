package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// ErrDeviceNotFound is returned when a scan ends without a match.
var ErrDeviceNotFound = errors.New("flipperbridge: no matching ble device found")

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScanLogger attaches a structured logger to the scanner.
func WithScanLogger(log zerolog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.log = log
	}
}

// Scanner discovers nearby peripherals through the host's BLE adapter.
type Scanner struct {
	adapter *bluetooth.Adapter
	log     zerolog.Logger
}

// NewScanner enables the default BLE adapter and wraps it in a Scanner.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	s := &Scanner{
		adapter: bluetooth.DefaultAdapter,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("flipperbridge: enable ble adapter: %w", err)
	}
	return s, nil
}

// Adapter exposes the underlying adapter for Connect.
func (s *Scanner) Adapter() *bluetooth.Adapter {
	return s.adapter
}

// FindByName scans until an advertisement whose local name contains name
// is seen, the context expires, or the scan fails.
func (s *Scanner) FindByName(ctx context.Context, name string) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)

	go func() {
		scanDone <- s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			local := result.LocalName()
			if local == "" || !strings.Contains(local, name) {
				return
			}
			s.log.Debug().
				Str("name", local).
				Str("address", result.Address.String()).
				Int16("rssi", result.RSSI).
				Msg("matching advertisement")
			select {
			case found <- result:
			default:
			}
			adapter.StopScan()
		})
	}()

	select {
	case result := <-found:
		return result, nil
	case err := <-scanDone:
		// Scan ended; a match may have raced the scan shutdown.
		select {
		case result := <-found:
			return result, nil
		default:
		}
		if err != nil {
			return bluetooth.ScanResult{}, fmt.Errorf("flipperbridge: ble scan: %w", err)
		}
		return bluetooth.ScanResult{}, ErrDeviceNotFound
	case <-ctx.Done():
		s.adapter.StopScan()
		return bluetooth.ScanResult{}, ctx.Err()
	}
}
