package main

import (
	"context"
	"fmt"

	"github.com/perillamint/flipperbridge/pkg/transport"
	"github.com/perillamint/flipperbridge/pkg/transport/ble"
	"github.com/perillamint/flipperbridge/pkg/transport/serial"
)

// openTransport builds the configured transport and performs whatever
// link setup the medium needs, leaving it ready for frame traffic.
func openTransport(ctx context.Context) (transport.Transport, error) {
	switch cfg.Transport {
	case "serial":
		port, err := serial.Open(cfg.Serial.Port,
			serial.WithBaudRate(cfg.Serial.Baud),
			serial.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		if err := port.InitRPC(ctx); err != nil {
			port.Close()
			return nil, err
		}
		return port, nil

	case "ble":
		scanner, err := ble.NewScanner(ble.WithScanLogger(log))
		if err != nil {
			return nil, err
		}
		log.Info().Str("name", cfg.BLE.Name).Msg("scanning")
		result, err := scanner.FindByName(ctx, cfg.BLE.Name)
		if err != nil {
			return nil, err
		}
		log.Info().Str("address", result.Address.String()).Msg("connecting")
		return ble.Connect(ctx, scanner.Adapter(), result.Address, ble.FlipperProfile,
			ble.WithLogger(log))

	default:
		return nil, fmt.Errorf("unknown transport %q (want serial or ble)", cfg.Transport)
	}
}
