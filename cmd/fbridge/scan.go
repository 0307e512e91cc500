package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/perillamint/flipperbridge/pkg/transport/ble"
)

func scanCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for the configured BLE device",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner, err := ble.NewScanner(ble.WithScanLogger(log))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "scanning for %q (%s)...\n", cfg.BLE.Name, timeout)
			result, err := scanner.FindByName(ctx, cfg.BLE.Name)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "found %s  address=%s  rssi=%d\n",
				result.LocalName(), result.Address.String(), result.RSSI)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "scan timeout")
	return cmd
}
