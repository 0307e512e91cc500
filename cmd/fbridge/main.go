package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/perillamint/flipperbridge/pkg/config"
)

var (
	// Global flags
	cfgFile    string
	transportF string
	serialPort string
	baudRate   int
	deviceName string
	verbosity  int

	// Shared state set during PersistentPreRunE
	cfg *config.Config
	log zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fbridge",
		Short: "Debug bridge for the Flipper Zero RPC link",
		Long: `fbridge is an interactive debugging tool for the flipperbridge
framing layer. It opens an RPC session to a Flipper Zero over serial or
Bluetooth LE and lets you watch and inject raw protocol frames.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log = newLogger(verbosity)

			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Flags override the config file.
			if transportF != "" {
				cfg.Transport = transportF
			}
			if serialPort != "" {
				cfg.Serial.Port = serialPort
			}
			if baudRate != 0 {
				cfg.Serial.Baud = baudRate
			}
			if deviceName != "" {
				cfg.BLE.Name = deviceName
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.fbridge/config.yaml)")
	pf.StringVarP(&transportF, "transport", "t", "", "transport to use: serial or ble")
	pf.StringVarP(&serialPort, "port", "p", "", "serial device path (e.g. /dev/ttyACM0)")
	pf.IntVar(&baudRate, "baud", 0, "serial baud rate")
	pf.StringVarP(&deviceName, "device", "d", "", "BLE device name substring to scan for")
	pf.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v: debug, -vv: trace)")

	rootCmd.AddCommand(
		monitorCmd(),
		sendCmd(),
		scanCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbosity int) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
