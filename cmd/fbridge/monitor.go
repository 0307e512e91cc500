package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perillamint/flipperbridge/pkg/session"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Dump every frame received from the device",
		Long: `Opens a session on the configured transport and prints each
incoming frame as a hex dump until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			t, err := openTransport(ctx)
			if err != nil {
				return err
			}
			sess := session.New(t,
				session.WithLogger(log),
				session.WithMaxFrameLen(cfg.MaxFrameLen),
			)
			defer sess.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "monitoring — press Ctrl-C to stop")
			for {
				select {
				case frame, ok := <-sess.Frames():
					if !ok {
						if err := sess.Err(); err != nil {
							return err
						}
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s frame, %d bytes\n%s",
						rxLabel, len(frame), hexDump(frame))
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}
