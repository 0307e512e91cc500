package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/perillamint/flipperbridge/pkg/session"
)

func sendCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <hex-payload>",
		Short: "Send one raw frame and print what comes back",
		Long: `Encodes the given hex string as a single protocol frame, writes it
to the device, and prints every frame received during the wait window.

Example (protobuf-encoded system ping):

  fbridge send -t serial 0802820200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex payload: %w", err)
			}

			ctx := cmd.Context()
			t, err := openTransport(ctx)
			if err != nil {
				return err
			}
			sess := session.New(t,
				session.WithLogger(log),
				session.WithMaxFrameLen(cfg.MaxFrameLen),
			)
			defer sess.Close()

			if err := sess.Send(ctx, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s frame, %d bytes\n%s",
				txLabel, len(payload), hexDump(payload))

			deadline := time.After(wait)
			for {
				select {
				case frame, ok := <-sess.Frames():
					if !ok {
						return sess.Err()
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s frame, %d bytes\n%s",
						rxLabel, len(frame), hexDump(frame))
				case <-deadline:
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&wait, "wait", "w", 2*time.Second, "how long to wait for response frames")
	return cmd
}
