package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var sendCmd = &cobra.Command{
	Use:   "send <id> [d0 .. d7]",
	Short: "Send one frame",
	Long:  `Send one frame. Data bytes are decimal or 0x prefixed hex, missing bytes are sent as 0.`,
	Args:  cobra.RangeArgs(1, 9),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseData(args[1:])
		if err != nil {
			return err
		}
		data, dlc, err := withDLC(cmd, data)
		if err != nil {
			return err
		}
		wait, err := cmd.Flags().GetDuration("listen")
		if err != nil {
			return err
		}

		b, err := initBridge(nil)
		if err != nil {
			return err
		}
		defer b.Close()

		errg, ctx := errgroup.WithContext(cmd.Context())
		errg.Go(func() error { return b.Run(ctx) })
		errg.Go(func() error { return logEvents(ctx, b) })
		errg.Go(func() error { return printFrames(ctx, b) })
		errg.Go(func() error {
			if _, err := b.Send(args[0], b.Payload().Speed, data, dlc); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			return context.Canceled
		})
		return ignoreCanceled(errg.Wait())
	},
}

func init() {
	sendCmd.Flags().Int("dlc", 0, "data length code, defaults to the number of data bytes")
	sendCmd.Flags().Duration("listen", 50*time.Millisecond, "print received frames for this long after sending")
	rootCmd.AddCommand(sendCmd)
}
