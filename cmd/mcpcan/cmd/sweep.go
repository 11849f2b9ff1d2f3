package cmd

import (
	"context"
	"errors"

	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/bar"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [d0 .. d7]",
	Short: "Cycle the payload through a range of ids until ctrl-c",
	Args:  cobra.MaximumNArgs(mcpcan.MaxDLC),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseData(args)
		if err != nil {
			return err
		}
		data, dlc, err := withDLC(cmd, data)
		if err != nil {
			return err
		}
		cfg, err := sweepFlags(cmd)
		if err != nil {
			return err
		}

		pb := bar.New(cfg.End-cfg.Start+1, "sweeping ids")
		b, err := initBridge(func(id int) {
			if id == cfg.Start {
				pb.Reset()
			}
			pb.Add(1)
		})
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.SetPayload(mcpcan.Payload{Speed: b.Payload().Speed, DLC: dlc, Data: data}); err != nil {
			return err
		}

		err = runSweep(cmd.Context(), b, cfg)
		b.StopSweep()
		pb.Finish()
		logger.Info().Str("stats", b.Stats().String()).Msg("done")
		return ignoreCanceled(err)
	},
}

// runSweep drives the bridge and the sweep until ctx is done or an error
// event arrives. The reader goroutines are stopped before it returns.
func runSweep(ctx context.Context, b *mcpcan.Bridge, cfg mcpcan.SweepConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error { return b.Run(ctx) })
	errg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-b.Events():
				if e.Type == mcpcan.EventTypeError {
					return errors.New(e.Details)
				}
				logger.Debug().Msg(e.Details)
			}
		}
	})
	if err := b.StartSweep(ctx, cfg); err != nil {
		cancel()
		errg.Wait()
		return err
	}
	return errg.Wait()
}

func init() {
	addSweepFlags(sweepCmd, "")
	sweepCmd.Flags().Int("dlc", 0, "data length code, defaults to the number of data bytes")
	rootCmd.AddCommand(sweepCmd)
}
