package cmd

import (
	"context"
	"fmt"

	"github.com/roffe/mcpcan"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print frames until ctrl-c",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria, err := filterFlags(cmd)
		if err != nil {
			return err
		}
		b, err := initBridge(nil)
		if err != nil {
			return err
		}
		defer b.Close()
		b.Log().SetFilter(criteria)

		errg, ctx := errgroup.WithContext(cmd.Context())
		errg.Go(func() error { return b.Run(ctx) })
		errg.Go(func() error { return logEvents(ctx, b) })
		errg.Go(func() error { return printFrames(ctx, b) })
		err = errg.Wait()
		logger.Info().Str("stats", b.Stats().String()).Msg("done")
		return ignoreCanceled(err)
	},
}

func init() {
	addFilterFlags(listenCmd)
	rootCmd.AddCommand(listenCmd)
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "only show frames with this id")
	cmd.Flags().String("dir", "ALL", "only show frames in this direction: ALL, TX or RX")
}

func filterFlags(cmd *cobra.Command) (mcpcan.FilterCriteria, error) {
	id, err := cmd.Flags().GetString("id")
	if err != nil {
		return mcpcan.FilterCriteria{}, err
	}
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return mcpcan.FilterCriteria{}, err
	}
	d, err := mcpcan.ParseDirectionFilter(dir)
	if err != nil {
		return mcpcan.FilterCriteria{}, err
	}
	return mcpcan.FilterCriteria{ID: id, Direction: d}, nil
}

// printFrames prints every frame that passes the log filter until ctx is done.
func printFrames(ctx context.Context, b *mcpcan.Bridge) error {
	sub := b.Log().Subscribe(ctx, 256)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.Chan():
			if !ok {
				return fmt.Errorf("frame printer fell behind")
			}
			if u.Reset {
				continue
			}
			fmt.Println(u.Frame.Time.Format("15:04:05.000"), u.Frame.ColorString())
		}
	}
}
