package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/mcpcan"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "mcpcan",
	Short:        "MCP2515 serial CAN bridge",
	Long:         `Send, sweep and monitor CAN frames through an MCP2515 module attached to a serial port`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
			Level(level).
			With().
			Timestamp().
			Logger()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagSpeed    = "speed"
	flagDebug    = "debug"
)

var (
	comPort  string
	baudRate int
	canSpeed string
	debug    bool

	logger = zerolog.Nop()
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&comPort, flagPort, "p", "*", "com-port, * = select from available, "+mcpcan.LoopbackPort+" = in-memory module")
	pf.IntVarP(&baudRate, flagBaudrate, "b", mcpcan.DefaultBaudrate, "baudrate")
	pf.StringVarP(&canSpeed, flagSpeed, "s", mcpcan.DefaultSpeed, "CAN bus speed, * = select from list")
	pf.BoolVarP(&debug, flagDebug, "d", false, "debug mode")
}

// initBridge resolves the port and speed flags, connects and returns a bridge
// ready for Run.
func initBridge(onTick func(id int)) (*mcpcan.Bridge, error) {
	port, err := selectPort(comPort)
	if err != nil {
		return nil, err
	}
	speed, err := selectSpeed(canSpeed)
	if err != nil {
		return nil, err
	}

	cfg := mcpcan.DefaultConfig()
	cfg.Port = port
	cfg.PortBaudrate = baudRate
	cfg.Speed = speed
	cfg.Logger = logger
	cfg.OnSweepTick = onTick
	if port == mcpcan.LoopbackPort {
		cfg.Open = mcpcan.OpenLoopback
	}

	b, err := mcpcan.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := b.Connect(""); err != nil {
		return nil, err
	}
	return b, nil
}

func selectPort(port string) (string, error) {
	if port != "*" {
		return port, nil
	}
	ports, err := mcpcan.ListPorts()
	if err != nil {
		return "", err
	}
	items := make([]string, 0, len(ports)+1)
	for _, p := range ports {
		items = append(items, p.Name)
	}
	items = append(items, mcpcan.LoopbackPort)
	prompt := promptui.Select{
		Label: "Select com-port",
		Items: items,
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return result, nil
}

func selectSpeed(speed string) (string, error) {
	if speed != "*" {
		return speed, nil
	}
	prompt := promptui.Select{
		Label:     "Select CAN speed",
		Items:     mcpcan.Speeds(),
		CursorPos: 10,
		Size:      8,
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return result, nil
}

// logEvents writes bridge events to the logger until ctx is done.
func logEvents(ctx context.Context, b *mcpcan.Bridge) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-b.Events():
			switch e.Type {
			case mcpcan.EventTypeError:
				logger.Error().Msg(e.Details)
			case mcpcan.EventTypeWarning:
				logger.Warn().Msg(e.Details)
			default:
				logger.Debug().Str("event", e.Type.String()).Msg(e.Details)
			}
		}
	}
}

// parseData turns byte arguments into values, decimal or 0x prefixed hex.
func parseData(args []string) ([]int, error) {
	if len(args) > mcpcan.MaxDLC {
		return nil, fmt.Errorf("at most %d data bytes, got %d", mcpcan.MaxDLC, len(args))
	}
	out := make([]int, len(args))
	for i, a := range args {
		a = strings.TrimSpace(a)
		base := 10
		if strings.HasPrefix(strings.ToLower(a), "0x") {
			a, base = a[2:], 16
		}
		v, err := strconv.ParseUint(a, base, 8)
		if err != nil {
			return nil, fmt.Errorf("D%d: %q is not a byte value", i, args[i])
		}
		out[i] = int(v)
	}
	return out, nil
}

// withDLC applies the --dlc flag, zero padding data up to it. Without the flag
// the dlc is the number of data bytes given.
func withDLC(cmd *cobra.Command, data []int) ([]int, int, error) {
	if !cmd.Flags().Changed("dlc") {
		return data, len(data), nil
	}
	dlc, err := cmd.Flags().GetInt("dlc")
	if err != nil {
		return nil, 0, err
	}
	if dlc < 0 || dlc > mcpcan.MaxDLC {
		return nil, 0, fmt.Errorf("dlc %d is outside 0-%d", dlc, mcpcan.MaxDLC)
	}
	for len(data) < dlc {
		data = append(data, 0)
	}
	return data, dlc, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
