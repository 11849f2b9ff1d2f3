package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/mcpcan"
	"github.com/spf13/cobra"
)

// parsePayload builds a payload from the monitor's dlc and data inputs. Data is
// space separated, missing bytes are zero. Ranges are checked by SetPayload.
func parsePayload(speed, dlcText, dataText string) (mcpcan.Payload, error) {
	dlc, err := strconv.Atoi(strings.TrimSpace(dlcText))
	if err != nil {
		return mcpcan.Payload{}, fmt.Errorf("dlc %q is not a number", dlcText)
	}
	data, err := parseData(strings.Fields(dataText))
	if err != nil {
		return mcpcan.Payload{}, err
	}
	return mcpcan.Payload{Speed: speed, DLC: dlc, Data: data}, nil
}

func formatData(data []int) string {
	parts := make([]string, len(data))
	for i, v := range data {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// parseSweepRange reads "start end delay", delay in ms.
func parseSweepRange(text string) (mcpcan.SweepConfig, error) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return mcpcan.SweepConfig{}, fmt.Errorf("want <start> <end> <delay ms>, got %q", text)
	}
	var v [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return mcpcan.SweepConfig{}, fmt.Errorf("%q is not a number", f)
		}
		v[i] = n
	}
	cfg := mcpcan.SweepConfig{Start: v[0], End: v[1], Delay: msDuration(v[2])}
	return cfg, cfg.Validate()
}

func formatSweepRange(cfg mcpcan.SweepConfig) string {
	return fmt.Sprintf("%d %d %d", cfg.Start, cfg.End, cfg.Delay.Milliseconds())
}

// toggleBit flips bit (0 is the least significant) of data byte index.
func toggleBit(p mcpcan.Payload, index, bit int) mcpcan.Payload {
	data := make([]int, mcpcan.MaxDLC)
	copy(data, p.Data)
	if index >= 0 && index < mcpcan.MaxDLC && bit >= 0 && bit < 8 {
		data[index] ^= 1 << bit
	}
	p.Data = data
	return p
}

// bits renders a byte most significant bit first.
func bits(v int) string {
	return fmt.Sprintf("%08b", v&0xff)
}

// nextSpeed steps through the speed table, wrapping at both ends. Unknown
// labels start from the default.
func nextSpeed(current string, step int) string {
	speeds := mcpcan.Speeds()
	idx := -1
	for i, s := range speeds {
		if s == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, s := range speeds {
			if s == mcpcan.DefaultSpeed {
				idx = i
			}
		}
	}
	n := len(speeds)
	return speeds[((idx+step)%n+n)%n]
}

func addSweepFlags(cmd *cobra.Command, prefix string) {
	f := cmd.Flags()
	f.Int("start", 0, prefix+"first id")
	f.Int("end", mcpcan.MaxSweepID, prefix+"last id")
	f.Int("delay", 100, prefix+"delay between frames in ms")
}

func sweepFlags(cmd *cobra.Command) (mcpcan.SweepConfig, error) {
	var v [3]int
	for i, name := range []string{"start", "end", "delay"} {
		n, err := cmd.Flags().GetInt(name)
		if err != nil {
			return mcpcan.SweepConfig{}, err
		}
		v[i] = n
	}
	cfg := mcpcan.SweepConfig{Start: v[0], End: v[1], Delay: msDuration(v[2])}
	return cfg, cfg.Validate()
}
