package cmd

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/roffe/mcpcan"
	"github.com/spf13/cobra"
)

func TestParsePayload(t *testing.T) {
	p, err := parsePayload("500 kbps", " 3 ", "1 0x20  255")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mcpcan.Payload{Speed: "500 kbps", DLC: 3, Data: []int{1, 32, 255}}
	if !reflect.DeepEqual(p, want) {
		t.Fatalf("got %+v, want %+v", p, want)
	}

	for _, tc := range []struct{ dlc, data string }{
		{"", "1"},
		{"x", "1"},
		{"2", "1 256"},
		{"2", "1 -2"},
		{"8", "1 2 3 4 5 6 7 8 9"},
	} {
		if _, err := parsePayload(mcpcan.DefaultSpeed, tc.dlc, tc.data); err == nil {
			t.Fatalf("parsePayload(%q, %q): expected error", tc.dlc, tc.data)
		}
	}
}

func TestEditedPayloadIsValidated(t *testing.T) {
	b, err := mcpcan.New(&mcpcan.Config{Open: mcpcan.OpenLoopback})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	p, err := parsePayload(mcpcan.DefaultSpeed, "9", "1 2")
	if err != nil {
		t.Fatalf("dlc range is left to the bridge: %v", err)
	}
	var ee *mcpcan.EncodingError
	if err := b.SetPayload(p); !errors.As(err, &ee) || ee.Field != "dlc" {
		t.Fatalf("expected dlc EncodingError, got %v", err)
	}

	p, err = parsePayload("250 kbps", "2", "7 8")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetPayload(p); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	got := b.Payload()
	if got.Speed != "250 kbps" || got.DLC != 2 || formatData(got.Data) != "7 8 0 0 0 0 0 0" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestParseSweepRange(t *testing.T) {
	cfg, err := parseSweepRange(" 5 7  20 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != (mcpcan.SweepConfig{Start: 5, End: 7, Delay: 20 * time.Millisecond}) {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if formatSweepRange(cfg) != "5 7 20" {
		t.Fatalf("formatSweepRange = %q", formatSweepRange(cfg))
	}
	for _, bad := range []string{"", "1 2", "1 2 3 4", "a 2 3"} {
		if _, err := parseSweepRange(bad); err == nil {
			t.Fatalf("parseSweepRange(%q): expected error", bad)
		}
	}
	for _, bad := range []string{"7 5 10", "0 2048 10"} {
		if _, err := parseSweepRange(bad); !errors.Is(err, mcpcan.ErrInvalidSweep) {
			t.Fatalf("parseSweepRange(%q): expected ErrInvalidSweep, got %v", bad, err)
		}
	}
}

func TestToggleBit(t *testing.T) {
	p := mcpcan.Payload{DLC: 2, Data: []int{0, 5}}
	got := toggleBit(p, 1, 7)
	if got.Data[1] != 133 || bits(got.Data[1]) != "10000101" {
		t.Fatalf("unexpected byte %d", got.Data[1])
	}
	if p.Data[1] != 5 {
		t.Fatalf("toggleBit modified its input")
	}
	if back := toggleBit(got, 1, 7); back.Data[1] != 5 {
		t.Fatalf("toggling twice gave %d", back.Data[1])
	}
	if got := toggleBit(p, 8, 0); !reflect.DeepEqual(got.Data, []int{0, 5, 0, 0, 0, 0, 0, 0}) {
		t.Fatalf("out of range index changed data: %v", got.Data)
	}
}

func TestNextSpeed(t *testing.T) {
	speeds := mcpcan.Speeds()
	if got := nextSpeed("100 kbps", 1); got != "125 kbps" {
		t.Fatalf("got %q", got)
	}
	if got := nextSpeed(speeds[len(speeds)-1], 1); got != speeds[0] {
		t.Fatalf("no wrap forward: %q", got)
	}
	if got := nextSpeed(speeds[0], -1); got != speeds[len(speeds)-1] {
		t.Fatalf("no wrap backward: %q", got)
	}
	if got := nextSpeed("7 kbps", 1); got != "125 kbps" {
		t.Fatalf("unknown speed should step from the default, got %q", got)
	}
}

func TestSweepFlags(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	addSweepFlags(c, "")
	if err := c.Flags().Parse([]string{"--start", "3", "--end", "9", "--delay", "15"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := sweepFlags(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != (mcpcan.SweepConfig{Start: 3, End: 9, Delay: 15 * time.Millisecond}) {
		t.Fatalf("unexpected config %+v", cfg)
	}

	c = &cobra.Command{Use: "test"}
	addSweepFlags(c, "")
	c.Flags().Parse([]string{"--start", "9", "--end", "3"})
	if _, err := sweepFlags(c); !errors.Is(err, mcpcan.ErrInvalidSweep) {
		t.Fatalf("expected ErrInvalidSweep, got %v", err)
	}

	if _, err := sweepFlags(&cobra.Command{Use: "bare"}); err == nil {
		t.Fatalf("expected error for missing flags")
	}
}

func TestRunSweepInvalidConfigStopsReaders(t *testing.T) {
	b, err := mcpcan.New(&mcpcan.Config{Open: mcpcan.OpenLoopback})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		done <- runSweep(context.Background(), b, mcpcan.SweepConfig{Start: 9, End: 1})
	}()
	select {
	case err := <-done:
		if !errors.Is(err, mcpcan.ErrInvalidSweep) {
			t.Fatalf("expected ErrInvalidSweep, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runSweep did not return after StartSweep failed")
	}
	if b.SweepState() != mcpcan.SweepIdle {
		t.Fatalf("sweep should not be running")
	}
}
