package cmd

import (
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

func TestParseData(t *testing.T) {
	got, err := parseData([]string{"1", "0x10", "255", "0XfF", " 7 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []int{1, 16, 255, 255, 7}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, bad := range [][]string{
		{"256"},
		{"-1"},
		{"0x100"},
		{"abc"},
		{"1", "2", "3", "4", "5", "6", "7", "8", "9"},
	} {
		if _, err := parseData(bad); err == nil {
			t.Fatalf("parseData(%q): expected error", bad)
		}
	}
}

func newDLCCommand(args ...string) *cobra.Command {
	c := &cobra.Command{Use: "test"}
	c.Flags().Int("dlc", 0, "")
	c.Flags().Parse(args)
	return c
}

func TestWithDLC(t *testing.T) {
	data, dlc, err := withDLC(newDLCCommand(), []int{1, 2})
	if err != nil || dlc != 2 || len(data) != 2 {
		t.Fatalf("default dlc: %v %d %v", data, dlc, err)
	}
	data, dlc, err = withDLC(newDLCCommand("--dlc", "5"), []int{1, 2})
	if err != nil || dlc != 5 || !reflect.DeepEqual(data, []int{1, 2, 0, 0, 0}) {
		t.Fatalf("padded dlc: %v %d %v", data, dlc, err)
	}
	data, dlc, err = withDLC(newDLCCommand("--dlc", "1"), []int{1, 2})
	if err != nil || dlc != 1 || len(data) != 2 {
		t.Fatalf("short dlc: %v %d %v", data, dlc, err)
	}
	if _, _, err := withDLC(newDLCCommand("--dlc", "9"), nil); err == nil {
		t.Fatalf("expected error for dlc 9")
	}
}

func TestSelectPassThrough(t *testing.T) {
	if p, err := selectPort("/dev/ttyUSB0"); err != nil || p != "/dev/ttyUSB0" {
		t.Fatalf("selectPort: %q %v", p, err)
	}
	if s, err := selectSpeed("500 kbps"); err != nil || s != "500 kbps" {
		t.Fatalf("selectSpeed: %q %v", s, err)
	}
}
