package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/mcpcan"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available com-ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := mcpcan.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no com-ports found")
			return nil
		}
		usb := color.New(color.FgHiYellow).SprintFunc()
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%s %s\n", p.Name, usb(fmt.Sprintf("USB %s:%s %s", p.VID, p.PID, p.SerialNumber)))
				continue
			}
			fmt.Println(p.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
