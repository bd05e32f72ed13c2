// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate serial ports",
	Long: `Enumerate the serial ports on this machine.

Useful for finding the --port value for serve. USB serial adapters show
their VID:PID and serial number.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to enumerate ports: %v", err)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	for _, port := range ports {
		fmt.Printf("%s\n", port.Name)
		if port.IsUSB {
			fmt.Printf("  USB ID: %s:%s\n", port.VID, port.PID)
			if port.SerialNumber != "" {
				fmt.Printf("  Serial: %s\n", port.SerialNumber)
			}
		}
	}

	return nil
}
