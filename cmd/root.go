// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "fdcserv",
	Short: "FDC+ Serial Disk Server",
	Long: `fdcserv - Serve Altair disk images to an FDC+ Enhanced Floppy Disk Controller.

The FDC initiates every transaction over a point-to-point serial link
(403.2K baud 8N1 preferred; 460.8K and 230.4K also work). The server mounts
up to four disk images as drives 0-3 and answers STAT/READ/WRIT commands.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 403200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the FDCSERV_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 403200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
