// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/altairfdc/fdcserv/pkg/fdc"
	"github.com/spf13/cobra"
)

var captureHex bool

var captureCmd = &cobra.Command{
	Use:   "capture <file>",
	Short: "Display a traffic capture in human-readable format",
	Long: `Decode a capture file written by serve --capture.

Each record holds a timestamped chunk of raw link traffic. Ten-byte chunks
that pass the frame checksum are decoded as command or response frames;
everything else prints as a hex dump (track data blocks, partial frames).`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().BoolVar(&captureHex, "hex", false, "Hex dump every record, even decodable frames")
}

func runCapture(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := fdc.ReadTrace(f)
	if err != nil {
		return fmt.Errorf("reading capture: %v", err)
	}

	for _, rec := range records {
		timestamp := rec.Time().Format("15:04:05.000")
		dir := "FDC->SRV"
		if rec.Dir == fdc.DirTransmit {
			dir = "SRV->FDC"
		}
		fmt.Printf("[%s] %s %d bytes\n", timestamp, dir, len(rec.Data))

		if !captureHex && len(rec.Data) == fdc.FrameSize {
			if frame, ok := fdc.DecodeCommand(rec.Data); ok {
				fmt.Printf("  %s\n", fdc.FormatFrame(frame, rec.Dir == fdc.DirTransmit))
				continue
			}
		}
		fmt.Print(fdc.HexDump(rec.Data, "  "))
	}

	fmt.Printf("\n%d records\n", len(records))
	return nil
}
