// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/altairfdc/fdcserv/pkg/fdc"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
	probeCount   int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe a disk server by acting as the controller",
	Long: `Send STAT commands to a running disk server and decode the responses.

probe plays the FDC's role on the link: it sends a STAT frame (no drive
selected, head unloaded) and waits for the ten-byte STAT response, then
prints the per-drive mount bitmask. Useful for verifying a server is alive
before connecting real hardware.

Exit codes:
  0 - All probes answered
  1 - One or more probes timed out
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 3, "Timeout in seconds for each probe")
	probeCmd.Flags().IntVar(&probeCount, "count", 3, "Number of STAT probes to send")
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("fdcserv - Server Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per probe\n", probeTimeout)
	fmt.Printf("Count: %d probes\n\n", probeCount)

	answered, err := probeServer(conn, probeCount, time.Duration(probeTimeout)*time.Second, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("\n%d of %d probes answered\n", answered, probeCount)
	if answered < probeCount {
		os.Exit(1)
	}
	return nil
}

type probeResult struct {
	frame fdc.Frame
	err   error
}

// probeServer plays the controller end of the link: it sends count STAT
// frames and waits for each response, returning how many were answered. A
// single reader goroutine owns all connection reads, and responses left over
// from a timed-out probe are drained before the next request so they cannot
// be mistaken for its answer.
func probeServer(conn Connection, count int, timeout time.Duration, w io.Writer) (int, error) {
	// STAT with no drive selected, head unloaded, track 0.
	request := fdc.EncodeCommand(fdc.TagStat, uint16(fdc.DriveNone), 0)

	results := make(chan probeResult, count)
	go func() {
		for {
			buf := make([]byte, fdc.FrameSize)
			filled := 0
			for filled < fdc.FrameSize {
				n, err := conn.Read(buf[filled:])
				if err != nil {
					results <- probeResult{err: err}
					return
				}
				filled += n
			}
			if frame, ok := fdc.DecodeCommand(buf); ok {
				results <- probeResult{frame: frame}
			} else {
				results <- probeResult{err: fmt.Errorf("response failed checksum")}
			}
		}
	}()

	answered := 0
	for i := 0; i < count; i++ {
		// Drop any stale response from an earlier probe that timed out.
		drained := false
		for !drained {
			select {
			case <-results:
			default:
				drained = true
			}
		}

		start := time.Now()
		if _, err := conn.Write(request); err != nil {
			return answered, fmt.Errorf("send failed: %v", err)
		}

		select {
		case r := <-results:
			if r.err != nil {
				fmt.Fprintf(w, "probe %d: %v\n", i+1, r.err)
				continue
			}
			answered++
			fmt.Fprintf(w, "probe %d: %s in %s\n", i+1, fdc.FormatFrame(r.frame, true), time.Since(start).Round(time.Millisecond))
			for drive := 0; drive < fdc.MaxDrives; drive++ {
				state := "not mounted"
				if r.frame.Param2&(1<<drive) != 0 {
					state = "mounted"
				}
				fmt.Fprintf(w, "  drive %d: %s\n", drive, state)
			}
		case <-time.After(timeout):
			fmt.Fprintf(w, "probe %d: timeout\n", i+1)
		}

		time.Sleep(100 * time.Millisecond)
	}
	return answered, nil
}
