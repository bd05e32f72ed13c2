// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/altairfdc/fdcserv/pkg/fdc"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	serveMounts    []string
	serveTimeoutMs int
	serveCapture   string
	serveTUI       bool
	statsInterval  int
)

var serveCmd = &cobra.Command{
	Use:   "serve [drive:image ...]",
	Short: "Serve disk images to the FDC",
	Long: `Run the disk server on a serial port or WebSocket bridge.

Disk images are mounted with --mount drive:path (or as positional
drive:image arguments) and can be mounted and unmounted at runtime from the
TUI. Image geometry is classified by exact file size: 76800 bytes is a 75K
image (34 tracks), 337664 bytes a 330K image (76 tracks), 8978432 bytes an
8MB image (2047 tracks); anything else is served as 2047 tracks.

The server answers STAT roughly ten times a second while the FDC is up; two
seconds without traffic flags the link as down and resets the protocol.

Examples:
  # Serve two images over serial
  fdcserv serve --port /dev/ttyUSB0 0:cpm63k.dsk 1:games.dsk

  # Headless with a traffic capture
  fdcserv serve --port /dev/ttyUSB0 --tui=false --capture session.cap 0:cpm63k.dsk`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringArrayVar(&serveMounts, "mount", nil, "Mount an image at startup (drive:path)")
	serveCmd.Flags().IntVar(&serveTimeoutMs, "timeout", 2000, "Watchdog inactivity timeout (milliseconds)")
	serveCmd.Flags().StringVar(&serveCapture, "capture", "", "Write raw link traffic to a capture file")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", true, "Use terminal UI (false for text mode)")
	serveCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics summary interval in text mode (seconds)")
}

// ctrlRequest is a runtime order for the protocol loop: mount or unmount an
// image, or reset the statistics counters. Everything that touches the Server
// goes through this channel so the core stays single-threaded.
type ctrlRequest struct {
	drive      int
	path       string
	unmount    bool
	resetStats bool
}

// parseMountSpec parses a "drive:path" argument.
func parseMountSpec(spec string) (ctrlRequest, error) {
	idx := strings.Index(spec, ":")
	if idx < 1 {
		return ctrlRequest{}, fmt.Errorf("invalid mount spec %q (want drive:path)", spec)
	}
	drive, err := strconv.Atoi(spec[:idx])
	if err != nil || drive < 0 || drive >= fdc.MaxDrives {
		return ctrlRequest{}, fmt.Errorf("invalid drive in mount spec %q (want 0-%d)", spec, fdc.MaxDrives-1)
	}
	path := spec[idx+1:]
	if path == "" {
		return ctrlRequest{}, fmt.Errorf("invalid mount spec %q (empty path)", spec)
	}
	return ctrlRequest{drive: drive, path: path}, nil
}

// traceTransport records outbound bytes before handing them to the link.
// Inbound bytes are recorded by the read loop.
type traceTransport struct {
	Connection
	trace *fdc.TraceWriter
}

func (t *traceTransport) Write(p []byte) (int, error) {
	if t.trace != nil {
		t.trace.Record(fdc.DirTransmit, p)
	}
	return t.Connection.Write(p)
}

func runServe(cmd *cobra.Command, args []string) error {
	var mounts []ctrlRequest
	for _, spec := range append(append([]string{}, serveMounts...), args...) {
		req, err := parseMountSpec(spec)
		if err != nil {
			return err
		}
		mounts = append(mounts, req)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var trace *fdc.TraceWriter
	if serveCapture != "" {
		f, err := os.Create(serveCapture)
		if err != nil {
			return fmt.Errorf("capture file: %v", err)
		}
		defer f.Close()
		trace = fdc.NewTraceWriter(f)
	}

	transport := &traceTransport{Connection: conn, trace: trace}
	ctrl := make(chan ctrlRequest, 8)
	timeout := time.Duration(serveTimeoutMs) * time.Millisecond

	if serveTUI {
		return runServeTUI(transport, connInfo, timeout, mounts, ctrl, trace)
	}
	return runServeText(transport, connInfo, timeout, mounts, ctrl, trace)
}

// runServeText runs headless, printing events as log lines and a periodic
// statistics summary.
func runServeText(transport *traceTransport, connInfo string, timeout time.Duration, mounts []ctrlRequest, ctrl chan ctrlRequest, trace *fdc.TraceWriter) error {
	sink := fdc.EventFunc(logEvent)

	srv := fdc.NewServer(transport, fdc.WithTimeout(timeout), fdc.WithEventSink(sink))
	defer srv.Close()

	for _, req := range mounts {
		if err := srv.Drives().Mount(req.drive, req.path); err != nil {
			return err
		}
	}

	fmt.Printf("fdcserv - FDC+ Serial Disk Server\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sig
		close(done)
	}()

	ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer ticker.Stop()

	err := serverLoop(transport, srv, sink, ctrl, trace, done, ticker.C, func(s fdc.Statistics) {
		fmt.Print(s.String())
	})

	fmt.Print(srv.Stats().String())
	return err
}

// serverLoop is the single goroutine that owns the Server: transport bytes,
// watchdog expiry, mount orders, statistics resets and snapshots are all
// serviced here, so the protocol core needs no locking. onStats receives a
// counter snapshot on every tick.
func serverLoop(transport *traceTransport, srv *fdc.Server, sink fdc.EventSink, ctrl <-chan ctrlRequest, trace *fdc.TraceWriter, done <-chan struct{}, tick <-chan time.Time, onStats func(fdc.Statistics)) error {
	data := make(chan []byte, 32)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, fdc.MaxTrackLen+fdc.ChecksumLen)
		for {
			n, err := transport.Read(buf)
			if err != nil {
				readErr <- err
				return
			}
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case data <- chunk:
				case <-done:
					return
				}
			}
		}
	}()

	for {
		select {
		case chunk := <-data:
			if trace != nil {
				trace.Record(fdc.DirReceive, chunk)
			}
			srv.Receive(chunk)

		case <-srv.Watchdog():
			srv.HandleTimeout()

		case req := <-ctrl:
			if req.resetStats {
				srv.Stats().Reset()
				continue
			}
			var err error
			if req.unmount {
				err = srv.Drives().Unmount(req.drive)
			} else {
				err = srv.Drives().Mount(req.drive, req.path)
			}
			if err != nil {
				sink.HandleEvent(fdc.DiagnosticError{Context: "mount", Message: err.Error()})
			}

		case <-tick:
			if onStats != nil {
				onStats(srv.Stats().Snapshot())
			}

		case err := <-readErr:
			if err == ErrConnectionClosed {
				return nil
			}
			return fmt.Errorf("read error: %v", err)

		case <-done:
			return nil
		}
	}
}

// runServeTUI runs the protocol loop in the background and the dashboard in
// the foreground, bridged by tea.Program.Send. The dashboard never touches
// the Server directly: counters arrive as snapshot messages and resets go
// back through the control channel.
func runServeTUI(transport *traceTransport, connInfo string, timeout time.Duration, mounts []ctrlRequest, ctrl chan ctrlRequest, trace *fdc.TraceWriter) error {
	done := make(chan struct{})

	var program *tea.Program
	sink := fdc.EventFunc(func(e fdc.Event) {
		if program != nil {
			program.Send(fdcEventMsg{event: e})
		}
	})

	srv := fdc.NewServer(transport, fdc.WithTimeout(timeout), fdc.WithEventSink(sink))
	defer srv.Close()

	model := newServeModel(connInfo, ctrl)
	program = tea.NewProgram(model, tea.WithAltScreen())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	go func() {
		// Mount after the program exists so mount events reach the UI.
		for _, req := range mounts {
			ctrl <- req
		}
		onStats := func(s fdc.Statistics) {
			program.Send(statsMsg{stats: s})
		}
		if err := serverLoop(transport, srv, sink, ctrl, trace, done, ticker.C, onStats); err != nil {
			program.Send(serveErrMsg{err: err})
		}
	}()

	_, err := program.Run()
	close(done)
	return err
}

// logEvent prints a core event as a text-mode log line.
func logEvent(e fdc.Event) {
	switch ev := e.(type) {
	case fdc.MountChanged:
		if ev.Mounted {
			log.Printf("drive %d: mounted %s (%d tracks, %s)", ev.Drive, ev.Path, ev.Tracks, ev.Size)
		} else {
			log.Printf("drive %d: unmounted", ev.Drive)
		}
	case fdc.TrackChanged:
		log.Printf("drive %d: track %d", ev.Drive, ev.Track)
	case fdc.HeadChanged:
		if ev.Loaded {
			log.Printf("drive %d: head loaded", ev.Drive)
		} else {
			log.Printf("drive %d: head unloaded", ev.Drive)
		}
	case fdc.DriveSelected:
		log.Printf("drive %d: selected", ev.Drive)
	case fdc.LinkStatusChanged:
		log.Printf("link: %s", ev.Status)
	case fdc.DiagnosticError:
		log.Printf("error: %s: %s", ev.Context, ev.Message)
	}
}
