// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Transport is the byte-stream link to the controller. Write sends response
// bytes; DiscardInput drops any bytes the transport has buffered but the
// server has not consumed (serial ResetInputBuffer or equivalent).
type Transport interface {
	io.Writer
	DiscardInput() error
}

// pendingWrite is the context a WRIT command carries forward to its data
// completion phase.
type pendingWrite struct {
	drive    uint8
	track    uint16
	trackLen int // clamped
	valid    bool
}

// Server is the FDC+ protocol engine. It is single-threaded by design: all
// methods must be called from one goroutine (the event loop owning the
// transport reads and the watchdog channel). Exactly one command is in
// flight at a time; responses are emitted in request order.
type Server struct {
	cfg       Config
	transport Transport
	events    EventSink
	stats     *Statistics

	drives *DriveManager

	state     int
	buf       []byte // accumulation buffer
	pending   pendingWrite
	selected  uint8 // DriveNone when no drive selected
	connected bool

	watchdog *time.Timer
}

// NewServer creates a protocol server sending responses over transport.
func NewServer(transport Transport, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		cfg:       cfg,
		transport: transport,
		events:    cfg.Events,
		stats:     NewStatistics(),
		state:     stateCommand,
		buf:       make([]byte, 0, MaxTrackLen+ChecksumLen),
		selected:  DriveNone,
	}
	s.drives = NewDriveManager(cfg.Events)
	s.watchdog = time.NewTimer(cfg.Timeout)

	return s
}

// Drives exposes the drive manager for mount/unmount operations. Callers
// must use it from the protocol goroutine.
func (s *Server) Drives() *DriveManager {
	return s.drives
}

// Stats returns the traffic statistics tracker.
func (s *Server) Stats() *Statistics {
	return s.stats
}

// Connected reports whether traffic has been seen since the last watchdog
// expiry.
func (s *Server) Connected() bool {
	return s.connected
}

// SelectedDrive returns the drive the controller last reported selected,
// or DriveNone.
func (s *Server) SelectedDrive() uint8 {
	return s.selected
}

// Watchdog returns the inactivity timer channel. The event loop selects on
// it and calls HandleTimeout when it fires.
func (s *Server) Watchdog() <-chan time.Time {
	return s.watchdog.C
}

// Close releases the watchdog timer and unmounts all drives.
func (s *Server) Close() {
	s.watchdog.Stop()
	s.drives.CloseAll()
}

// expectedLen is the number of bytes the current state needs before it can
// act: a full command frame, or the pending write's track plus checksum.
func (s *Server) expectedLen() int {
	if s.state == stateWriteData {
		return s.pending.trackLen + ChecksumLen
	}
	return FrameSize
}

// Receive feeds bytes from the transport into the session state machine.
// A chunk that would overrun the expected frame size discards the whole
// accumulation and any pending transport input; the controller's own
// timeout resolves the desynchronization.
func (s *Server) Receive(data []byte) {
	expected := s.expectedLen()

	if total := len(s.buf) + len(data); total > expected {
		s.buf = s.buf[:0]
		s.transport.DiscardInput()
		s.stats.Overruns++
		s.events.HandleEvent(DiagnosticError{
			Context: "receive",
			Message: fmt.Sprintf("input overrun: %d bytes for a %d byte frame", total, expected),
		})
		return
	}

	s.buf = append(s.buf, data...)
	if len(s.buf) < expected {
		return
	}

	switch s.state {
	case stateCommand:
		s.dispatchCommand()
	case stateWriteData:
		s.completeWrite()
	}
	s.buf = s.buf[:0]
}

// HandleTimeout implements watchdog expiry: discard partial input, return
// to the command state, and flip the link status once. It also rearms the
// timer so an idle link keeps being swept.
func (s *Server) HandleTimeout() {
	s.transport.DiscardInput()
	s.buf = s.buf[:0]
	s.pending = pendingWrite{}
	s.state = stateCommand

	if s.connected {
		s.connected = false
		s.events.HandleEvent(LinkStatusChanged{Connected: false, Status: StatusTimeout})
	}

	s.watchdog.Reset(s.cfg.Timeout)
}

// dispatchCommand decodes the buffered frame and runs its handler. Frames
// with a bad checksum are dropped without a response; unknown tags are
// ignored so unrecognized commands cannot corrupt state.
func (s *Server) dispatchCommand() {
	frame, ok := DecodeCommand(s.buf)
	if !ok {
		s.stats.ChecksumErrors++
		return
	}

	switch frame.Tag {
	case TagStat:
		s.handleStat(frame)
	case TagRead:
		s.handleRead(frame)
	case TagWrit:
		s.handleWriteRequest(frame)
	}
}

// handleStat services the controller's ~10Hz heartbeat. Param1 carries the
// selected drive (low byte, 0xFF for none) and head-load flag (high byte);
// Param2 is the controller's current track for that drive. The response
// data word is the per-drive mounted bitmask.
func (s *Server) handleStat(frame Frame) {
	s.stats.StatCommands++
	s.stats.touch()

	newDrive := uint8(frame.Param1 & 0xFF)
	headLoaded := frame.Param1>>8 != 0

	if newDrive != s.selected {
		if s.selected < MaxDrives {
			s.drives.SetHeadLoaded(s.selected, false)
		}
		if newDrive < MaxDrives {
			s.events.HandleEvent(DriveSelected{Drive: newDrive})
		}
	}

	if newDrive < MaxDrives {
		s.drives.SetHeadLoaded(newDrive, headLoaded)
		s.drives.UpdateTrack(newDrive, frame.Param2)
	}

	s.selected = newDrive

	s.send(EncodeResponse(TagStat, StatusOK, s.drives.MountedMask()))

	if !s.connected {
		s.connected = true
		s.events.HandleEvent(LinkStatusChanged{Connected: true, Status: StatusLinkUp})
	}
}

// handleRead streams one track back to the controller. The response shape
// is fixed: exactly the clamped track length plus a two-byte checksum. On a
// short or failed read the payload tail stays zero and the checksum is sent
// as zero; the controller's own checksum verification rejects the transfer.
func (s *Server) handleRead(frame Frame) {
	s.stats.ReadCommands++
	s.stats.touch()

	driveNum := frame.Drive()
	if driveNum >= MaxDrives {
		s.events.HandleEvent(DiagnosticError{
			Context: "READ",
			Message: fmt.Sprintf("drive number %d is out of range", driveNum),
		})
		return
	}

	trackLen := s.clampTrackLen(frame.Param2)
	track := s.drives.UpdateTrack(driveNum, frame.Track())

	payload := make([]byte, trackLen)
	var checksum uint16
	if n, err := s.drives.ReadAt(driveNum, payload, int64(track)*int64(trackLen)); n == trackLen && err == nil {
		checksum = Checksum16(payload)
	}

	s.send(appendBlockChecksum(payload, checksum))
}

// handleWriteRequest gates the track data transfer: the controller streams
// the track only after seeing this response. Readiness reflects the mount
// state; the session still transitions so the data block that may follow is
// consumed and discarded rather than misread as commands.
func (s *Server) handleWriteRequest(frame Frame) {
	driveNum := frame.Drive()
	if driveNum >= MaxDrives {
		s.events.HandleEvent(DiagnosticError{
			Context: "WRIT",
			Message: fmt.Sprintf("drive number %d is out of range", driveNum),
		})
		return
	}

	s.stats.WriteCommands++
	s.stats.touch()

	code := StatusNotReady
	if s.drives.IsMounted(driveNum) {
		code = StatusOK
	}
	s.send(EncodeResponse(TagWrit, code, 0))

	s.pending = pendingWrite{
		drive:    driveNum,
		track:    frame.Track(),
		trackLen: s.clampTrackLen(frame.Param2),
		valid:    true,
	}
	s.state = stateWriteData
}

// completeWrite runs once the full track block for a pending WRIT has
// accumulated. The session returns to the command state unconditionally,
// whatever the outcome; the final status travels in the WSTA response.
func (s *Server) completeWrite() {
	pw := s.pending
	s.pending = pendingWrite{}
	s.state = stateCommand

	if !pw.valid || pw.drive >= MaxDrives {
		s.events.HandleEvent(DiagnosticError{
			Context: "WSTA",
			Message: fmt.Sprintf("drive number %d is out of range", pw.drive),
		})
		return
	}

	payload := s.buf[:pw.trackLen]
	received := binary.LittleEndian.Uint16(s.buf[pw.trackLen:])

	var code uint16
	switch {
	case received != Checksum16(payload):
		code = StatusChecksumErr
		s.stats.ChecksumErrors++
	case !s.drives.IsMounted(pw.drive):
		code = StatusNotReady
	default:
		track := s.drives.UpdateTrack(pw.drive, pw.track)
		n, err := s.drives.WriteAt(pw.drive, payload, int64(track)*int64(pw.trackLen))
		if n != len(payload) || err != nil {
			code = StatusWriteErr
			s.events.HandleEvent(DiagnosticError{
				Context: "WSTA",
				Message: fmt.Sprintf("write failed: wrote %d of %d bytes: %v", n, len(payload), err),
			})
		} else {
			code = StatusOK
		}
	}

	s.send(EncodeResponse(TagWsta, code, 0))
}

func (s *Server) clampTrackLen(requested uint16) int {
	trackLen := int(requested)
	if trackLen > s.cfg.MaxTrackLen {
		trackLen = s.cfg.MaxTrackLen
	}
	return trackLen
}

// send writes response bytes and rearms the watchdog. Transport failures
// are surfaced as diagnostics, never as protocol errors.
func (s *Server) send(data []byte) {
	if _, err := s.transport.Write(data); err != nil {
		s.events.HandleEvent(DiagnosticError{
			Context: "send",
			Message: fmt.Sprintf("transport write failed: %v", err),
		})
	}
	s.stats.ResponsePackets++

	if !s.watchdog.Stop() {
		select {
		case <-s.watchdog.C:
		default:
		}
	}
	s.watchdog.Reset(s.cfg.Timeout)
}
