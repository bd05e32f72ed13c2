// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

// fakeTransport records everything the server sends.
type fakeTransport struct {
	writes   [][]byte
	discards int
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) DiscardInput() error {
	f.discards++
	return nil
}

func (f *fakeTransport) clear() {
	f.writes = nil
}

// lastWrite returns the most recent chunk the server sent.
func (f *fakeTransport) lastWrite(t *testing.T) []byte {
	t.Helper()
	if len(f.writes) == 0 {
		t.Fatal("server sent nothing")
	}
	return f.writes[len(f.writes)-1]
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeTransport, *eventRecorder) {
	t.Helper()
	transport := &fakeTransport{}
	rec := &eventRecorder{}
	srv := NewServer(transport, append([]Option{WithEventSink(rec)}, opts...)...)
	t.Cleanup(srv.Close)
	return srv, transport, rec
}

// decodeResponse decodes a ten-byte response the server sent.
func decodeResponse(t *testing.T, buf []byte) Frame {
	t.Helper()
	if len(buf) != FrameSize {
		t.Fatalf("response is %d bytes, want %d", len(buf), FrameSize)
	}
	frame, ok := DecodeCommand(buf)
	if !ok {
		t.Fatal("response failed its own checksum")
	}
	return frame
}

func statCommand(drive uint8, headLoaded bool, track uint16) []byte {
	param1 := uint16(drive)
	if headLoaded {
		param1 |= 0x0100
	}
	return EncodeCommand(TagStat, param1, track)
}

// ============================================================
// STAT
// ============================================================

func TestStat_MountBitmask(t *testing.T) {
	srv, transport, _ := newTestServer(t)
	srv.Drives().Mount(0, makeImage(t, 76800))
	srv.Drives().Mount(3, makeImage(t, 337664))

	srv.Receive(statCommand(DriveNone, false, 0))

	frame := decodeResponse(t, transport.lastWrite(t))
	if frame.Tag != TagStat {
		t.Errorf("response tag = %q, want STAT", frame.Tag)
	}
	if frame.Param1 != StatusOK {
		t.Errorf("response code = 0x%04X, want OK", frame.Param1)
	}
	if frame.Param2 != 0b1001 {
		t.Errorf("mount bitmask = 0x%04X, want 0x0009", frame.Param2)
	}
}

func TestStat_LinkComesUp(t *testing.T) {
	srv, _, rec := newTestServer(t)

	if srv.Connected() {
		t.Fatal("server should start disconnected")
	}

	srv.Receive(statCommand(DriveNone, false, 0))

	if !srv.Connected() {
		t.Error("server should be connected after a STAT exchange")
	}
	ev, ok := lastEvent[LinkStatusChanged](rec)
	if !ok || !ev.Connected || ev.Status != StatusLinkUp {
		t.Errorf("expected LinkStatusChanged connected, got %+v", rec.events)
	}
}

func TestStat_SelectionAndHeadSync(t *testing.T) {
	srv, _, rec := newTestServer(t)
	srv.Drives().Mount(0, makeImage(t, 76800))
	srv.Drives().Mount(1, makeImage(t, 76800))

	// Select drive 0 with the head loaded at track 12
	srv.Receive(statCommand(0, true, 12))

	if srv.SelectedDrive() != 0 {
		t.Fatalf("selected drive = %d, want 0", srv.SelectedDrive())
	}
	if !srv.Drives().HeadLoaded(0) {
		t.Error("drive 0 head should be loaded")
	}
	if srv.Drives().CurTrack(0) != 12 {
		t.Errorf("drive 0 track = %d, want 12", srv.Drives().CurTrack(0))
	}

	// Switching to drive 1 clears drive 0's head and reports selection
	rec.clear()
	srv.Receive(statCommand(1, true, 3))

	if srv.Drives().HeadLoaded(0) {
		t.Error("drive 0 head should be cleared after selection change")
	}
	if !srv.Drives().HeadLoaded(1) {
		t.Error("drive 1 head should be loaded")
	}
	if ev, ok := lastEvent[DriveSelected](rec); !ok || ev.Drive != 1 {
		t.Errorf("expected DriveSelected drive 1, got %+v", rec.events)
	}
	if srv.Drives().CurTrack(1) != 3 {
		t.Errorf("drive 1 track = %d, want 3", srv.Drives().CurTrack(1))
	}
}

func TestStat_NoneSentinel(t *testing.T) {
	srv, transport, _ := newTestServer(t)
	srv.Drives().Mount(0, makeImage(t, 76800))

	srv.Receive(statCommand(0, true, 5))
	srv.Receive(statCommand(DriveNone, false, 0))

	if srv.SelectedDrive() != DriveNone {
		t.Errorf("selected drive = 0x%02X, want DriveNone", srv.SelectedDrive())
	}
	if srv.Drives().HeadLoaded(0) {
		t.Error("deselecting should clear the head")
	}
	// Both STATs still answered
	if len(transport.writes) != 2 {
		t.Errorf("sent %d responses, want 2", len(transport.writes))
	}
}

// ============================================================
// Frame validation
// ============================================================

func TestBadChecksum_DroppedSilently(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	cmd := statCommand(DriveNone, false, 0)
	cmd[9] ^= 0xFF
	srv.Receive(cmd)

	if len(transport.writes) != 0 {
		t.Error("corrupt command must produce no response")
	}
	if srv.Stats().ChecksumErrors != 1 {
		t.Errorf("ChecksumErrors = %d, want 1", srv.Stats().ChecksumErrors)
	}

	// Server recovers on the next good frame
	srv.Receive(statCommand(DriveNone, false, 0))
	if len(transport.writes) != 1 {
		t.Error("server did not recover after a corrupt command")
	}
}

func TestUnknownTag_Ignored(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	srv.Receive(EncodeCommand("BOOT", 1, 2))

	if len(transport.writes) != 0 {
		t.Error("unknown tag must produce no response")
	}
	if srv.Stats().ChecksumErrors != 0 {
		t.Error("unknown tag must not count as a checksum error")
	}

	srv.Receive(statCommand(DriveNone, false, 0))
	if len(transport.writes) != 1 {
		t.Error("server did not process the command after an unknown tag")
	}
}

func TestReceive_ByteAtATime(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	cmd := statCommand(DriveNone, false, 0)
	for _, b := range cmd {
		srv.Receive([]byte{b})
	}

	if len(transport.writes) != 1 {
		t.Fatalf("sent %d responses, want 1", len(transport.writes))
	}
}

func TestReceive_Overrun(t *testing.T) {
	srv, transport, rec := newTestServer(t)

	// Twelve bytes cannot fit a ten-byte command frame
	srv.Receive(make([]byte, 12))

	if transport.discards != 1 {
		t.Errorf("DiscardInput called %d times, want 1", transport.discards)
	}
	if _, ok := lastEvent[DiagnosticError](rec); !ok {
		t.Error("overrun should publish DiagnosticError")
	}
	if srv.Stats().Overruns != 1 {
		t.Errorf("Overruns = %d, want 1", srv.Stats().Overruns)
	}

	// Accumulation was cleared; a fresh frame works
	srv.Receive(statCommand(DriveNone, false, 0))
	if len(transport.writes) != 1 {
		t.Error("server did not recover after an overrun")
	}
}

// ============================================================
// READ
// ============================================================

func TestRead_TrackPayload(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	// 330K image with a recognizable first track
	path := makeImage(t, 337664)
	trackLen := uint16(137 * 32)
	pattern := make([]byte, trackLen)
	for i := range pattern {
		pattern[i] = byte(i * 7)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(pattern, 0); err != nil {
		t.Fatal(err)
	}
	f.Close()

	srv.Drives().Mount(0, path)
	srv.Receive(EncodeCommand(TagRead, 0, trackLen))

	block := transport.lastWrite(t)
	if len(block) != int(trackLen)+ChecksumLen {
		t.Fatalf("data block is %d bytes, want %d", len(block), int(trackLen)+ChecksumLen)
	}
	if !bytes.Equal(block[:trackLen], pattern) {
		t.Error("payload does not match the image's first track")
	}
	if sum := binary.LittleEndian.Uint16(block[trackLen:]); sum != Checksum16(pattern) {
		t.Errorf("block checksum = 0x%04X, want 0x%04X", sum, Checksum16(pattern))
	}
}

func TestRead_UnmountedDriveZeroChecksum(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	srv.Receive(EncodeCommand(TagRead, 1<<12|5, 128))

	// Fixed-shape response: full-length payload, checksum zero
	block := transport.lastWrite(t)
	if len(block) != 128+ChecksumLen {
		t.Fatalf("data block is %d bytes, want %d", len(block), 128+ChecksumLen)
	}
	if sum := binary.LittleEndian.Uint16(block[128:]); sum != 0 {
		t.Errorf("checksum = 0x%04X, want 0 on failed read", sum)
	}
	if srv.Drives().CurTrack(1) != 0 {
		t.Error("unmounted drive must stay on track 0")
	}
}

func TestRead_ShortReadZeroChecksum(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	// 100-byte image cannot satisfy a 128-byte track
	srv.Drives().Mount(0, makeImage(t, 100))
	srv.Receive(EncodeCommand(TagRead, 0, 128))

	block := transport.lastWrite(t)
	if len(block) != 128+ChecksumLen {
		t.Fatalf("data block is %d bytes, want %d", len(block), 128+ChecksumLen)
	}
	if sum := binary.LittleEndian.Uint16(block[128:]); sum != 0 {
		t.Errorf("checksum = 0x%04X, want 0 on short read", sum)
	}
}

func TestRead_ClampsTrackLength(t *testing.T) {
	srv, transport, _ := newTestServer(t, WithMaxTrackLen(256))

	srv.Drives().Mount(0, makeImage(t, 76800))
	srv.Receive(EncodeCommand(TagRead, 0, 0xFFFF))

	block := transport.lastWrite(t)
	if len(block) != 256+ChecksumLen {
		t.Fatalf("data block is %d bytes, want clamped %d", len(block), 256+ChecksumLen)
	}
}

func TestRead_OutOfRangeDrive(t *testing.T) {
	srv, transport, rec := newTestServer(t)

	srv.Receive(EncodeCommand(TagRead, 5<<12, 128))

	if len(transport.writes) != 0 {
		t.Error("out-of-range READ must produce no response")
	}
	if _, ok := lastEvent[DiagnosticError](rec); !ok {
		t.Error("out-of-range READ should publish DiagnosticError")
	}
}

// ============================================================
// WRIT
// ============================================================

// writeTrack drives a full WRIT exchange and returns the WSTA response.
func writeTrack(t *testing.T, srv *Server, transport *fakeTransport, drive uint8, track uint16, block []byte) (writResp, wstaResp Frame) {
	t.Helper()

	trackLen := uint16(len(block) - ChecksumLen)
	srv.Receive(EncodeCommand(TagWrit, uint16(drive)<<12|track, trackLen))
	writResp = decodeResponse(t, transport.lastWrite(t))
	if writResp.Tag != TagWrit {
		t.Fatalf("gate response tag = %q, want WRIT", writResp.Tag)
	}

	transport.clear()
	srv.Receive(block)
	wstaResp = decodeResponse(t, transport.lastWrite(t))
	if wstaResp.Tag != TagWsta {
		t.Fatalf("final response tag = %q, want WSTA", wstaResp.Tag)
	}
	return writResp, wstaResp
}

func TestWrit_EndToEnd(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	path := makeImage(t, 337664)
	srv.Drives().Mount(0, path)

	trackLen := 512
	payload := make([]byte, trackLen)
	for i := range payload {
		payload[i] = byte(i ^ 0x5A)
	}

	writResp, wstaResp := writeTrack(t, srv, transport, 0, 5, EncodeDataBlock(payload))

	if writResp.Param1 != StatusOK {
		t.Errorf("WRIT code = 0x%04X, want OK", writResp.Param1)
	}
	if wstaResp.Param1 != StatusOK {
		t.Errorf("WSTA code = 0x%04X, want OK", wstaResp.Param1)
	}
	if srv.Drives().CurTrack(0) != 5 {
		t.Errorf("track = %d after write, want 5", srv.Drives().CurTrack(0))
	}

	// The image holds the payload at offset track*trackLen
	got := make([]byte, trackLen)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.ReadAt(got, int64(5*trackLen)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("image bytes at track offset do not match the written payload")
	}
}

func TestWrit_UnmountedNotReady(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	payload := make([]byte, 64)
	writResp, wstaResp := writeTrack(t, srv, transport, 0, 2, EncodeDataBlock(payload))

	if writResp.Param1 != StatusNotReady {
		t.Errorf("WRIT code = 0x%04X, want NOT_READY", writResp.Param1)
	}
	// The data block is still consumed, then reported not ready
	if wstaResp.Param1 != StatusNotReady {
		t.Errorf("WSTA code = 0x%04X, want NOT_READY", wstaResp.Param1)
	}

	// Session is back in the command state
	transport.clear()
	srv.Receive(statCommand(DriveNone, false, 0))
	if len(transport.writes) != 1 {
		t.Error("server did not return to the command state")
	}
}

func TestWrit_BadBlockChecksum(t *testing.T) {
	srv, transport, _ := newTestServer(t)

	path := makeImage(t, 76800)
	srv.Drives().Mount(0, path)

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = 0xA5
	}
	block := EncodeDataBlock(payload)
	block[len(block)-1] ^= 0xFF

	_, wstaResp := writeTrack(t, srv, transport, 0, 1, block)

	if wstaResp.Param1 != StatusChecksumErr {
		t.Errorf("WSTA code = 0x%04X, want CHECKSUM_ERR", wstaResp.Param1)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("a rejected block must never reach the backing image")
	}
}

func TestWrit_OutOfRangeDrive(t *testing.T) {
	srv, transport, rec := newTestServer(t)

	srv.Receive(EncodeCommand(TagWrit, 7<<12|1, 64))

	if len(transport.writes) != 0 {
		t.Error("out-of-range WRIT must produce no response")
	}
	if _, ok := lastEvent[DiagnosticError](rec); !ok {
		t.Error("out-of-range WRIT should publish DiagnosticError")
	}

	// No transition happened: a command frame is processed next
	srv.Receive(statCommand(DriveNone, false, 0))
	if len(transport.writes) != 1 {
		t.Error("out-of-range WRIT must not enter the write-data state")
	}
}

func TestWrit_DataSplitAcrossReceives(t *testing.T) {
	srv, transport, _ := newTestServer(t)
	srv.Drives().Mount(0, makeImage(t, 76800))

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	block := EncodeDataBlock(payload)

	srv.Receive(EncodeCommand(TagWrit, 0, uint16(len(payload))))
	transport.clear()

	srv.Receive(block[:30])
	srv.Receive(block[30:75])
	if len(transport.writes) != 0 {
		t.Fatal("server responded before the block completed")
	}
	srv.Receive(block[75:])

	wstaResp := decodeResponse(t, transport.lastWrite(t))
	if wstaResp.Tag != TagWsta || wstaResp.Param1 != StatusOK {
		t.Errorf("final response = %+v, want WSTA/OK", wstaResp)
	}
}

// ============================================================
// Watchdog
// ============================================================

func TestWatchdog_ResetsWriteState(t *testing.T) {
	srv, transport, rec := newTestServer(t)
	srv.Drives().Mount(0, makeImage(t, 76800))

	// Bring the link up, then strand a write mid-transfer
	srv.Receive(statCommand(DriveNone, false, 0))
	srv.Receive(EncodeCommand(TagWrit, 0, 100))
	srv.Receive(make([]byte, 40)) // partial track data
	transport.clear()
	rec.clear()

	srv.HandleTimeout()

	if srv.Connected() {
		t.Error("timeout should mark the link disconnected")
	}
	if ev, ok := lastEvent[LinkStatusChanged](rec); !ok || ev.Connected || ev.Status != StatusTimeout {
		t.Errorf("expected LinkStatusChanged timeout, got %+v", rec.events)
	}
	if transport.discards == 0 {
		t.Error("timeout should discard pending transport input")
	}

	// No residual bytes leak into the next frame
	srv.Receive(statCommand(DriveNone, false, 0))
	frame := decodeResponse(t, transport.lastWrite(t))
	if frame.Tag != TagStat {
		t.Errorf("response tag = %q, want STAT", frame.Tag)
	}
	if !srv.Connected() {
		t.Error("link should come back up on the next STAT")
	}
}

func TestWatchdog_ExpiryWhileDisconnected(t *testing.T) {
	srv, _, rec := newTestServer(t)

	srv.HandleTimeout()
	if _, ok := lastEvent[LinkStatusChanged](rec); ok {
		t.Error("expiry while already disconnected must not publish a link event")
	}
}

func TestWatchdog_RearmedOnResponse(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Drain any pending expiry, then check a response rearms the timer
	srv.Receive(statCommand(DriveNone, false, 0))
	select {
	case <-srv.Watchdog():
		t.Error("watchdog fired immediately after a response")
	default:
	}
}

// ============================================================
// Counters
// ============================================================

func TestStats_CommandCounters(t *testing.T) {
	srv, transport, _ := newTestServer(t)
	srv.Drives().Mount(0, makeImage(t, 76800))

	srv.Receive(statCommand(DriveNone, false, 0))
	srv.Receive(EncodeCommand(TagRead, 0, 64))
	writeTrack(t, srv, transport, 0, 0, EncodeDataBlock(make([]byte, 64)))

	stats := srv.Stats()
	if stats.StatCommands != 1 || stats.ReadCommands != 1 || stats.WriteCommands != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", stats.StatCommands, stats.ReadCommands, stats.WriteCommands)
	}
	// STAT response + READ block + WRIT gate + WSTA
	if stats.ResponsePackets != 4 {
		t.Errorf("ResponsePackets = %d, want 4", stats.ResponsePackets)
	}
}
