// SPDX-License-Identifier: Apache-2.0

// Package fdc implements the server side of the FDC+ serial disk protocol.
//
// The FDC+ Enhanced Floppy Disk Controller talks to a disk server over a
// point-to-point serial link (403.2K baud 8N1 preferred). All transactions
// are initiated by the controller; the server is purely reactive. Commands
// are fixed ten-byte frames: a four-byte ASCII tag, two little-endian 16-bit
// parameters, and a 16-bit checksum computed as the wraparound sum of the
// first eight bytes. Track data travels as a raw byte block followed by a
// two-byte checksum of the payload.
//
// This package provides the checksum, the frame codec, the two-state
// command/data session state machine, the drive manager for up to four
// mounted disk images, and the inactivity watchdog. It never depends on any
// UI types; status changes are published as typed events through an
// EventSink.
package fdc

// Frame geometry. The checksum field covers only the first CmdLen bytes.
const (
	CmdLen      = 8 // command frame minus checksum
	ChecksumLen = 2
	FrameSize   = CmdLen + ChecksumLen
)

// MaxDrives is the number of drive slots the protocol can address.
const MaxDrives = 4

// DriveNone is the selected-drive sentinel the controller sends when no
// drive is selected.
const DriveNone = 0xFF

// MaxTrackLen is the largest track the server will transfer. Requests for
// longer tracks are clamped to this size for both transfer length and
// checksum purposes.
const MaxTrackLen = 137 * 32

// Command and response tags (four ASCII bytes on the wire).
const (
	TagStat = "STAT"
	TagRead = "READ"
	TagWrit = "WRIT"
	TagWsta = "WSTA"
)

// Response codes.
const (
	StatusOK          uint16 = 0x0000
	StatusNotReady    uint16 = 0x0001
	StatusChecksumErr uint16 = 0x0002
	StatusWriteErr    uint16 = 0x0003
)

// Session states (internal).
const (
	stateCommand = iota // awaiting a ten-byte command frame
	stateWriteData      // awaiting a track data block after a WRIT
)

// Link status strings published with LinkStatusChanged events.
const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
	StatusLinkUp  = "Connected"
	StatusTimeout = "Communications timeout"
)
