// SPDX-License-Identifier: Apache-2.0

package fdc

import "encoding/binary"

// Frame is a decoded ten-byte command or response frame.
//
// In a command from the controller, Param1 and Param2 carry the command
// parameters. In a response from the server the same two words are the
// response code and response data.
type Frame struct {
	Tag    string // four ASCII bytes
	Param1 uint16
	Param2 uint16
}

// Drive returns the drive number from a READ/WRIT Param1 (most significant
// nibble).
func (f Frame) Drive() uint8 {
	return uint8(f.Param1 >> 12)
}

// Track returns the track number from a READ/WRIT Param1 (low twelve bits).
func (f Frame) Track() uint16 {
	return f.Param1 & 0x0FFF
}

// DecodeCommand parses a ten-byte command frame. It returns ok=false when
// buf is not exactly FrameSize bytes or the checksum field does not match
// the wraparound sum of the first eight bytes. Decode never fails any other
// way; checksum handling is the caller's concern.
func DecodeCommand(buf []byte) (Frame, bool) {
	if len(buf) != FrameSize {
		return Frame{}, false
	}
	if binary.LittleEndian.Uint16(buf[8:10]) != Checksum16(buf[:CmdLen]) {
		return Frame{}, false
	}
	return Frame{
		Tag:    string(buf[0:4]),
		Param1: binary.LittleEndian.Uint16(buf[4:6]),
		Param2: binary.LittleEndian.Uint16(buf[6:8]),
	}, true
}

// EncodeResponse builds a ten-byte response frame with the checksum computed
// over the first eight bytes. The tag must be four ASCII bytes.
func EncodeResponse(tag string, code, data uint16) []byte {
	buf := make([]byte, FrameSize)
	copy(buf[0:4], tag)
	binary.LittleEndian.PutUint16(buf[4:6], code)
	binary.LittleEndian.PutUint16(buf[6:8], data)
	binary.LittleEndian.PutUint16(buf[8:10], Checksum16(buf[:CmdLen]))
	return buf
}

// EncodeCommand builds a ten-byte command frame. The server never sends
// commands; this exists for controller-side tooling and tests.
func EncodeCommand(tag string, param1, param2 uint16) []byte {
	return EncodeResponse(tag, param1, param2)
}

// EncodeDataBlock appends the two-byte little-endian checksum of payload,
// producing a complete track data block.
func EncodeDataBlock(payload []byte) []byte {
	return appendBlockChecksum(payload, Checksum16(payload))
}

func appendBlockChecksum(payload []byte, sum uint16) []byte {
	block := make([]byte, len(payload)+ChecksumLen)
	copy(block, payload)
	binary.LittleEndian.PutUint16(block[len(payload):], sum)
	return block
}
