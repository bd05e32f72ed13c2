// SPDX-License-Identifier: Apache-2.0

package fdc

// Checksum16 computes the FDC+ checksum: the 16-bit unsigned wraparound sum
// of all bytes. Used for both the command frame header and track data blocks.
func Checksum16(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}
