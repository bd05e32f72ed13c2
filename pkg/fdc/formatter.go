// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"fmt"
	"strings"
)

// FormatFrame renders a decoded frame in human-readable form. asResponse
// selects the response interpretation of the two parameter words.
func FormatFrame(f Frame, asResponse bool) string {
	if asResponse {
		return fmt.Sprintf("%s code=%s data=0x%04X", f.Tag, FormatResponseCode(f.Param1), f.Param2)
	}

	switch f.Tag {
	case TagStat:
		drive := "none"
		if uint8(f.Param1&0xFF) != DriveNone {
			drive = fmt.Sprintf("%d", f.Param1&0xFF)
		}
		head := "unloaded"
		if f.Param1>>8 != 0 {
			head = "loaded"
		}
		return fmt.Sprintf("STAT drive=%s head=%s track=%d", drive, head, f.Param2)
	case TagRead, TagWrit:
		return fmt.Sprintf("%s drive=%d track=%d len=%d", f.Tag, f.Drive(), f.Track(), f.Param2)
	default:
		return fmt.Sprintf("%s param1=0x%04X param2=0x%04X", f.Tag, f.Param1, f.Param2)
	}
}

// FormatResponseCode returns the human-readable name for a response code.
func FormatResponseCode(code uint16) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusNotReady:
		return "NOT_READY"
	case StatusChecksumErr:
		return "CHECKSUM_ERR"
	case StatusWriteErr:
		return "WRITE_ERR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04X)", code)
	}
}

// HexDump renders data as rows of sixteen hex bytes indented by prefix.
func HexDump(data []byte, prefix string) string {
	var b strings.Builder
	for i, v := range data {
		if i%16 == 0 {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(prefix)
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteByte('\n')
	return b.String()
}
