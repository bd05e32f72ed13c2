// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Trace record directions.
const (
	DirReceive  = "rx"
	DirTransmit = "tx"
)

// TraceRecord is one captured chunk of link traffic. Records are CBOR
// encoded back to back in a capture file.
type TraceRecord struct {
	TimestampMs int64  `cbor:"1,keyasint"`
	Dir         string `cbor:"2,keyasint"`
	Data        []byte `cbor:"3,keyasint"`
}

// Time returns the record timestamp.
func (r TraceRecord) Time() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// TraceWriter appends traffic records to a capture stream.
type TraceWriter struct {
	enc *cbor.Encoder
}

// NewTraceWriter creates a capture writer on w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{enc: cbor.NewEncoder(w)}
}

// Record appends one chunk of traffic. The data is copied; callers may
// reuse their buffer.
func (t *TraceWriter) Record(dir string, data []byte) error {
	rec := TraceRecord{
		TimestampMs: time.Now().UnixMilli(),
		Dir:         dir,
		Data:        append([]byte(nil), data...),
	}
	if err := t.enc.Encode(rec); err != nil {
		return fmt.Errorf("trace record: %w", err)
	}
	return nil
}

// ReadTrace decodes every record in a capture stream.
func ReadTrace(r io.Reader) ([]TraceRecord, error) {
	dec := cbor.NewDecoder(r)
	var records []TraceRecord
	for {
		var rec TraceRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, fmt.Errorf("trace decode: %w", err)
		}
		records = append(records, rec)
	}
}
