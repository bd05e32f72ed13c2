// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"strings"
	"testing"
)

func TestStatistics_RatesFromCounters(t *testing.T) {
	s := NewStatistics()
	s.StatCommands = 10
	s.ReadCommands = 5
	s.WriteCommands = 5
	s.ChecksumErrors = 2

	s.CalculateRates()
	if s.CommandRate <= 0 {
		t.Error("command rate should be positive with commands counted")
	}
	if s.ErrorRate <= 0 {
		t.Error("error rate should be positive with errors counted")
	}
}

func TestStatistics_Snapshot(t *testing.T) {
	s := NewStatistics()
	s.ReadCommands = 7

	snap := s.Snapshot()
	snap.ReadCommands = 99
	if s.ReadCommands != 7 {
		t.Error("snapshot must not alias the live tracker")
	}
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.StatCommands = 3
	s.Overruns = 1
	s.CalculateRates()

	s.Reset()
	if s.StatCommands != 0 || s.Overruns != 0 || s.CommandRate != 0 {
		t.Errorf("reset left counters: %+v", s)
	}
	if s.StartTime.IsZero() {
		t.Error("reset should restart the clock, not zero it")
	}
}

func TestStatistics_StringOmitsCleanErrorLines(t *testing.T) {
	s := NewStatistics()
	out := s.String()
	if strings.Contains(out, "Checksum Errors") || strings.Contains(out, "Buffer Overruns") {
		t.Error("error lines should be omitted when no errors occurred")
	}

	s.ChecksumErrors = 1
	if !strings.Contains(s.String(), "Checksum Errors") {
		t.Error("checksum error line missing")
	}
}
