// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"fmt"
	"time"
)

// Statistics tracks protocol traffic counters and rates.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	StatCommands    uint64
	ReadCommands    uint64
	WriteCommands   uint64
	ResponsePackets uint64
	ChecksumErrors  uint64
	Overruns        uint64

	// Rates (calculated)
	CommandRate float64 // commands/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) touch() {
	s.LastUpdateTime = time.Now()
}

// CalculateRates recomputes the command and error rates.
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		commands := s.StatCommands + s.ReadCommands + s.WriteCommands
		s.CommandRate = float64(commands) / elapsed
		s.ErrorRate = float64(s.ChecksumErrors+s.Overruns) / elapsed
	}
}

// Snapshot returns a copy safe to hand to another goroutine.
func (s *Statistics) Snapshot() Statistics {
	c := *s
	c.CalculateRates()
	return c
}

// String returns a formatted statistics summary.
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("STAT Commands:   %8d\n", s.StatCommands)
	result += fmt.Sprintf("READ Commands:   %8d\n", s.ReadCommands)
	result += fmt.Sprintf("WRIT Commands:   %8d\n", s.WriteCommands)
	result += fmt.Sprintf("Responses Sent:  %8d\n", s.ResponsePackets)
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.Overruns > 0 {
		result += fmt.Sprintf("Buffer Overruns: %8d\n", s.Overruns)
	}
	result += fmt.Sprintf("Command Rate:    %8.1f cmds/sec\n", s.CommandRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset clears all counters.
func (s *Statistics) Reset() {
	now := time.Now()
	*s = Statistics{StartTime: now, LastUpdateTime: now}
}
