// SPDX-License-Identifier: Apache-2.0

package fdc

// Event is a status notification published by the core. The concrete types
// below are the complete set; consumers switch on them.
type Event interface {
	event()
}

// MountChanged reports a drive gaining or losing a backing image.
type MountChanged struct {
	Drive   uint8
	Mounted bool
	Path    string // empty when unmounted
	Tracks  uint16 // 0 when unmounted
	Size    string // geometry label ("75K", "330K", "8MB", "???")
}

// TrackChanged reports a drive's current track moving.
type TrackChanged struct {
	Drive uint8
	Track uint16
}

// HeadChanged reports the controller loading or unloading a drive's head.
type HeadChanged struct {
	Drive  uint8
	Loaded bool
}

// DriveSelected reports the controller addressing a different drive.
type DriveSelected struct {
	Drive uint8
}

// LinkStatusChanged reports the link going up or down.
type LinkStatusChanged struct {
	Connected bool
	Status    string
}

// DiagnosticError reports a condition worth surfacing to the operator that
// produces no protocol response (out-of-range drive, buffer overrun, write
// failures on the transport).
type DiagnosticError struct {
	Context string
	Message string
}

func (MountChanged) event()      {}
func (TrackChanged) event()      {}
func (HeadChanged) event()       {}
func (DriveSelected) event()     {}
func (LinkStatusChanged) event() {}
func (DiagnosticError) event()   {}

// EventSink receives events from the core. Implementations must not block;
// everything is delivered from the single protocol goroutine.
type EventSink interface {
	HandleEvent(Event)
}

// EventFunc adapts a function to the EventSink interface.
type EventFunc func(Event)

// HandleEvent implements EventSink.
func (f EventFunc) HandleEvent(e Event) { f(e) }

type nopSink struct{}

func (nopSink) HandleEvent(Event) {}
