// SPDX-License-Identifier: Apache-2.0

package fdc

import (
	"fmt"
	"os"
)

// geometry classifies a disk image strictly by its exact byte size.
type geometry struct {
	tracks uint16
	label  string
}

var geometryBySize = map[int64]geometry{
	76800:   {34, "75K"},
	337664:  {76, "330K"},
	8978432: {2047, "8MB"},
}

// unknownGeometry is assumed for any image whose size is not in the table.
var unknownGeometry = geometry{2047, "???"}

// ErrDriveRange is returned for drive indexes outside 0..MaxDrives-1.
var ErrDriveRange = fmt.Errorf("drive number out of range")

// drive is one slot of the drive arena. A drive is mounted exactly when its
// backing file is open.
type drive struct {
	file       *os.File
	path       string
	maxTrack   uint16
	curTrack   uint16
	headLoaded bool
}

// DriveManager owns the drive arena. All geometry, track and mount state is
// mutated only through its methods, from the single protocol goroutine.
type DriveManager struct {
	drives [MaxDrives]drive
	events EventSink
}

// NewDriveManager creates an empty drive arena publishing to sink. A nil
// sink discards events.
func NewDriveManager(sink EventSink) *DriveManager {
	if sink == nil {
		sink = nopSink{}
	}
	m := &DriveManager{events: sink}
	for i := range m.drives {
		m.drives[i].maxTrack = 77
	}
	return m
}

// Mount opens path read/write as the backing image for driveNum, replacing
// any image already mounted there. The image geometry is classified by exact
// file size and the current track resets to zero.
func (m *DriveManager) Mount(driveNum int, path string) error {
	if driveNum < 0 || driveNum >= MaxDrives {
		return fmt.Errorf("mount drive %d: %w", driveNum, ErrDriveRange)
	}
	d := &m.drives[driveNum]

	if d.file != nil {
		d.file.Close()
		d.file = nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("mount drive %d: %v", driveNum, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("mount drive %d: %v", driveNum, err)
	}

	geo, ok := geometryBySize[info.Size()]
	if !ok {
		geo = unknownGeometry
	}

	d.file = f
	d.path = path
	d.maxTrack = geo.tracks

	m.UpdateTrack(uint8(driveNum), 0)

	m.events.HandleEvent(MountChanged{
		Drive:   uint8(driveNum),
		Mounted: true,
		Path:    path,
		Tracks:  geo.tracks,
		Size:    geo.label,
	})

	return nil
}

// Unmount closes the backing image for driveNum, resetting its current
// track to zero first. Unmounting an empty slot still publishes the event.
func (m *DriveManager) Unmount(driveNum int) error {
	if driveNum < 0 || driveNum >= MaxDrives {
		return fmt.Errorf("unmount drive %d: %w", driveNum, ErrDriveRange)
	}
	d := &m.drives[driveNum]

	if d.file != nil {
		m.UpdateTrack(uint8(driveNum), 0)
		d.file.Close()
		d.file = nil
	}
	d.path = ""

	m.events.HandleEvent(MountChanged{Drive: uint8(driveNum), Mounted: false})

	return nil
}

// CloseAll unmounts every drive. Used at shutdown.
func (m *DriveManager) CloseAll() {
	for i := range m.drives {
		if m.drives[i].file != nil {
			m.Unmount(i)
		}
	}
}

// IsMounted reports whether driveNum has an open backing image. Out-of-range
// indexes are simply not mounted.
func (m *DriveManager) IsMounted(driveNum uint8) bool {
	return driveNum < MaxDrives && m.drives[driveNum].file != nil
}

// MountedMask returns the STAT response bitmask: bit i set iff drive i is
// mounted.
func (m *DriveManager) MountedMask() uint16 {
	var mask uint16
	for i := range m.drives {
		if m.drives[i].file != nil {
			mask |= 1 << i
		}
	}
	return mask
}

// UpdateTrack is the single path by which a drive's current track changes.
// A drive with no backing image is forced to track zero regardless of the
// requested track. A TrackChanged event fires only when the stored value
// actually moves. Returns the (possibly forced) track.
func (m *DriveManager) UpdateTrack(driveNum uint8, track uint16) uint16 {
	if driveNum >= MaxDrives {
		m.events.HandleEvent(DiagnosticError{
			Context: "updateTrack",
			Message: fmt.Sprintf("drive number %d is out of range", driveNum),
		})
		return track
	}
	d := &m.drives[driveNum]

	if d.file == nil {
		track = 0
	}

	if track != d.curTrack {
		d.curTrack = track
		m.events.HandleEvent(TrackChanged{Drive: driveNum, Track: track})
	}

	return track
}

// SetHeadLoaded records the controller-reported head status, publishing
// HeadChanged when it flips.
func (m *DriveManager) SetHeadLoaded(driveNum uint8, loaded bool) {
	if driveNum >= MaxDrives {
		return
	}
	d := &m.drives[driveNum]
	if d.headLoaded != loaded {
		d.headLoaded = loaded
		m.events.HandleEvent(HeadChanged{Drive: driveNum, Loaded: loaded})
	}
}

// HeadLoaded reports the last controller-reported head status for driveNum.
func (m *DriveManager) HeadLoaded(driveNum uint8) bool {
	return driveNum < MaxDrives && m.drives[driveNum].headLoaded
}

// CurTrack returns the drive's current track (zero for out-of-range).
func (m *DriveManager) CurTrack(driveNum uint8) uint16 {
	if driveNum >= MaxDrives {
		return 0
	}
	return m.drives[driveNum].curTrack
}

// MaxTrack returns the drive's geometry track count.
func (m *DriveManager) MaxTrack(driveNum uint8) uint16 {
	if driveNum >= MaxDrives {
		return 0
	}
	return m.drives[driveNum].maxTrack
}

// Path returns the mounted image path, empty when unmounted.
func (m *DriveManager) Path(driveNum uint8) string {
	if driveNum >= MaxDrives {
		return ""
	}
	return m.drives[driveNum].path
}

// ReadAt reads from the drive's backing image at the given byte offset.
// Reading an unmounted drive returns 0, os.ErrClosed.
func (m *DriveManager) ReadAt(driveNum uint8, p []byte, off int64) (int, error) {
	if !m.IsMounted(driveNum) {
		return 0, os.ErrClosed
	}
	return m.drives[driveNum].file.ReadAt(p, off)
}

// WriteAt writes to the drive's backing image at the given byte offset.
// Writing an unmounted drive returns 0, os.ErrClosed.
func (m *DriveManager) WriteAt(driveNum uint8, p []byte, off int64) (int, error) {
	if !m.IsMounted(driveNum) {
		return 0, os.ErrClosed
	}
	return m.drives[driveNum].file.WriteAt(p, off)
}
