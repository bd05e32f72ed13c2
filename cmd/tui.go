// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/altairfdc/fdcserv/pkg/fdc"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// driveStatus mirrors one drive's state for display.
type driveStatus struct {
	mounted    bool
	path       string
	tracks     uint16
	sizeLabel  string
	track      uint16
	headLoaded bool
}

// Input focus states
const (
	focusNone = iota
	focusMountInput
	focusUnmountInput
)

// serveModel is the Bubble Tea model for the serve dashboard. It holds no
// handle on the Server: state arrives as event and snapshot messages, and
// orders go out through the control channel.
type serveModel struct {
	connInfo string
	ctrl     chan<- ctrlRequest

	drives   [fdc.MaxDrives]driveStatus
	selected int // -1 when no drive selected
	linkUp   bool
	linkText string

	stats fdc.Statistics

	eventLog      []eventLogEntry
	maxLogEntries int

	trackBar progress.Model
	input    textinput.Model
	focus    int

	width    int
	height   int
	quitting bool
	serveErr error
}

type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type fdcEventMsg struct {
	event fdc.Event
}

// statsMsg carries a counter snapshot taken on the protocol goroutine.
type statsMsg struct {
	stats fdc.Statistics
}

type serveErrMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Styles
//////////////////////////////////////////////////////////////

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("57")).Padding(0, 1)
	linkUpStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	linkDownStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	driveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("251"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

func newServeModel(connInfo string, ctrl chan<- ctrlRequest) serveModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 24
	bar.ShowPercentage = false

	input := textinput.New()
	input.CharLimit = 256

	return serveModel{
		connInfo:      connInfo,
		ctrl:          ctrl,
		selected:      -1,
		linkText:      fdc.StatusOffline,
		maxLogEntries: 50,
		trackBar:      bar,
		input:         input,
	}
}

func (m serveModel) Init() tea.Cmd {
	return nil
}

func (m serveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.focus != focusNone {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "m":
			m.focus = focusMountInput
			m.input.Placeholder = "drive path (e.g. 0 cpm63k.dsk)"
			m.input.SetValue("")
			m.input.Focus()
			return m, textinput.Blink
		case "u":
			m.focus = focusUnmountInput
			m.input.Placeholder = "drive to unmount (0-3)"
			m.input.SetValue("")
			m.input.Focus()
			return m, textinput.Blink
		case "r":
			m.ctrl <- ctrlRequest{resetStats: true}
			return m, nil
		}
		return m, nil

	case fdcEventMsg:
		m.applyEvent(msg.event)
		return m, nil

	case statsMsg:
		m.stats = msg.stats
		return m, nil

	case serveErrMsg:
		m.serveErr = msg.err
		m.logEntry(fmt.Sprintf("server stopped: %v", msg.err), true)
		return m, nil
	}

	return m, nil
}

// updateInput handles keys while the mount/unmount prompt is focused.
func (m serveModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.focus = focusNone
		m.input.Blur()
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		m.submitInput(value)
		m.focus = focusNone
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *serveModel) submitInput(value string) {
	if value == "" {
		return
	}
	if m.focus == focusUnmountInput {
		drive, err := strconv.Atoi(value)
		if err != nil || drive < 0 || drive >= fdc.MaxDrives {
			m.logEntry(fmt.Sprintf("invalid drive %q", value), true)
			return
		}
		m.ctrl <- ctrlRequest{drive: drive, unmount: true}
		return
	}

	fields := strings.Fields(value)
	if len(fields) != 2 {
		m.logEntry("mount wants: <drive> <path>", true)
		return
	}
	drive, err := strconv.Atoi(fields[0])
	if err != nil || drive < 0 || drive >= fdc.MaxDrives {
		m.logEntry(fmt.Sprintf("invalid drive %q", fields[0]), true)
		return
	}
	m.ctrl <- ctrlRequest{drive: drive, path: fields[1]}
}

// applyEvent folds a core event into the display state.
func (m *serveModel) applyEvent(e fdc.Event) {
	switch ev := e.(type) {
	case fdc.MountChanged:
		d := &m.drives[ev.Drive]
		d.mounted = ev.Mounted
		d.path = ev.Path
		d.tracks = ev.Tracks
		d.sizeLabel = ev.Size
		d.track = 0
		if ev.Mounted {
			m.logEntry(fmt.Sprintf("drive %d: mounted %s (%d tracks, %s)", ev.Drive, ev.Path, ev.Tracks, ev.Size), false)
		} else {
			m.logEntry(fmt.Sprintf("drive %d: unmounted", ev.Drive), false)
		}
	case fdc.TrackChanged:
		m.drives[ev.Drive].track = ev.Track
	case fdc.HeadChanged:
		m.drives[ev.Drive].headLoaded = ev.Loaded
	case fdc.DriveSelected:
		m.selected = int(ev.Drive)
	case fdc.LinkStatusChanged:
		m.linkUp = ev.Connected
		m.linkText = ev.Status
		m.logEntry(fmt.Sprintf("link: %s", ev.Status), !ev.Connected)
	case fdc.DiagnosticError:
		m.logEntry(fmt.Sprintf("%s: %s", ev.Context, ev.Message), true)
	}
}

func (m *serveModel) logEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m serveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("fdcserv - FDC+ Serial Disk Server"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.connInfo))
	b.WriteString("  ")
	if m.linkUp {
		b.WriteString(linkUpStyle.Render("● " + m.linkText))
	} else {
		b.WriteString(linkDownStyle.Render("○ " + m.linkText))
	}
	b.WriteString("\n\n")

	for i := 0; i < fdc.MaxDrives; i++ {
		b.WriteString(m.renderDrive(i))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"STAT %d  READ %d  WRIT %d  responses %d  checksum errors %d  %.1f cmds/s",
		m.stats.StatCommands, m.stats.ReadCommands, m.stats.WriteCommands,
		m.stats.ResponsePackets, m.stats.ChecksumErrors, m.stats.CommandRate)))
	b.WriteString("\n\n")

	logLines := 8
	start := len(m.eventLog) - logLines
	if start < 0 {
		start = 0
	}
	for _, entry := range m.eventLog[start:] {
		line := fmt.Sprintf("[%s] %s", entry.timestamp.Format("15:04:05"), entry.message)
		if entry.isError {
			b.WriteString(errorStyle.Render(line))
		} else {
			b.WriteString(dimStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.focus != focusNone {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter confirm • esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("m mount • u unmount • r reset stats • q quit"))
	}
	b.WriteString("\n")

	return b.String()
}

func (m serveModel) renderDrive(i int) string {
	d := m.drives[i]

	marker := "  "
	if i == m.selected {
		marker = selectedStyle.Render("▶ ")
	}

	head := "○"
	if d.headLoaded {
		head = selectedStyle.Render("●")
	}

	if !d.mounted {
		return fmt.Sprintf("%sDrive %d %s %s", marker, i, head, dimStyle.Render("(not mounted)"))
	}

	pct := 0.0
	if d.tracks > 0 {
		pct = float64(d.track) / float64(d.tracks)
		if pct > 1 {
			pct = 1
		}
	}

	line := fmt.Sprintf("%sDrive %d %s %s  track %4d/%4d  %s %s",
		marker, i, head, m.trackBar.ViewAs(pct), d.track, d.tracks, d.sizeLabel, driveStyle.Render(d.path))
	return line
}
