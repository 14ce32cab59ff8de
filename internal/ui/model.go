// ABOUTME: Bubbletea model for the play-through status TUI
// ABOUTME: Defines displayed state and key handling
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/liscio/playthrough-go/internal/playthrough"
	"github.com/liscio/playthrough-go/pkg/ringbuffer"
	streamsync "github.com/liscio/playthrough-go/pkg/sync"
)

// Model represents the TUI state
type Model struct {
	// Devices
	running  bool
	input    string
	output   string
	channels int
	session  string

	// Sync
	state     streamsync.State
	offset    int64
	rateRatio float64
	varispeed float64

	// Ring
	windowStatus ringbuffer.Status
	windowStart  ringbuffer.SampleTime
	windowEnd    ringbuffer.SampleTime
	capacity     int

	// Stats
	stores         uint64
	fetches        uint64
	okFetches      uint64
	behindMisses   uint64
	aheadMisses    uint64
	overloadMisses uint64
	silentPulls    uint64
	restarts       uint64
	lastErr        string

	// Debug
	showDebug bool

	controls *Controls

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderSync()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders device and run status
func (m Model) renderHeader() string {
	status := "Stopped"
	if m.running {
		status = fmt.Sprintf("Running (%s)", channelName(m.channels))
	}
	if m.lastErr != "" {
		status = "Error: " + m.lastErr
	}

	return fmt.Sprintf(`┌─ Play-through ───────────────────────────────────────┐
│ Status: %-44s │
│ Input:  %-44s │
│ Output: %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(status, 44), truncate(m.input, 44), truncate(m.output, 44))
}

// renderSync renders synchronizer state and the ring window
func (m Model) renderSync() string {
	icon := "✗"
	switch m.state {
	case streamsync.StateLocked:
		icon = "✓"
	case streamsync.StateSeeded:
		icon = "⚠"
	}

	window := int64(m.windowEnd - m.windowStart)
	fill := 0
	if m.capacity > 0 {
		fill = int(min(window, int64(m.capacity)) * 100 / int64(m.capacity))
	}

	return fmt.Sprintf("│ Sync:   %s %-42s │\n"+
		"│ Offset: %-10d Ratio: %-8.5f Rate: %-13.5f │\n"+
		"│ Ring:   [%s] %3d%% %-19s │\n",
		icon, m.state, m.offset, m.rateRatio, m.varispeed,
		renderBar(fill, 100, 20), fill, m.windowStatus)
}

// renderStats renders fetch statistics
func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Fetches: %-8d OK: %-8d Silent: %-12d │
│ Behind: %-6d Ahead: %-6d Overload: %-6d Rst: %-3d │
│                                                      │
`, m.fetches, m.okFetches, m.silentPulls,
		m.behindMisses, m.aheadMisses, m.overloadMisses, m.restarts)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ r:Restart  d:Debug  q:Quit                           │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Session: %-41s │
│   Window:  [%d, %d)%-20s │
│   Stores:  %-41d │
`, truncate(m.session, 41), m.windowStart, m.windowEnd, "", m.stores)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.controls != nil {
			m.controls.requestQuit()
		}
		return m, tea.Quit
	case "r":
		if m.controls != nil {
			m.controls.requestRestart()
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	e := msg.Stats.Engine

	m.running = e.Running
	m.session = e.Session
	if e.InputDevice != "" {
		m.input = e.InputDevice
		m.output = e.OutputDevice
		m.channels = e.Channels
		m.capacity = e.Capacity
	}

	m.state = e.Sync.State
	m.offset = e.Sync.Offset
	m.rateRatio = e.Sync.RateRatio
	m.varispeed = e.Varispeed

	m.windowStatus = e.WindowStatus
	m.windowStart = e.WindowStart
	m.windowEnd = e.WindowEnd

	m.stores = e.Stores
	m.fetches = e.Fetches
	m.okFetches = e.OKFetches
	m.silentPulls = e.SilentPulls
	m.behindMisses = e.Sync.BehindMisses
	m.aheadMisses = e.Sync.AheadMisses
	m.overloadMisses = e.Sync.OverloadMisses
	m.restarts = msg.Stats.Restarts
	m.lastErr = msg.Stats.LastErr
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Stats playthrough.HostStats
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
