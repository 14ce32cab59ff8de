// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it engine status
package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/liscio/playthrough-go/internal/playthrough"
)

// Controls carries user requests out of the TUI
type Controls struct {
	Restart chan struct{}
	Quit    chan struct{}
}

// NewControls creates a control handler
func NewControls() *Controls {
	return &Controls{
		Restart: make(chan struct{}, 1),
		Quit:    make(chan struct{}, 1),
	}
}

func (c *Controls) requestRestart() {
	select {
	case c.Restart <- struct{}{}:
	default:
	}
}

func (c *Controls) requestQuit() {
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Controls) Model {
	return Model{controls: ctrl}
}

// Run creates the TUI program; the caller runs it
func Run(ctrl *Controls) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
	return p, nil
}

// Poll sends a StatusMsg built from stats every interval until ctx is done
func Poll(ctx context.Context, p *tea.Program, interval time.Duration, stats func() playthrough.HostStats) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Send(StatusMsg{Stats: stats()})
		}
	}
}
