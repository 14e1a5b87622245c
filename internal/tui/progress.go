// Package tui renders a polled progress view for long-running engine
// operations. It reads snapshots from the progress store rather than holding
// a channel open, so it works for any operation the engine reports on.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jask/ledgerlens/internal/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	barDoneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	barRestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

const barWidth = 40

type tickMsg time.Time

// ProgressView polls the store for one user's operation until it completes.
type ProgressView struct {
	store   *progress.Store
	userID  string
	payload progress.Payload
	seen    bool
}

// NewProgressView builds a viewer for the given user's running operation.
func NewProgressView(store *progress.Store, userID string) *ProgressView {
	return &ProgressView{store: store, userID: userID}
}

// Run blocks until the operation finishes or the user quits the view.
func (v *ProgressView) Run() error {
	_, err := tea.NewProgram(v).Run()
	return err
}

func (v *ProgressView) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (v *ProgressView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c":
			return v, tea.Quit
		case "c":
			v.store.SetCancellation(v.userID, true)
			return v, nil
		}
	case tickMsg:
		if p, ok := v.store.GetProgress(v.userID); ok {
			v.payload = p
			v.seen = true
			if p.Done {
				return v, tea.Quit
			}
		}
		return v, tick()
	}
	return v, nil
}

func (v *ProgressView) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ledgerlens") + "\n\n")
	if !v.seen {
		b.WriteString("waiting for progress...\n")
	} else {
		p := v.payload
		b.WriteString(fmt.Sprintf("%s  %d/%d\n", p.Operation, p.Processed, p.Total))
		b.WriteString(renderBar(p.Processed, p.Total) + "\n")
		if p.Message != "" {
			b.WriteString(p.Message + "\n")
		}
		if p.Stopped {
			b.WriteString(stoppedStyle.Render("stopped early") + "\n")
		}
	}
	b.WriteString("\n" + helpStyle.Render("c cancel · q quit"))
	return b.String()
}

func renderBar(processed, total int) string {
	if total <= 0 {
		total = 1
	}
	filled := processed * barWidth / total
	if filled > barWidth {
		filled = barWidth
	}
	return barDoneStyle.Render(strings.Repeat("█", filled)) +
		barRestStyle.Render(strings.Repeat("░", barWidth-filled))
}
