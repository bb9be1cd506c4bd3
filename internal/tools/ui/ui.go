// Package ui renders the interactive shell the developer tools share: a
// spinner while a task runs, then its detail lines and outcome.
package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

type doneMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

type model struct {
	title   string
	frame   int
	done    bool
	details []string
	err     error
}

func (m model) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s\n", spinnerFrames[m.frame], titleStyle.Render(m.title))
	}
	out := titleStyle.Render(m.title) + "\n"
	for _, d := range m.details {
		out += detailStyle.Render("  - "+d) + "\n"
	}
	if m.err != nil {
		out += failStyle.Render("FAIL: "+m.err.Error()) + "\n"
	} else {
		out += okStyle.Render("OK") + "\n"
	}
	return out
}

// Run executes fn with a spinner and prints its detail lines when finished.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	p := tea.NewProgram(model{title: title})
	var details []string
	var runErr error
	go func() {
		details, runErr = fn(ctx)
		p.Send(doneMsg{details: details, err: runErr})
	}()
	if _, err := p.Run(); err != nil {
		return details, err
	}
	return details, runErr
}
