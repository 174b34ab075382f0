package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/masyavpn/masyavpn/common"
)

type statusMsg common.SessionStatus

type doneMsg struct{ err error }

// progressModel shows a spinner while a connection attempt runs.
type progressModel struct {
	spinner spinner.Model
	server  string
	status  common.SessionStatus
	done    bool
}

func newProgressModel(server string) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warnStyle
	return progressModel{spinner: s, server: server, status: common.StatusConnecting}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.status = common.SessionStatus(msg)
		return m, nil
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s to %s...\n", m.spinner.View(), verb(m.status), m.server)
}

func verb(s common.SessionStatus) string {
	switch s {
	case common.StatusDisconnecting:
		return "Rolling back connection"
	default:
		return "Connecting"
	}
}

// runWithProgress runs connect while rendering a spinner. Ctrl+C is left to
// the process signal handler, which cancels the attempt.
func runWithProgress(server string, statuses <-chan common.SessionStatus, connect func() error) error {
	p := tea.NewProgram(newProgressModel(server),
		tea.WithOutput(os.Stdout),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	result := make(chan error, 1)
	go func() {
		stop := make(chan struct{})
		go func() {
			for {
				select {
				case s := <-statuses:
					p.Send(statusMsg(s))
				case <-stop:
					return
				}
			}
		}()

		err := connect()
		close(stop)
		result <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		common.LogDebug("progress display failed: %v", err)
	}
	return <-result
}
