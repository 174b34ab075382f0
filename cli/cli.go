// Package cli provides the command-line interface of MasyaVPN.
// It forwards to the session manager and reads the attempt journal.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/masyavpn/masyavpn/common"
	"github.com/masyavpn/masyavpn/config"
	"github.com/masyavpn/masyavpn/engine"
	"github.com/masyavpn/masyavpn/history"
	"github.com/masyavpn/masyavpn/vpn"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ec27e")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e5a50a"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e01b24")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
	keyStyle  = lipgloss.NewStyle().Bold(true)
)

// CLI represents the command-line interface.
type CLI struct {
	cfg *config.Config
	out io.Writer
}

// New creates a new CLI instance.
func New(cfg *config.Config) *CLI {
	return &CLI{cfg: cfg, out: os.Stdout}
}

// Interactive reports whether stdout is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Connect establishes a session from the credential at credPath ("-" for
// stdin) and holds it until ctx is cancelled or an engine exits.
func (c *CLI) Connect(ctx context.Context, credPath string) error {
	cred, err := vpn.ReadCredentialFile(credPath)
	if err != nil {
		return err
	}

	manager, err := vpn.Open(c.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}
	defer manager.Close()

	ended := make(chan struct{}, 1)
	statuses := make(chan common.SessionStatus, 8)
	manager.SetOnStatusChange(func(oldStatus, newStatus common.SessionStatus) {
		select {
		case statuses <- newStatus:
		default:
		}
		if oldStatus == common.StatusDisconnecting && newStatus == common.StatusDisconnected {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})

	manager.SetOnHealthChange(func(oldState, newState vpn.HealthState) {
		switch {
		case newState == vpn.HealthUnhealthy:
			fmt.Fprintln(c.out, warnStyle.Render("! The tunnel stopped answering the connectivity check"))
		case oldState == vpn.HealthUnhealthy:
			fmt.Fprintln(c.out, okStyle.Render("✓ The tunnel is answering again"))
		}
	})

	server := cred.ServerName()
	if server == "" {
		server = "server"
	}

	connect := func() error { return manager.Connect(ctx, cred) }
	if Interactive() {
		err = runWithProgress(server, statuses, connect)
	} else {
		fmt.Fprintf(c.out, "Connecting to %s...\n", server)
		err = connect()
	}
	if err != nil {
		fmt.Fprintln(c.out, errStyle.Render("✗ Connection failed"))
		return err
	}

	if info, ok := manager.Info(); ok {
		c.printSession(info)
	}
	fmt.Fprintln(c.out, dimStyle.Render("Press Ctrl+C to disconnect."))

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out, "Disconnecting...")
		manager.Disconnect(context.Background())
		fmt.Fprintln(c.out, okStyle.Render("✓ Disconnected"))
	case <-ended:
		fmt.Fprintln(c.out, warnStyle.Render("! Tunnel engine exited, session closed"))
	}
	return nil
}

func (c *CLI) printSession(info vpn.SessionInfo) {
	fmt.Fprintln(c.out, okStyle.Render("✓ Connected to "+displayOr(info.Server, info.Endpoint)))

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\t%s\n", keyStyle.Render("Server IP"), info.ServerIP)
	fmt.Fprintf(w, "  %s\t%s via %s\n", keyStyle.Render("Gateway"), info.Gateway, info.Interface)
	fmt.Fprintf(w, "  %s\t127.0.0.1:%d\n", keyStyle.Render("SOCKS"), info.SOCKSPort)
	fmt.Fprintf(w, "  %s\t127.0.0.1:%d\n", keyStyle.Render("HTTP"), info.HTTPPort)
	fmt.Fprintf(w, "  %s\t%s\n", keyStyle.Render("Check"), info.Probe)
	w.Flush()

	if info.Probe == vpn.HealthUnhealthy {
		fmt.Fprintln(c.out, warnStyle.Render("! The tunnel did not answer the connectivity check"))
	}
}

// Disconnect stops the engines of a session running in another process.
// That process notices the exit and restores the host network.
func (c *CLI) Disconnect(ctx context.Context) error {
	n := c.reaper().Reap(ctx)
	if n == 0 {
		fmt.Fprintln(c.out, "No active session.")
		return nil
	}
	fmt.Fprintln(c.out, okStyle.Render(fmt.Sprintf("✓ Stopped %d engine process(es)", n)))
	return nil
}

// Reap kills stray engine processes.
func (c *CLI) Reap(ctx context.Context) error {
	n := c.reaper().Reap(ctx)
	fmt.Fprintf(c.out, "Reaped %d engine process(es).\n", n)
	return nil
}

func (c *CLI) reaper() *engine.Reaper {
	return engine.NewReaper(c.cfg.EnginePath(), c.cfg.BridgePath())
}

// Status shows the latest journaled session and whether its engines run.
func (c *CLI) Status(ctx context.Context) error {
	running := c.reaper().Running(ctx)

	entries, err := c.recent(ctx, 1)
	if err != nil {
		return err
	}

	status := common.StatusDisconnected
	if running > 0 {
		status = common.StatusConnected
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", keyStyle.Render("STATUS"), renderStatus(status))
	fmt.Fprintf(w, "%s\t%d\n", keyStyle.Render("ENGINES"), running)
	if len(entries) > 0 {
		e := entries[0]
		fmt.Fprintf(w, "%s\t%s (%s)\n", keyStyle.Render("LAST"), e.Outcome, e.Started.Format(time.DateTime))
		if e.Outcome == history.OutcomeConnected && running > 0 {
			fmt.Fprintf(w, "%s\t%s\n", keyStyle.Render("UPTIME"), formatDuration(time.Since(e.Started)))
		}
		if e.Server != "" || e.ServerIP != "" {
			fmt.Fprintf(w, "%s\t%s %s\n", keyStyle.Render("SERVER"), e.Server, e.ServerIP)
		}
	}
	w.Flush()
	return nil
}

// History lists the latest connection attempts.
func (c *CLI) History(ctx context.Context, limit int) error {
	entries, err := c.recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No connection attempts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tOUTCOME\tSERVER\tSTEP\tCHECK")
	fmt.Fprintln(w, "--\t-------\t--------\t-------\t------\t----\t-----")

	for _, e := range entries {
		duration := "-"
		if !e.Ended.IsZero() {
			duration = formatDuration(e.Ended.Sub(e.Started))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID[:min(8, len(e.ID))],
			e.Started.Format(time.DateTime),
			duration,
			e.Outcome,
			displayOr(e.Server, displayOr(e.ServerIP, "-")),
			displayOr(e.FailedStep, "-"),
			displayOr(e.Probe, "-"))
	}

	w.Flush()
	return nil
}

func (c *CLI) recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if !c.cfg.History {
		return nil, nil
	}
	journal, err := history.OpenDefault()
	if err != nil {
		return nil, err
	}
	defer journal.Close()
	return journal.Recent(ctx, limit)
}

func renderStatus(s common.SessionStatus) string {
	switch s {
	case common.StatusConnected:
		return okStyle.Render(s.String())
	case common.StatusConnecting, common.StatusDisconnecting:
		return warnStyle.Render(s.String())
	default:
		return dimStyle.Render(s.String())
	}
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`MasyaVPN - Command Line Interface

Usage:
  masyavpn [OPTIONS]

Options:
  --connect FILE    Connect with the credential in FILE ("-" reads stdin)
                    and stay in the foreground until Ctrl+C
  --disconnect      Stop the session running in another terminal
  --status          Show the current session status
  --history         List recent connection attempts
  --reap            Kill stray engine processes
  --config FILE     Use FILE instead of the default settings file
  --version         Show version and exit
  --verbose         Enable verbose logging
  --help            Show this help message

Examples:
  masyavpn --connect credential.json
  issue-credential | masyavpn --connect -
  masyavpn --status
  masyavpn --disconnect

Notes:
  - Connecting changes routes and DNS and requires administrator rights
  - Engine binaries are looked up in binary_dir (default: bin/ beside masyavpn)`)
}
