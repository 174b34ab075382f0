package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/masyavpn/masyavpn/common"
	"github.com/masyavpn/masyavpn/config"
	"github.com/masyavpn/masyavpn/history"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute + 9*time.Second, "2h 1m 9s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %v, want %v", tt.d, got, tt.expected)
		}
	}
}

func TestProgressModel(t *testing.T) {
	var m tea.Model = newProgressModel("DE-1")

	if view := m.View(); !strings.Contains(view, "Connecting to DE-1") {
		t.Errorf("View() = %q", view)
	}

	m, _ = m.Update(statusMsg(common.StatusDisconnecting))
	if view := m.View(); !strings.Contains(view, "Rolling back") {
		t.Errorf("View() after rollback = %q", view)
	}

	m, cmd := m.Update(doneMsg{})
	if cmd == nil {
		t.Error("doneMsg should quit the program")
	}
	if view := m.View(); view != "" {
		t.Errorf("View() after done = %q, want empty", view)
	}
}

func TestHistory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AppData", t.TempDir())

	journal, err := history.OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	started := time.Now().Add(-time.Minute)
	entries := []history.Entry{
		{ID: "0a1b2c3d-ffff", Started: started, Ended: started.Add(3 * time.Second), Outcome: history.OutcomeFailed, FailedStep: "proxy-engine-up", Server: "DE-1"},
		{ID: "9f8e7d6c-ffff", Started: started.Add(10 * time.Second), Outcome: history.OutcomeConnected, ServerIP: "203.0.113.7", Probe: "Healthy"},
	}
	for _, e := range entries {
		if err := journal.Record(context.Background(), e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	journal.Close()

	var out bytes.Buffer
	c := &CLI{cfg: config.DefaultConfig(), out: &out}
	if err := c.History(context.Background(), 10); err != nil {
		t.Fatalf("History() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("History() printed %d lines, want 4:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[2], "9f8e7d6c") || !strings.Contains(lines[2], "203.0.113.7") {
		t.Errorf("newest row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "proxy-engine-up") || !strings.Contains(lines[3], "3s") {
		t.Errorf("failed row = %q", lines[3])
	}
}

func TestHistory_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.History = false

	var out bytes.Buffer
	c := &CLI{cfg: cfg, out: &out}
	if err := c.History(context.Background(), 10); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if !strings.Contains(out.String(), "No connection attempts") {
		t.Errorf("History() = %q", out.String())
	}
}
