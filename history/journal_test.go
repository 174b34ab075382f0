package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordUpdatesInPlace(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	entry := Entry{ID: "a1", Started: started, Outcome: OutcomeConnecting, Server: "Frankfurt"}
	if err := j.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entry.Outcome = OutcomeConnected
	entry.Completed = 12
	entry.ServerIP = "203.0.113.7"
	entry.Probe = "Healthy"
	if err := j.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent() returned %d entries, want 1", len(entries))
	}

	got := entries[0]
	if got.Outcome != OutcomeConnected || got.Completed != 12 || got.ServerIP != "203.0.113.7" {
		t.Errorf("entry = %+v", got)
	}
	if !got.Started.Equal(started) {
		t.Errorf("Started = %v, want %v", got.Started, started)
	}
	if !got.Ended.IsZero() {
		t.Errorf("Ended = %v, want zero for an open session", got.Ended)
	}
}

func TestJournal_RecentOrderAndLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"first", "second", "third"} {
		e := Entry{
			ID:         id,
			Started:    base.Add(time.Duration(i) * time.Minute),
			Ended:      base.Add(time.Duration(i)*time.Minute + time.Second),
			Outcome:    OutcomeFailed,
			FailedStep: "proxy-engine-up",
		}
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != "third" || entries[1].ID != "second" {
		t.Errorf("Recent() order = %v, %v; want third, second", entries[0].ID, entries[1].ID)
	}
	if entries[0].FailedStep != "proxy-engine-up" {
		t.Errorf("FailedStep = %v, want proxy-engine-up", entries[0].FailedStep)
	}
}
