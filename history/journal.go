// Package history keeps a local journal of tunnel connection attempts in a
// SQLite database. Entries never contain credentials or session identifiers.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/masyavpn/masyavpn/common"
)

// Outcome is the state of a journaled attempt.
type Outcome string

const (
	OutcomeConnecting   Outcome = "connecting"
	OutcomeConnected    Outcome = "connected"
	OutcomeFailed       Outcome = "failed"
	OutcomeDisconnected Outcome = "disconnected"
)

// Entry is one connection attempt.
type Entry struct {
	// ID is the attempt id that also prefixes the attempt's log lines.
	ID      string
	Started time.Time
	// Ended is zero while the session is up.
	Ended   time.Time
	Outcome Outcome
	// FailedStep names the provisioning step that failed, if any.
	FailedStep string
	Error      string
	// Completed is how many provisioning steps had succeeded.
	Completed int
	Server    string
	ServerIP  string
	Provider  string
	// Probe is the connectivity check result.
	Probe string
}

// Journal is a SQLite-backed attempt journal.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id          TEXT PRIMARY KEY,
	started     INTEGER NOT NULL,
	ended       INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	failed_step TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	completed   INTEGER NOT NULL DEFAULT 0,
	server      TEXT NOT NULL DEFAULT '',
	server_ip   TEXT NOT NULL DEFAULT '',
	provider    TEXT NOT NULL DEFAULT '',
	probe       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attempts_started ON attempts(started);
`

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenDefault opens the journal in the application data directory.
func OpenDefault() (*Journal, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, common.HistoryFileName))
}

// Record inserts e or replaces the entry with the same ID.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO attempts (id, started, ended, outcome, failed_step, error, completed, server, server_ip, provider, probe)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	ended = excluded.ended,
	outcome = excluded.outcome,
	failed_step = excluded.failed_step,
	error = excluded.error,
	completed = excluded.completed,
	server = excluded.server,
	server_ip = excluded.server_ip,
	provider = excluded.provider,
	probe = excluded.probe`,
		e.ID, toMillis(e.Started), toMillis(e.Ended), string(e.Outcome), e.FailedStep, e.Error,
		e.Completed, e.Server, e.ServerIP, e.Provider, e.Probe)
	if err != nil {
		return fmt.Errorf("failed to record attempt %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, started, ended, outcome, failed_step, error, completed, server, server_ip, provider, probe
FROM attempts ORDER BY started DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e              Entry
			started, ended int64
			outcome        string
		)
		if err := rows.Scan(&e.ID, &started, &ended, &outcome, &e.FailedStep, &e.Error,
			&e.Completed, &e.Server, &e.ServerIP, &e.Provider, &e.Probe); err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		e.Started = fromMillis(started)
		e.Ended = fromMillis(ended)
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
