package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// HistoryEntry is one finished transaction.
type HistoryEntry struct {
	ID          string
	Type        string
	Description string
	StartedAt   time.Time
	FinishedAt  time.Time
	Installed   int
	Removed     int
	Adjusted    int
	Failed      int
	Error       string
	Packages    []string // "<action> <name>-<version>" per change
}

// Succeeded returns true if the transaction finished without error.
func (e *HistoryEntry) Succeeded() bool {
	return e.Error == ""
}

// History is the append-only transaction log kept in SQLite.
type History struct {
	db *sql.DB
}

// NewHistory opens the history database at dbPath.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

// Initialize creates the history schema
func (h *History) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		installed INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		adjusted INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(type);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return h.runMigrations()
}

// Record appends a finished transaction.
func (h *History) Record(e *HistoryEntry) error {
	packages, err := json.Marshal(e.Packages)
	if err != nil {
		return fmt.Errorf("marshal packages of %s: %w", e.ID, err)
	}
	_, err = h.db.Exec(
		`INSERT INTO transactions (id, type, description, started_at, finished_at, installed, removed, adjusted, failed, error, packages)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Description,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.FinishedAt.UTC().Format(time.RFC3339Nano),
		e.Installed, e.Removed, e.Adjusted, e.Failed, e.Error, string(packages),
	)
	if err != nil {
		return fmt.Errorf("record transaction %s: %w", e.ID, err)
	}
	return nil
}

// List returns the most recent transactions, newest first. limit <= 0 returns all.
func (h *History) List(limit int) ([]*HistoryEntry, error) {
	query := `SELECT id, type, description, started_at, finished_at, installed, removed, adjusted, failed, COALESCE(error, ''), COALESCE(packages, 'null')
		FROM transactions ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var started, finished, packages string
		if err := rows.Scan(&e.ID, &e.Type, &e.Description, &started, &finished,
			&e.Installed, &e.Removed, &e.Adjusted, &e.Failed, &e.Error, &packages); err != nil {
			return nil, err
		}
		if err := e.decode(started, finished, packages); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Get returns the transaction with the given ID. Returns (nil, nil) if not found.
func (h *History) Get(id string) (*HistoryEntry, error) {
	var e HistoryEntry
	var started, finished, packages string
	err := h.db.QueryRow(
		`SELECT id, type, description, started_at, finished_at, installed, removed, adjusted, failed, COALESCE(error, ''), COALESCE(packages, 'null')
		 FROM transactions WHERE id = ?`, id,
	).Scan(&e.ID, &e.Type, &e.Description, &started, &finished,
		&e.Installed, &e.Removed, &e.Adjusted, &e.Failed, &e.Error, &packages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.decode(started, finished, packages); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *HistoryEntry) decode(started, finished, packages string) error {
	e.StartedAt = parseTimestamp(started)
	e.FinishedAt = parseTimestamp(finished)
	if err := json.Unmarshal([]byte(packages), &e.Packages); err != nil {
		return fmt.Errorf("decode packages of %s: %w", e.ID, err)
	}
	return nil
}

// parseTimestamp parses a timestamp string from SQLite in various formats
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
