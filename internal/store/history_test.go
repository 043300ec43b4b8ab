package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, h.Initialize())
	t.Cleanup(func() { h.Close() })
	return h
}

// ==================== History Tests ====================

func TestHistory_RecordAndList(t *testing.T) {
	h := newTestHistory(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.Record(&HistoryEntry{
		ID: "t1", Type: "add", Description: "add curl",
		StartedAt: start, FinishedAt: start.Add(time.Second), Installed: 3,
	}))
	require.NoError(t, h.Record(&HistoryEntry{
		ID: "t2", Type: "del", Description: "del curl",
		StartedAt: start.Add(time.Minute), FinishedAt: start.Add(time.Minute), Removed: 1, Failed: 1,
		Error: "1 of 1 changes failed",
	}))

	entries, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t2", entries[0].ID)
	assert.False(t, entries[0].Succeeded())
	assert.Equal(t, "t1", entries[1].ID)
	assert.True(t, entries[1].Succeeded())
	assert.Equal(t, 3, entries[1].Installed)
	assert.True(t, start.Equal(entries[1].StartedAt))

	entries, err = h.List(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t2", entries[0].ID)
}

func TestHistory_Get(t *testing.T) {
	h := newTestHistory(t)

	got, err := h.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, h.Record(&HistoryEntry{ID: "t1", Type: "upgrade", Description: "upgrade", StartedAt: now, FinishedAt: now}))

	got, err = h.Get("t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "upgrade", got.Type)
	assert.True(t, now.Equal(got.FinishedAt))
}

func TestHistory_DuplicateID(t *testing.T) {
	h := newTestHistory(t)
	now := time.Now()
	require.NoError(t, h.Record(&HistoryEntry{ID: "t1", Type: "add", Description: "x", StartedAt: now, FinishedAt: now}))
	assert.Error(t, h.Record(&HistoryEntry{ID: "t1", Type: "add", Description: "x", StartedAt: now, FinishedAt: now}))
}

func TestHistory_Packages(t *testing.T) {
	h := newTestHistory(t)
	now := time.Now().UTC()

	require.NoError(t, h.Record(&HistoryEntry{
		ID: "t1", Type: "upgrade", Description: "upgrade",
		StartedAt: now, FinishedAt: now, Adjusted: 1, Installed: 1,
		Packages: []string{"install ca-certificates-20240226-r0", "upgrade curl-8.6.0-r0"},
	}))
	require.NoError(t, h.Record(&HistoryEntry{ID: "t2", Type: "update", Description: "update", StartedAt: now, FinishedAt: now}))

	got, err := h.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"install ca-certificates-20240226-r0", "upgrade curl-8.6.0-r0"}, got.Packages)

	got, err = h.Get("t2")
	require.NoError(t, err)
	assert.Empty(t, got.Packages)
}

// ==================== Migration Tests ====================

func TestHistory_MigratesV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := NewHistory(path)
	require.NoError(t, err)

	// a v1 log has no packages column and no version table
	_, err = h.db.Exec(`CREATE TABLE transactions (
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
	)`)
	require.NoError(t, err)
	_, err = h.db.Exec(`INSERT INTO transactions (id, type, description, started_at, finished_at)
		VALUES ('old', 'add', 'add curl', '2024-01-01T00:00:00Z', '2024-01-01T00:00:01Z')`)
	require.NoError(t, err)

	version, err := h.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	require.NoError(t, h.Initialize())
	version, err = h.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentHistoryVersion, version)

	got, err := h.Get("old")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Packages)
	assert.Equal(t, 2024, got.StartedAt.Year())

	// a second Initialize is a no-op
	require.NoError(t, h.Initialize())
	require.NoError(t, h.Close())
}
