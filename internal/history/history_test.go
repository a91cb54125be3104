package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "quench.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		err := db.Add(ctx, Record{
			StartedAt:    start.Add(time.Duration(i) * time.Hour),
			FinishedAt:   start.Add(time.Duration(i)*time.Hour + time.Minute),
			SourceURL:    "https://example.test/list.txt",
			EntryCount:   100 + i,
			SnapshotPath: "/var/db/block_list_x.txt",
			Outcome:      OutcomeOK,
		})
		require.NoError(t, err)
	}

	got, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, 102, got[0].EntryCount)
	assert.Equal(t, 101, got[1].EntryCount)
	assert.Equal(t, OutcomeOK, got[0].Outcome)
	assert.True(t, got[0].StartedAt.Equal(start.Add(2*time.Hour)))
}

func TestLastSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.LastSuccess(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now()
	require.NoError(t, db.Add(ctx, Record{
		StartedAt: now, FinishedAt: now,
		SourceURL: "https://example.test/list.txt",
		Outcome:   OutcomeOK, EntryCount: 42,
	}))
	require.NoError(t, db.Add(ctx, Record{
		StartedAt: now, FinishedAt: now,
		SourceURL: "https://example.test/list.txt",
		Outcome:   OutcomeFetch, Error: "connection refused",
	}))

	last, ok, err := db.LastSuccess(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, last.EntryCount)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quench.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an existing database must not fail on migrations.
	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
