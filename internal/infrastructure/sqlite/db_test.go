package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteDriverRegistration(t *testing.T) {
	// The ncruces driver owns the "sqlite3" name. The migrate dialect
	// must not bring in a second driver registering the same name, or
	// the process panics at init before any test runs.
	require.Contains(t, sql.Drivers(), "sqlite3")

	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err, "migrations run through the dialect over the ncruces pool")
	db.Close()
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "events.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err, "NewDB should succeed even with nested non-existent directories")
	defer db.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err, "directory should exist after NewDB")
	require.True(t, info.IsDir())

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}

func TestNewDB_CreatesDatabaseFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(dbPath)
	require.NoError(t, err, "database file should exist after NewDB")
	require.False(t, info.IsDir())
}

func TestNewDB_RunsMigrations(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"events", "snapshots"} {
		var name string
		err = db.conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "%s table should exist after migrations", table)
		require.Equal(t, table, name)
	}
}

func TestNewDB_PreMigrationBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	_, err = db1.conn.Exec(
		"INSERT INTO events (workflow_id, event_id, event_type, timestamp, data) VALUES (?, ?, ?, ?, ?)",
		"wf-1", "e-1", "workflow.started", "2026-01-01T00:00:00.000Z", "{}",
	)
	require.NoError(t, err)
	db1.Close()

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	info, err := os.Stat(dbPath + ".bak")
	require.NoError(t, err, "backup file should exist after reopening an existing database")
	require.Greater(t, info.Size(), int64(0))
}

func TestNewDB_WALMode(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)
}

func TestNewDB_ForeignKeys(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)
}

func TestNewDB_BusyTimeout(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer db.Close()

	var timeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	require.GreaterOrEqual(t, timeout, 30000)
}

func TestNewDB_IdempotentReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	db1.Close()

	db2, err := NewDB(dbPath)
	require.NoError(t, err, "reopening with an up-to-date schema should succeed")
	db2.Close()
}
