// Package testutil provides fixtures shared by storage and use case tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastygo/journal/repository/sqlite"
)

const fixtureSchema = `
CREATE TABLE statuses     (id INTEGER PRIMARY KEY, name TEXT, updated_at TEXT);
CREATE TABLE users        (id INTEGER PRIMARY KEY, login TEXT, updated_on TEXT);
CREATE TABLE versions     (id INTEGER PRIMARY KEY, name TEXT, updated_on TEXT);
CREATE TABLE types        (id INTEGER PRIMARY KEY, name TEXT, updated_at TEXT);
CREATE TABLE enumerations (id INTEGER PRIMARY KEY, name TEXT, updated_at TEXT);
CREATE TABLE categories   (id INTEGER PRIMARY KEY, name TEXT, updated_at TEXT);

CREATE TABLE work_packages (
    id                INTEGER PRIMARY KEY,
    lock_version      INTEGER NOT NULL DEFAULT 0,
    updated_at        TEXT,
    type_id           INTEGER,
    project_id        INTEGER,
    subject           TEXT,
    description       TEXT,
    due_date          TEXT,
    category_id       INTEGER,
    status_id         INTEGER,
    assigned_to_id    INTEGER,
    priority_id       INTEGER,
    version_id        INTEGER,
    author_id         INTEGER,
    done_ratio        INTEGER NOT NULL DEFAULT 0,
    estimated_hours   REAL,
    start_date        TEXT,
    parent_id         INTEGER,
    responsible_id    INTEGER,
    schedule_manually INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE attachments (
    id             INTEGER PRIMARY KEY,
    updated_at     TEXT,
    container_id   INTEGER,
    container_type TEXT,
    filename       TEXT,
    disk_filename  TEXT,
    filesize       INTEGER,
    content_type   TEXT,
    digest         TEXT,
    downloads      INTEGER,
    author_id      INTEGER,
    description    TEXT
);

CREATE TABLE custom_values (
    id              INTEGER PRIMARY KEY,
    customized_type TEXT,
    customized_id   INTEGER,
    custom_field_id INTEGER,
    value           TEXT
);

INSERT INTO statuses     (id, name, updated_at) VALUES (1, 'Open', '2024-01-01 10:00:00'), (2, 'Closed', '2024-01-01 10:00:00');
INSERT INTO users        (id, login, updated_on) VALUES (42, 'alice', '2024-01-01 10:00:00'), (43, 'bob', '2024-01-01 10:00:00');
INSERT INTO types        (id, name, updated_at) VALUES (1, 'Task', '2024-01-01 10:00:00');
INSERT INTO enumerations (id, name, updated_at) VALUES (4, 'Normal', '2024-01-01 10:00:00');
`

// OpenStore opens a journal store in a temp directory with the work package
// fixture tables created next to the journals table.
func OpenStore(t *testing.T) *sqlite.Store {
	t.Helper()
	return OpenStoreAt(t, filepath.Join(t.TempDir(), "journal.db"))
}

// OpenStoreAt is OpenStore on a caller-chosen file.
func OpenStoreAt(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().Exec(fixtureSchema)
	require.NoError(t, err)
	return store
}

// InsertWorkPackage inserts a minimal work package row with status 1 authored by user 42.
func InsertWorkPackage(t *testing.T, db *sql.DB, id int64, subject, description string) {
	t.Helper()
	_, err := db.Exec(`
	INSERT INTO work_packages (id, lock_version, updated_at, type_id, project_id, subject, description, status_id, priority_id, author_id)
	VALUES (?, 0, '2024-01-02 10:00:00', 1, 1, ?, ?, 1, 4, 42)`, id, subject, description)
	require.NoError(t, err)
}

// Exec runs a fixture statement.
func Exec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}
