// Package dbtest opens throwaway SQLite databases carrying the production schema.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/digkill/InfographicAI/internal/database"
)

// Open creates a migrated SQLite database in the test's temp dir and closes it
// when the test finishes.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Connect(database.DriverSQLite, path)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db, database.DriverSQLite); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
