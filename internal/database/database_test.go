package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Connect(DriverSQLite, filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := Migrate(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const insert = `INSERT INTO promo_codes (code, credits, max_uses, uses, created_at) VALUES (?, 10, 1, 0, CURRENT_TIMESTAMP)`
	if _, err := db.ExecContext(ctx, insert, "HELLO"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := db.ExecContext(ctx, insert, "HELLO")
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false", err)
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error reported as unique violation")
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sentinel := errors.New("stop")

	err := RunInTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO promo_codes (code, credits, max_uses, uses, created_at) VALUES ('X', 1, 1, 0, CURRENT_TIMESTAMP)`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunInTx error = %v, want sentinel", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM promo_codes`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rows after rollback = %d, want 0", count)
	}
}

func TestNormalizeDSN(t *testing.T) {
	if got := normalizeSQLiteDSN("file.db"); got != "file.db?_busy_timeout=5000&_foreign_keys=on" {
		t.Errorf("sqlite dsn = %q", got)
	}
	if got := normalizeSQLiteDSN("file.db?_foreign_keys=off"); got != "file.db?_foreign_keys=off&_busy_timeout=5000" {
		t.Errorf("sqlite dsn with params = %q", got)
	}

	dsn, err := normalizeMySQLDSN("user:pass@tcp(localhost:3306)/app")
	if err != nil {
		t.Fatalf("normalizeMySQLDSN: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("mysql dsn %q lacks parseTime", dsn)
	}
}
