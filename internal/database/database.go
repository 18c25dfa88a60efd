package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Connect opens the database with sensible pooling defaults for the driver.
func Connect(driver, dsn string) (*sql.DB, error) {
	var err error
	switch driver {
	case DriverMySQL:
		dsn, err = normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
	case DriverSQLite:
		dsn = normalizeSQLiteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection serializes ledger mutations.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(time.Minute * 5)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, nil
}

func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func normalizeSQLiteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, "_busy_timeout=5000")
	}
	if !strings.Contains(dsn, "_foreign_keys") {
		params = append(params, "_foreign_keys=on")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Migrate runs the bootstrap schema for the driver to ensure required tables exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var statements []string
	switch driver {
	case DriverMySQL:
		statements = mysqlSchema
	case DriverSQLite:
		statements = sqliteSchema
	default:
		return fmt.Errorf("unsupported driver %q", driver)
	}
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// RunInTx executes fn inside a transaction, committing on success and rolling
// back on error. fn must not use db directly while the transaction is open.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a duplicate key error from either driver.
func IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
