/*
Package sqlite provides a SQLite-backed fees.Store.

PURPOSE:
  Opens a SQLite database through sqlx and go-sqlite3, migrates the fee
  engine schema and hands back the shared sqlstore implementation.
  Used for local runs, the CLI and integration tests.

STORAGE TYPES:
  SQLite has no DATE or NUMERIC type worth trusting, so dates are stored
  as YYYY-MM-DD text (lexically ordered), money as decimal text and
  timestamps as RFC 3339 text.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  ":memory:" databases are pinned to one connection so every query sees
  the same database.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Queries shared with PostgreSQL
  - store/postgres: Production backend
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/fee-engine/store/sqlstore"
)

// New opens (and migrates) the database at path. Use ":memory:" for an
// in-memory database.
func New(path string) (*sqlstore.Store, error) {
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the SQLite flavour of the shared store.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Schema:            schema,
	IsUniqueViolation: isUniqueViolation,
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const schema = `
	CREATE TABLE IF NOT EXISTS fee_categories (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_fee_categories_school
		ON fee_categories(school_id);

	-- Fee versions: append + close, never deleted
	CREATE TABLE IF NOT EXISTS fee_versions (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		route_name TEXT NOT NULL DEFAULT '',
		cycle TEXT NOT NULL,
		amount TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_current BOOLEAN NOT NULL DEFAULT TRUE,
		is_optional BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_versions_chain_number
		ON fee_versions(school_id, scope_kind, scope_id, category_id, route_name, cycle, version_number);

	-- At most one head per chain
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_versions_chain_current
		ON fee_versions(school_id, scope_kind, scope_id, category_id, route_name, cycle)
		WHERE is_current;

	CREATE INDEX IF NOT EXISTS idx_fee_versions_scope
		ON fee_versions(school_id, scope_kind, scope_id);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		class_id TEXT NOT NULL,
		admission_date TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_students_school
		ON students(school_id, id);

	CREATE TABLE IF NOT EXISTS student_fee_profiles (
		student_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		class_id TEXT NOT NULL DEFAULT '',
		transport_opt_in BOOLEAN NOT NULL DEFAULT FALSE,
		transport_route TEXT NOT NULL DEFAULT '',
		transport_fee_override TEXT,
		tuition_cycle TEXT NOT NULL DEFAULT '',
		transport_cycle TEXT NOT NULL DEFAULT '',
		optional_categories TEXT,
		PRIMARY KEY (student_id, effective_from)
	);

	CREATE TABLE IF NOT EXISTS student_fee_overrides (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		category_id TEXT,
		full_waiver BOOLEAN NOT NULL DEFAULT FALSE,
		custom_amount TEXT,
		discount_amount TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_overrides_student
		ON student_fee_overrides(student_id);

	CREATE TABLE IF NOT EXISTS scholarships (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		scholarship_type TEXT NOT NULL,
		applies_to TEXT NOT NULL,
		category_id TEXT,
		percentage TEXT,
		amount TEXT,
		status TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_scholarships_student
		ON scholarships(student_id);

	-- Ledger: the only table the generator updates
	CREATE TABLE IF NOT EXISTS monthly_fee_components (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		fee_type TEXT NOT NULL,
		fee_name TEXT NOT NULL,
		transport_route TEXT NOT NULL DEFAULT '',
		cycle TEXT NOT NULL,
		version_id TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		period_month INTEGER NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		fee_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		pending_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		row_version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one row per student, month and fee line
	CREATE UNIQUE INDEX IF NOT EXISTS idx_components_natural_key
		ON monthly_fee_components(student_id, period_year, period_month, fee_type, category_id, transport_route);

	CREATE INDEX IF NOT EXISTS idx_components_student_period
		ON monthly_fee_components(student_id, period_year, period_month);

	CREATE TABLE IF NOT EXISTS generation_runs (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		status TEXT NOT NULL,
		processed_count INTEGER NOT NULL DEFAULT 0,
		generated_count INTEGER NOT NULL DEFAULT 0,
		updated_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		errors TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_generation_runs_school
		ON generation_runs(school_id, started_at DESC);
`
