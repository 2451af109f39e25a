/*
Package postgres provides the PostgreSQL-backed fees.Store.

PURPOSE:
  Production backend. Opens lib/pq through sqlx, migrates the schema and
  returns the shared sqlstore implementation. Queries are rebound to $N
  placeholders by sqlx.

STORAGE TYPES:
  Dates are DATE, money is NUMERIC(14,2), timestamps are TIMESTAMPTZ and
  JSON documents are TEXT (read back by the same scanners SQLite uses).

MIGRATION:
  Schema is applied with IF NOT EXISTS on startup. Versioned migrations
  are expected to take over once the schema starts changing.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/warp/fee-engine/store/sqlstore"
)

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = pq.ErrorCode("23505")

// Dialect is the PostgreSQL flavour of the shared store.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Schema:            schema,
	IsUniqueViolation: isUniqueViolation,
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const schema = `
	CREATE TABLE IF NOT EXISTS fee_categories (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_fee_categories_school ON fee_categories(school_id);

	CREATE TABLE IF NOT EXISTS fee_versions (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		route_name TEXT NOT NULL DEFAULT '',
		cycle TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL CHECK (amount >= 0),
		version_number INTEGER NOT NULL,
		effective_from DATE NOT NULL,
		effective_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_current BOOLEAN NOT NULL DEFAULT TRUE,
		is_optional BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_versions_chain_number
		ON fee_versions(school_id, scope_kind, scope_id, category_id, route_name, cycle, version_number);
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
		admission_date DATE NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_students_school ON students(school_id, id);

	CREATE TABLE IF NOT EXISTS student_fee_profiles (
		student_id TEXT NOT NULL REFERENCES students(id),
		effective_from DATE NOT NULL,
		effective_to DATE,
		class_id TEXT NOT NULL DEFAULT '',
		transport_opt_in BOOLEAN NOT NULL DEFAULT FALSE,
		transport_route TEXT NOT NULL DEFAULT '',
		transport_fee_override NUMERIC(14,2),
		tuition_cycle TEXT NOT NULL DEFAULT '',
		transport_cycle TEXT NOT NULL DEFAULT '',
		optional_categories TEXT,
		PRIMARY KEY (student_id, effective_from)
	);

	CREATE TABLE IF NOT EXISTS student_fee_overrides (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		category_id TEXT,
		full_waiver BOOLEAN NOT NULL DEFAULT FALSE,
		custom_amount NUMERIC(14,2),
		discount_amount NUMERIC(14,2),
		effective_from DATE NOT NULL,
		effective_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_overrides_student ON student_fee_overrides(student_id);

	CREATE TABLE IF NOT EXISTS scholarships (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		name TEXT NOT NULL DEFAULT '',
		scholarship_type TEXT NOT NULL,
		applies_to TEXT NOT NULL,
		category_id TEXT,
		percentage NUMERIC(5,2),
		amount NUMERIC(14,2),
		status TEXT NOT NULL,
		valid_from DATE NOT NULL,
		valid_to DATE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_scholarships_student ON scholarships(student_id);

	CREATE TABLE IF NOT EXISTS monthly_fee_components (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		student_id TEXT NOT NULL REFERENCES students(id),
		category_id TEXT NOT NULL DEFAULT '',
		fee_type TEXT NOT NULL,
		fee_name TEXT NOT NULL,
		transport_route TEXT NOT NULL DEFAULT '',
		cycle TEXT NOT NULL,
		version_id TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		period_month INTEGER NOT NULL CHECK (period_month BETWEEN 1 AND 12),
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		base_amount NUMERIC(14,2) NOT NULL,
		discount_amount NUMERIC(14,2) NOT NULL,
		fee_amount NUMERIC(14,2) NOT NULL CHECK (fee_amount >= 0),
		paid_amount NUMERIC(14,2) NOT NULL CHECK (paid_amount >= 0),
		pending_amount NUMERIC(14,2) NOT NULL CHECK (pending_amount >= 0),
		status TEXT NOT NULL,
		due_date DATE NOT NULL,
		row_version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

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
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_generation_runs_school ON generation_runs(school_id, started_at DESC);
`
