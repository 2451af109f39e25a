/*
Package sqlstore implements fees.Store on top of sqlx.

PURPOSE:
  One implementation of every persistence interface, shared by the SQLite
  and PostgreSQL backends. Queries are written with "?" placeholders and
  rebound per driver; dialect differences live in the schema and in how
  unique violations are detected.

KEY TABLES:
  fee_categories:         Categories per school
  fee_versions:           Versioned fee chains (append + close)
  students:               Student directory
  student_fee_profiles:   Transport and cycle preferences per period
  student_fee_overrides:  Waivers, custom amounts, discounts
  scholarships:           Scholarship awards
  monthly_fee_components: The ledger (one row per natural key)
  generation_runs:        Batch audit records

NATURAL KEY:
  monthly_fee_components is unique on (student_id, period_year,
  period_month, fee_type, category_id, transport_route). Transport rows
  store '' as category_id so the index covers them.

CONCURRENCY:
  Ledger writes compare-and-swap on row_version. A hike closes the
  previous version only while it is still current, inside the same
  transaction as the insert.

SEE ALSO:
  - store/sqlite: SQLite schema and driver
  - store/postgres: PostgreSQL schema and driver
  - fees/store.go: Interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// Dialect carries what differs between database engines.
type Dialect struct {
	Name              string
	Schema            string
	IsUniqueViolation func(error) bool
}

// Store implements fees.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

var _ fees.Store = (*Store)(nil)

// New wraps an open connection. Call Migrate before first use.
func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// =============================================================================
// FEE SCHEDULE
// =============================================================================

func (s *Store) ListVersions(ctx context.Context, schoolID generic.SchoolID, key fees.ScopeKey, cycle fees.Cycle) ([]fees.FeeVersion, error) {
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+versionColumns+` FROM fee_versions
		WHERE school_id = ? AND scope_kind = ? AND scope_id = ? AND category_id = ? AND route_name = ? AND cycle = ?
		ORDER BY version_number`),
		schoolID, key.Kind, key.ScopeID, key.CategoryID, key.RouteName, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee versions: %w", err)
	}
	return toVersions(rows), nil
}

func (s *Store) ListScopeVersions(ctx context.Context, schoolID generic.SchoolID, kind fees.ScopeKind, scopeID string) ([]fees.FeeVersion, error) {
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+versionColumns+` FROM fee_versions
		WHERE school_id = ? AND scope_kind = ? AND scope_id = ?
		ORDER BY category_id, cycle, version_number`),
		schoolID, kind, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scope versions: %w", err)
	}
	return toVersions(rows), nil
}

func (s *Store) GetVersion(ctx context.Context, id fees.VersionID) (*fees.FeeVersion, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+versionColumns+` FROM fee_versions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fee version: %w", err)
	}
	v := row.toDomain()
	return &v, nil
}

func (s *Store) ApplyHike(ctx context.Context, prev *fees.FeeVersion, next fees.FeeVersion) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin hike: %w", err)
	}
	defer tx.Rollback()

	if prev != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE fee_versions SET effective_to = ?, is_current = ?
			WHERE id = ? AND is_current = ? AND effective_to IS NULL`),
			dateOfPtr(prev.EffectiveTo), false, prev.ID, true)
		if err != nil {
			return fmt.Errorf("failed to close fee version: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return generic.ErrConcurrentModification
		}
	}

	if _, err := tx.ExecContext(ctx, insertVersion(tx.Rebind), versionArgs(next)...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return generic.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert fee version: %w", err)
	}
	return tx.Commit()
}

// SaveVersion upserts a version as is. Used by seeding.
func (s *Store) SaveVersion(ctx context.Context, v fees.FeeVersion) error {
	_, err := s.db.ExecContext(ctx, insertVersion(s.db.Rebind)+`
		ON CONFLICT (id) DO UPDATE SET amount = excluded.amount, effective_from = excluded.effective_from,
			effective_to = excluded.effective_to, is_active = excluded.is_active,
			is_current = excluded.is_current, is_optional = excluded.is_optional, notes = excluded.notes`,
		versionArgs(v)...)
	if err != nil {
		return fmt.Errorf("failed to save fee version: %w", err)
	}
	return nil
}

func insertVersion(rebind func(string) string) string {
	return rebind(`INSERT INTO fee_versions (` + versionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func toVersions(rows []versionRow) []fees.FeeVersion {
	out := make([]fees.FeeVersion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func (s *Store) GetCategory(ctx context.Context, id fees.CategoryID) (*fees.FeeCategory, error) {
	var row categoryRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, school_id, name, kind, is_active FROM fee_categories WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context, schoolID generic.SchoolID) ([]fees.FeeCategory, error) {
	var rows []categoryRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, school_id, name, kind, is_active FROM fee_categories
		WHERE school_id = ? ORDER BY name`), schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	out := make([]fees.FeeCategory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveCategory(ctx context.Context, c fees.FeeCategory) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO fee_categories (id, school_id, name, kind, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, kind = excluded.kind, is_active = excluded.is_active`),
		c.ID, c.SchoolID, c.Name, c.Kind, c.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) GetStudent(ctx context.Context, schoolID generic.SchoolID, id generic.StudentID) (*fees.Student, error) {
	var row studentRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, school_id, name, class_id, admission_date, is_active
		FROM students WHERE school_id = ? AND id = ?`), schoolID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	st := row.toDomain()
	return &st, nil
}

func (s *Store) ListStudents(ctx context.Context, schoolID generic.SchoolID, offset, limit int) ([]fees.Student, error) {
	var rows []studentRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, school_id, name, class_id, admission_date, is_active
		FROM students WHERE school_id = ? ORDER BY id LIMIT ? OFFSET ?`), schoolID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	out := make([]fees.Student, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveStudent(ctx context.Context, st fees.Student) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO students (id, school_id, name, class_id, admission_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, class_id = excluded.class_id,
			admission_date = excluded.admission_date, is_active = excluded.is_active`),
		st.ID, st.SchoolID, st.Name, st.ClassID, dateOf(st.AdmissionDate), st.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, studentID generic.StudentID, asOf generic.TimePoint) (*fees.StudentFeeProfile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT student_id, effective_from, effective_to, class_id, transport_opt_in,
			transport_route, transport_fee_override, tuition_cycle, transport_cycle, optional_categories
		FROM student_fee_profiles
		WHERE student_id = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
		ORDER BY effective_from DESC LIMIT 1`),
		studentID, dateOf(asOf), dateOf(asOf))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fee profile: %w", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p fees.StudentFeeProfile) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO student_fee_profiles (student_id, effective_from, effective_to,
			class_id, transport_opt_in, transport_route, transport_fee_override, tuition_cycle, transport_cycle,
			optional_categories)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, effective_from) DO UPDATE SET effective_to = excluded.effective_to,
			class_id = excluded.class_id, transport_opt_in = excluded.transport_opt_in, transport_route = excluded.transport_route,
			transport_fee_override = excluded.transport_fee_override, tuition_cycle = excluded.tuition_cycle,
			transport_cycle = excluded.transport_cycle, optional_categories = excluded.optional_categories`),
		p.StudentID, dateOf(p.EffectiveFrom), dateOfPtr(p.EffectiveTo), p.ClassID, p.TransportOptIn, p.TransportRoute,
		moneyOfPtr(p.TransportFeeOverride), p.TuitionCycle, p.TransportCycle,
		jsonText[[]fees.CategoryID]{V: p.OptionalCategories})
	if err != nil {
		return fmt.Errorf("failed to save fee profile: %w", err)
	}
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, studentID generic.StudentID) ([]fees.StudentFeeOverride, error) {
	var rows []overrideRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, student_id, category_id, full_waiver, custom_amount,
			discount_amount, effective_from, effective_to, is_active, reason
		FROM student_fee_overrides WHERE student_id = ? ORDER BY effective_from DESC`), studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	out := make([]fees.StudentFeeOverride, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveOverride(ctx context.Context, o fees.StudentFeeOverride) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO student_fee_overrides (id, student_id, category_id, full_waiver,
			custom_amount, discount_amount, effective_from, effective_to, is_active, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET category_id = excluded.category_id, full_waiver = excluded.full_waiver,
			custom_amount = excluded.custom_amount, discount_amount = excluded.discount_amount,
			effective_from = excluded.effective_from, effective_to = excluded.effective_to,
			is_active = excluded.is_active, reason = excluded.reason`),
		o.ID, o.StudentID, nullCategory(o.CategoryID), o.FullWaiver, moneyOfPtr(o.CustomAmount),
		moneyOfPtr(o.DiscountAmount), dateOf(o.EffectiveFrom), dateOfPtr(o.EffectiveTo), o.IsActive, o.Reason)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

func (s *Store) ListScholarships(ctx context.Context, studentID generic.StudentID) ([]fees.Scholarship, error) {
	var rows []scholarshipRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, student_id, name, scholarship_type, applies_to, category_id,
			percentage, amount, status, valid_from, valid_to, is_active
		FROM scholarships WHERE student_id = ? ORDER BY valid_from`), studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scholarships: %w", err)
	}
	out := make([]fees.Scholarship, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveScholarship(ctx context.Context, sc fees.Scholarship) error {
	var pct dbMoney
	if sc.Percentage != nil {
		pct = moneyOf(generic.NewMoneyFromDecimal(*sc.Percentage))
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO scholarships (id, student_id, name, scholarship_type, applies_to,
			category_id, percentage, amount, status, valid_from, valid_to, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, scholarship_type = excluded.scholarship_type,
			applies_to = excluded.applies_to, category_id = excluded.category_id, percentage = excluded.percentage,
			amount = excluded.amount, status = excluded.status, valid_from = excluded.valid_from,
			valid_to = excluded.valid_to, is_active = excluded.is_active`),
		sc.ID, sc.StudentID, sc.Name, sc.Type, sc.AppliesTo, nullCategory(sc.CategoryID), pct,
		moneyOfPtr(sc.Amount), sc.Status, dateOf(sc.ValidFrom), dateOfPtr(sc.ValidTo), sc.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save scholarship: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) FindComponent(ctx context.Context, key fees.ComponentKey) (*fees.MonthlyFeeComponent, error) {
	var row componentRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+componentColumns+` FROM monthly_fee_components
		WHERE student_id = ? AND period_year = ? AND period_month = ? AND fee_type = ?
			AND category_id = ? AND transport_route = ?`),
		key.StudentID, key.Year, int(key.Month), key.FeeType, key.CategoryID, key.TransportRoute)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find component %s: %w", key, err)
	}
	c := row.toDomain()
	return &c, nil
}

func (s *Store) InsertComponent(ctx context.Context, c fees.MonthlyFeeComponent) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO monthly_fee_components (`+componentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		componentArgs(c)...)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return generic.ErrDuplicateComponent
		}
		return fmt.Errorf("failed to insert component: %w", err)
	}
	return nil
}

func (s *Store) UpdateComponentAmounts(ctx context.Context, c fees.MonthlyFeeComponent, expected int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE monthly_fee_components SET
			fee_name = ?, transport_route = ?, cycle = ?, version_id = ?, base_amount = ?, discount_amount = ?,
			fee_amount = ?, pending_amount = ?, status = ?, due_date = ?, updated_at = ?,
			row_version = row_version + 1
		WHERE id = ? AND row_version = ?`),
		c.FeeName, c.TransportRoute, c.Cycle, c.VersionID, moneyOf(c.BaseAmount), moneyOf(c.DiscountAmount),
		moneyOf(c.FeeAmount), moneyOf(c.PendingAmount), c.Status, dateOf(c.DueDate), timeOf(c.UpdatedAt),
		c.ID, expected)
	if err != nil {
		return fmt.Errorf("failed to update component: %w", err)
	}
	return s.checkSwapped(ctx, res, c.ID)
}

// checkSwapped turns a zero-row CAS update into the right sentinel.
func (s *Store) checkSwapped(ctx context.Context, res sql.Result, id fees.ComponentID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetComponent(ctx, id); err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

func (s *Store) GetComponent(ctx context.Context, id fees.ComponentID) (*fees.MonthlyFeeComponent, error) {
	var row componentRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+componentColumns+` FROM monthly_fee_components WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrComponentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (s *Store) ListComponents(ctx context.Context, studentID generic.StudentID, fromYear, toYear int) ([]fees.MonthlyFeeComponent, error) {
	var rows []componentRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+componentColumns+` FROM monthly_fee_components
		WHERE student_id = ? AND period_year >= ? AND period_year <= ?
		ORDER BY period_year, period_month, id`), studentID, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	out := make([]fees.MonthlyFeeComponent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ApplyPayment(ctx context.Context, id fees.ComponentID, amount generic.Money) (*fees.MonthlyFeeComponent, error) {
	c, err := s.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := c.RowVersion
	if err := fees.ApplyPaymentTo(c, amount); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE monthly_fee_components SET
			paid_amount = ?, pending_amount = ?, status = ?, updated_at = ?, row_version = row_version + 1
		WHERE id = ? AND row_version = ?`),
		moneyOf(c.PaidAmount), moneyOf(c.PendingAmount), c.Status, timeOf(c.UpdatedAt), id, expected)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	if err := s.checkSwapped(ctx, res, id); err != nil {
		return nil, err
	}
	c.RowVersion = expected + 1
	return c, nil
}

// =============================================================================
// RUNS
// =============================================================================

const runColumns = `id, school_id, status, processed_count, generated_count, updated_count, skipped_count,
	failed_count, errors, started_at, completed_at`

func (s *Store) SaveRun(ctx context.Context, run fees.GenerationRun) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO generation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, processed_count = excluded.processed_count,
			generated_count = excluded.generated_count, updated_count = excluded.updated_count,
			skipped_count = excluded.skipped_count, failed_count = excluded.failed_count,
			errors = excluded.errors, completed_at = excluded.completed_at`),
		run.ID, run.SchoolID, run.Status, run.Processed, run.Generated, run.Updated, run.Skipped, run.Failed,
		jsonText[map[generic.StudentID]string]{V: run.Errors}, timeOf(run.StartedAt), timeOfPtr(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save generation run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id fees.RunID) (*fees.GenerationRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+runColumns+` FROM generation_runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation run: %w", err)
	}
	r := row.toDomain()
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, schoolID generic.SchoolID, limit int) ([]fees.GenerationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+runColumns+` FROM generation_runs
		WHERE school_id = ? ORDER BY started_at DESC LIMIT ?`), schoolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation runs: %w", err)
	}
	out := make([]fees.GenerationRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
