/*
store.go - Persistence interfaces for the fee engine

PURPOSE:
  Defines the boundary between fee computation and the database. Every
  resolver, the generator and the aggregator receive these handles
  explicitly; nothing reads a global client.

KEY INTERFACES:
  VersionStore:     Fee version chains (append + close, never delete)
  CategoryStore:    Fee categories
  StudentDirectory: Read-only student lookups
  ProfileStore:     Per-period student fee profiles
  OverrideStore:    Overrides and scholarships
  LedgerStore:      Monthly fee components (the only mutable rows)
  PaymentRecorder:  Payment-side writes to paid_amount
  RunStore:         Generation run audit records

OPTIMISTIC CONCURRENCY:
  Ledger rows carry a RowVersion. UpdateComponentAmounts only succeeds when
  the stored RowVersion still equals the one the caller read, otherwise it
  returns generic.ErrConcurrentModification. Payments bump RowVersion too,
  so a regeneration can never overwrite a payment it did not see.

IMPLEMENTATIONS:
  - store/memory: In-memory for tests and dev
  - store/sqlstore: SQLite and PostgreSQL via sqlx

SEE ALSO:
  - generator.go: Retries updates on conflict
  - cache.go: Caching decorator for VersionStore
*/
package fees

import (
	"context"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// FEE SCHEDULE
// =============================================================================

type VersionStore interface {
	// ListVersions returns the chain for one key and cycle, any order.
	ListVersions(ctx context.Context, schoolID generic.SchoolID, key ScopeKey, cycle Cycle) ([]FeeVersion, error)

	// ListScopeVersions returns every version of a class or route across
	// categories and cycles.
	ListScopeVersions(ctx context.Context, schoolID generic.SchoolID, kind ScopeKind, scopeID string) ([]FeeVersion, error)

	GetVersion(ctx context.Context, id VersionID) (*FeeVersion, error)

	// ApplyHike atomically closes prev (when non-nil) and inserts next.
	// prev must still be the current version, otherwise
	// generic.ErrConcurrentModification is returned.
	ApplyHike(ctx context.Context, prev *FeeVersion, next FeeVersion) error
}

type CategoryStore interface {
	GetCategory(ctx context.Context, id CategoryID) (*FeeCategory, error)
	ListCategories(ctx context.Context, schoolID generic.SchoolID) ([]FeeCategory, error)
	SaveCategory(ctx context.Context, c FeeCategory) error
}

// =============================================================================
// STUDENTS
// =============================================================================

type StudentDirectory interface {
	// GetStudent returns generic.ErrStudentNotFound for unknown students.
	GetStudent(ctx context.Context, schoolID generic.SchoolID, id generic.StudentID) (*Student, error)

	// ListStudents pages through a school's students ordered by id.
	ListStudents(ctx context.Context, schoolID generic.SchoolID, offset, limit int) ([]Student, error)
}

type ProfileStore interface {
	// GetProfile returns the profile covering asOf, or nil.
	GetProfile(ctx context.Context, studentID generic.StudentID, asOf generic.TimePoint) (*StudentFeeProfile, error)
}

type OverrideStore interface {
	ListOverrides(ctx context.Context, studentID generic.StudentID) ([]StudentFeeOverride, error)
	ListScholarships(ctx context.Context, studentID generic.StudentID) ([]Scholarship, error)
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerStore interface {
	// FindComponent returns the row with the given natural key, or nil.
	FindComponent(ctx context.Context, key ComponentKey) (*MonthlyFeeComponent, error)

	// InsertComponent returns generic.ErrDuplicateComponent when the key exists.
	InsertComponent(ctx context.Context, c MonthlyFeeComponent) error

	// UpdateComponentAmounts writes the generator-owned fields of c if the
	// stored row version equals expected. PaidAmount is never written.
	UpdateComponentAmounts(ctx context.Context, c MonthlyFeeComponent, expected int64) error

	GetComponent(ctx context.Context, id ComponentID) (*MonthlyFeeComponent, error)

	// ListComponents returns a student's rows for years [fromYear, toYear].
	ListComponents(ctx context.Context, studentID generic.StudentID, fromYear, toYear int) ([]MonthlyFeeComponent, error)
}

// PaymentRecorder is the payment collaborator's contract. The engine never
// calls it; it exists so payment writes go through the same row versioning.
type PaymentRecorder interface {
	ApplyPayment(ctx context.Context, id ComponentID, amount generic.Money) (*MonthlyFeeComponent, error)
}

// =============================================================================
// RUNS
// =============================================================================

type RunStore interface {
	SaveRun(ctx context.Context, run GenerationRun) error
	GetRun(ctx context.Context, id RunID) (*GenerationRun, error)
	ListRuns(ctx context.Context, schoolID generic.SchoolID, limit int) ([]GenerationRun, error)
}

// =============================================================================
// SETUP - Writes used by seeding and tests
// =============================================================================

type SetupStore interface {
	SaveStudent(ctx context.Context, s Student) error
	SaveProfile(ctx context.Context, p StudentFeeProfile) error
	SaveOverride(ctx context.Context, o StudentFeeOverride) error
	SaveScholarship(ctx context.Context, s Scholarship) error
}

// Store is everything a backend provides.
type Store interface {
	VersionStore
	CategoryStore
	StudentDirectory
	ProfileStore
	OverrideStore
	LedgerStore
	PaymentRecorder
	RunStore
	SetupStore
}
