/*
Package fees computes what a student owes and materializes it as monthly
ledger rows.

PURPOSE:
  Fee schedules change over time, students carry overrides and
  scholarships, and fees bill on different cycles. This package turns all of
  that into one MonthlyFeeComponent per (student, month, fee item), keeping
  paid amounts intact when rows are regenerated.

DATA FLOW:

	VersionResolver ──► Calculator ──► Generator ──► LedgerStore
	OverrideResolver ──┘                               │
	                                                    ▼
	                                               Aggregator

KEY CONCEPTS IN THIS FILE (types.go):
  - FeeVersion: one effective-dated amount in a version chain
  - StudentFeeOverride / Scholarship: per-student adjustments
  - StudentFeeProfile: transport opt-in and cycle choices
  - MonthlyFeeComponent: the persisted, mutable ledger row
  - GenerationRun: audit record of a batch run

HISTORICAL PROTECTION:
  Versions are never deleted. A hike closes the current version the day
  before its successor starts, and generation always resolves versions as of
  the billed month, so regenerating the past reproduces the past.

SEE ALSO:
  - version.go: Resolution and hikes
  - calculator.go: Override and scholarship math
  - generator.go: Cycle gating, proration, idempotent upsert
  - aggregator.go: Read-side grouping
*/
package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CategoryID string
type VersionID string
type ComponentID string
type OverrideID string
type ScholarshipID string
type RunID string

// =============================================================================
// CATEGORIES & CYCLES
// =============================================================================

// CategoryKind classifies a fee category.
type CategoryKind string

const (
	KindTuition   CategoryKind = "tuition"
	KindTransport CategoryKind = "transport"
	KindCustom    CategoryKind = "custom"
)

// FeeType is stored on ledger rows and matched by scholarship applies_to.
type FeeType = CategoryKind

type FeeCategory struct {
	ID       CategoryID
	SchoolID generic.SchoolID
	Name     string
	Kind     CategoryKind
	IsActive bool
}

// Cycle is the billing frequency of a fee item.
type Cycle string

const (
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
	CycleYearly    Cycle = "yearly"
	CycleOneTime   Cycle = "one_time"
)

func (c Cycle) Valid() bool {
	switch c {
	case CycleMonthly, CycleQuarterly, CycleYearly, CycleOneTime:
		return true
	}
	return false
}

// ParseCycle accepts the canonical names plus "one-time".
func ParseCycle(s string) (Cycle, error) {
	if s == "one-time" {
		return CycleOneTime, nil
	}
	c := Cycle(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown billing cycle %q", s)
	}
	return c, nil
}

// OrDefault returns c, or def when c is unset.
func (c Cycle) OrDefault(def Cycle) Cycle {
	if c == "" {
		return def
	}
	return c
}

// =============================================================================
// FEE VERSIONS
// =============================================================================

// ScopeKind says whether a version belongs to a class or a transport route.
type ScopeKind string

const (
	ScopeClass ScopeKind = "class"
	ScopeRoute ScopeKind = "route"
)

// ScopeKey identifies one version chain together with a cycle.
// Class chains carry a CategoryID; route chains carry a RouteName.
type ScopeKey struct {
	Kind       ScopeKind
	ScopeID    string
	CategoryID CategoryID
	RouteName  string
}

func ClassScope(classID string, category CategoryID) ScopeKey {
	return ScopeKey{Kind: ScopeClass, ScopeID: classID, CategoryID: category}
}

func RouteScope(route string) ScopeKey {
	return ScopeKey{Kind: ScopeRoute, ScopeID: route, RouteName: route}
}

func (k ScopeKey) String() string {
	if k.Kind == ScopeRoute {
		return fmt.Sprintf("route:%s", k.RouteName)
	}
	return fmt.Sprintf("class:%s/%s", k.ScopeID, k.CategoryID)
}

type FeeVersion struct {
	ID            VersionID
	SchoolID      generic.SchoolID
	Key           ScopeKey
	Cycle         Cycle
	Amount        generic.Money
	VersionNumber int
	EffectiveFrom generic.TimePoint
	EffectiveTo   *generic.TimePoint // nil = open-ended

	// IsActive is the administrative switch the resolver honours.
	// IsCurrent marks the open head of the chain; a hike clears it.
	IsActive  bool
	IsCurrent bool

	Optional  bool
	Notes     string
	CreatedAt time.Time
}

// ActiveOn reports whether the version is in force on asOf.
func (v FeeVersion) ActiveOn(asOf generic.TimePoint) bool {
	if !v.IsActive {
		return false
	}
	if v.EffectiveFrom.After(asOf) {
		return false
	}
	return v.EffectiveTo == nil || v.EffectiveTo.AfterOrEqual(asOf)
}

// =============================================================================
// STUDENTS & PROFILES
// =============================================================================

// Student is read from the student-management collaborator.
type Student struct {
	ID            generic.StudentID
	SchoolID      generic.SchoolID
	Name          string
	ClassID       string
	AdmissionDate generic.TimePoint
	IsActive      bool
}

// StudentFeeProfile controls transport and per-cycle choices for one period.
type StudentFeeProfile struct {
	StudentID            generic.StudentID
	EffectiveFrom        generic.TimePoint
	EffectiveTo          *generic.TimePoint
	// ClassID is the class the student was in during this period. Empty
	// falls back to Student.ClassID.
	ClassID              string
	TransportOptIn       bool
	TransportRoute       string
	TransportFeeOverride *generic.Money
	TuitionCycle         Cycle
	TransportCycle       Cycle
	OptionalCategories   []CategoryID
}

func (p StudentFeeProfile) Covers(asOf generic.TimePoint) bool {
	return inWindow(p.EffectiveFrom, p.EffectiveTo, asOf)
}

// ClassOf returns the class that bills in a month covered by profile p,
// which may be nil.
func ClassOf(student Student, p *StudentFeeProfile) string {
	if p != nil && p.ClassID != "" {
		return p.ClassID
	}
	return student.ClassID
}

// OptsInto reports whether an optional category was chosen.
func (p StudentFeeProfile) OptsInto(id CategoryID) bool {
	for _, c := range p.OptionalCategories {
		if c == id {
			return true
		}
	}
	return false
}

// =============================================================================
// OVERRIDES & SCHOLARSHIPS
// =============================================================================

// StudentFeeOverride adjusts one category (or all, when CategoryID is nil).
// CustomAmount and DiscountAmount are per billed month: they apply to the
// prorated amount of the month being billed, so a quarterly fee with a
// custom amount of 2700 bills 2700 in each quarter's first month.
type StudentFeeOverride struct {
	ID             OverrideID
	StudentID      generic.StudentID
	CategoryID     *CategoryID
	FullWaiver     bool
	CustomAmount   *generic.Money
	DiscountAmount *generic.Money
	EffectiveFrom  generic.TimePoint
	EffectiveTo    *generic.TimePoint
	IsActive       bool
	Reason         string
}

func (o StudentFeeOverride) ActiveOn(asOf generic.TimePoint) bool {
	return o.IsActive && inWindow(o.EffectiveFrom, o.EffectiveTo, asOf)
}

type ScholarshipType string

const (
	ScholarshipPercentage ScholarshipType = "percentage"
	ScholarshipFixed      ScholarshipType = "fixed"
	ScholarshipFullWaiver ScholarshipType = "full_waiver"
)

type AppliesTo string

const (
	AppliesToAll              AppliesTo = "all"
	AppliesToTuitionOnly      AppliesTo = "tuition_only"
	AppliesToTransportOnly    AppliesTo = "transport_only"
	AppliesToSpecificCategory AppliesTo = "specific_category"
)

type ScholarshipStatus string

const (
	ScholarshipPending  ScholarshipStatus = "pending"
	ScholarshipApproved ScholarshipStatus = "approved"
	ScholarshipRejected ScholarshipStatus = "rejected"
	ScholarshipRevoked  ScholarshipStatus = "revoked"
)

type Scholarship struct {
	ID         ScholarshipID
	StudentID  generic.StudentID
	Name       string
	Type       ScholarshipType
	AppliesTo  AppliesTo
	CategoryID *CategoryID
	Percentage *decimal.Decimal
	Amount     *generic.Money
	Status     ScholarshipStatus
	ValidFrom  generic.TimePoint
	ValidTo    *generic.TimePoint
	IsActive   bool
}

// Applicable reports whether the scholarship is approved, active and in window.
func (s Scholarship) Applicable(asOf generic.TimePoint) bool {
	return s.Status == ScholarshipApproved && s.IsActive && inWindow(s.ValidFrom, s.ValidTo, asOf)
}

// Covers reports whether the scholarship targets a fee item.
func (s Scholarship) Covers(feeType FeeType, category CategoryID) bool {
	switch s.AppliesTo {
	case AppliesToAll:
		return true
	case AppliesToTuitionOnly:
		return feeType == KindTuition
	case AppliesToTransportOnly:
		return feeType == KindTransport
	case AppliesToSpecificCategory:
		return s.CategoryID != nil && category != "" && *s.CategoryID == category
	}
	return false
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

type ComponentStatus string

const (
	StatusPending       ComponentStatus = "pending"
	StatusPartiallyPaid ComponentStatus = "partially_paid"
	StatusPaid          ComponentStatus = "paid"
	StatusWaived        ComponentStatus = "waived"

	// StatusOverdue is derived for display and never stored.
	StatusOverdue ComponentStatus = "overdue"
)

// Unsettled reports whether money is still expected on the row.
func (s ComponentStatus) Unsettled() bool {
	return s == StatusPending || s == StatusPartiallyPaid
}

// ComponentKey is the natural key of a ledger row.
type ComponentKey struct {
	StudentID      generic.StudentID
	Year           int
	Month          time.Month
	FeeType        FeeType
	CategoryID     CategoryID // "" for transport
	TransportRoute string
}

func (k ComponentKey) String() string {
	return fmt.Sprintf("%s/%04d-%02d/%s/%s/%s", k.StudentID, k.Year, int(k.Month), k.FeeType, k.CategoryID, k.TransportRoute)
}

// MonthlyFeeComponent is one ledger row: one fee item, one month, one student.
type MonthlyFeeComponent struct {
	ID             ComponentID
	SchoolID       generic.SchoolID
	StudentID      generic.StudentID
	CategoryID     CategoryID
	FeeType        FeeType
	FeeName        string
	TransportRoute string
	Cycle          Cycle
	VersionID      VersionID
	Year           int
	Month          time.Month
	PeriodStart    generic.TimePoint
	PeriodEnd      generic.TimePoint
	BaseAmount     generic.Money
	DiscountAmount generic.Money
	FeeAmount      generic.Money
	PaidAmount     generic.Money
	PendingAmount  generic.Money
	Status         ComponentStatus
	DueDate        generic.TimePoint
	RowVersion     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c MonthlyFeeComponent) Key() ComponentKey {
	return ComponentKey{
		StudentID:      c.StudentID,
		Year:           c.Year,
		Month:          c.Month,
		FeeType:        c.FeeType,
		CategoryID:     c.CategoryID,
		TransportRoute: c.TransportRoute,
	}
}

func (c MonthlyFeeComponent) YearMonth() generic.YearMonth {
	return generic.NewYearMonth(c.Year, c.Month)
}

// ComponentDraft is a computed row before it is persisted.
type ComponentDraft struct {
	SchoolID       generic.SchoolID
	StudentID      generic.StudentID
	CategoryID     CategoryID
	FeeType        FeeType
	FeeName        string
	TransportRoute string
	Cycle          Cycle
	VersionID      VersionID
	Period         generic.YearMonth
	Base           generic.Money
	Discount       generic.Money
	Fee            generic.Money
	DueDate        generic.TimePoint
}

func (d ComponentDraft) Key() ComponentKey {
	return ComponentKey{
		StudentID:      d.StudentID,
		Year:           d.Period.Year,
		Month:          d.Period.Month,
		FeeType:        d.FeeType,
		CategoryID:     d.CategoryID,
		TransportRoute: d.TransportRoute,
	}
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// GenerationRun is the audit record of one batch run.
type GenerationRun struct {
	ID          RunID
	SchoolID    generic.SchoolID
	Status      RunStatus
	Processed   int
	Generated   int
	Updated     int
	Skipped     int
	Failed      int
	Errors      map[generic.StudentID]string
	StartedAt   time.Time
	CompletedAt *time.Time
}

func inWindow(from generic.TimePoint, to *generic.TimePoint, asOf generic.TimePoint) bool {
	if from.After(asOf) {
		return false
	}
	return to == nil || to.AfterOrEqual(asOf)
}
