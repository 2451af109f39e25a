package sqlstore

import (
	"database/sql"
	"time"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// ROW MAPPINGS - sqlx scans into these, the domain never sees them
// =============================================================================

type categoryRow struct {
	ID       string `db:"id"`
	SchoolID string `db:"school_id"`
	Name     string `db:"name"`
	Kind     string `db:"kind"`
	IsActive bool   `db:"is_active"`
}

func (r categoryRow) toDomain() fees.FeeCategory {
	return fees.FeeCategory{
		ID:       fees.CategoryID(r.ID),
		SchoolID: generic.SchoolID(r.SchoolID),
		Name:     r.Name,
		Kind:     fees.CategoryKind(r.Kind),
		IsActive: r.IsActive,
	}
}

const versionColumns = `id, school_id, scope_kind, scope_id, category_id, route_name, cycle, amount,
	version_number, effective_from, effective_to, is_active, is_current, is_optional, notes, created_at`

type versionRow struct {
	ID            string  `db:"id"`
	SchoolID      string  `db:"school_id"`
	ScopeKind     string  `db:"scope_kind"`
	ScopeID       string  `db:"scope_id"`
	CategoryID    string  `db:"category_id"`
	RouteName     string  `db:"route_name"`
	Cycle         string  `db:"cycle"`
	Amount        dbMoney `db:"amount"`
	VersionNumber int     `db:"version_number"`
	EffectiveFrom dbDate  `db:"effective_from"`
	EffectiveTo   dbDate  `db:"effective_to"`
	IsActive      bool    `db:"is_active"`
	IsCurrent     bool    `db:"is_current"`
	IsOptional    bool    `db:"is_optional"`
	Notes         string  `db:"notes"`
	CreatedAt     dbTime  `db:"created_at"`
}

func (r versionRow) toDomain() fees.FeeVersion {
	return fees.FeeVersion{
		ID:       fees.VersionID(r.ID),
		SchoolID: generic.SchoolID(r.SchoolID),
		Key: fees.ScopeKey{
			Kind:       fees.ScopeKind(r.ScopeKind),
			ScopeID:    r.ScopeID,
			CategoryID: fees.CategoryID(r.CategoryID),
			RouteName:  r.RouteName,
		},
		Cycle:         fees.Cycle(r.Cycle),
		Amount:        r.Amount.Money,
		VersionNumber: r.VersionNumber,
		EffectiveFrom: r.EffectiveFrom.Date,
		EffectiveTo:   r.EffectiveTo.ptr(),
		IsActive:      r.IsActive,
		IsCurrent:     r.IsCurrent,
		Optional:      r.IsOptional,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt.Time,
	}
}

func versionArgs(v fees.FeeVersion) []any {
	return []any{
		v.ID, v.SchoolID, v.Key.Kind, v.Key.ScopeID, v.Key.CategoryID, v.Key.RouteName, v.Cycle,
		moneyOf(v.Amount), v.VersionNumber, dateOf(v.EffectiveFrom), dateOfPtr(v.EffectiveTo),
		v.IsActive, v.IsCurrent, v.Optional, v.Notes, timeOf(v.CreatedAt),
	}
}

type studentRow struct {
	ID            string `db:"id"`
	SchoolID      string `db:"school_id"`
	Name          string `db:"name"`
	ClassID       string `db:"class_id"`
	AdmissionDate dbDate `db:"admission_date"`
	IsActive      bool   `db:"is_active"`
}

func (r studentRow) toDomain() fees.Student {
	return fees.Student{
		ID:            generic.StudentID(r.ID),
		SchoolID:      generic.SchoolID(r.SchoolID),
		Name:          r.Name,
		ClassID:       r.ClassID,
		AdmissionDate: r.AdmissionDate.Date,
		IsActive:      r.IsActive,
	}
}

type profileRow struct {
	StudentID            string                      `db:"student_id"`
	EffectiveFrom        dbDate                      `db:"effective_from"`
	EffectiveTo          dbDate                      `db:"effective_to"`
	ClassID              string                      `db:"class_id"`
	TransportOptIn       bool                        `db:"transport_opt_in"`
	TransportRoute       string                      `db:"transport_route"`
	TransportFeeOverride dbMoney                     `db:"transport_fee_override"`
	TuitionCycle         string                      `db:"tuition_cycle"`
	TransportCycle       string                      `db:"transport_cycle"`
	OptionalCategories   jsonText[[]fees.CategoryID] `db:"optional_categories"`
}

func (r profileRow) toDomain() fees.StudentFeeProfile {
	return fees.StudentFeeProfile{
		StudentID:            generic.StudentID(r.StudentID),
		EffectiveFrom:        r.EffectiveFrom.Date,
		EffectiveTo:          r.EffectiveTo.ptr(),
		ClassID:              r.ClassID,
		TransportOptIn:       r.TransportOptIn,
		TransportRoute:       r.TransportRoute,
		TransportFeeOverride: r.TransportFeeOverride.ptr(),
		TuitionCycle:         fees.Cycle(r.TuitionCycle),
		TransportCycle:       fees.Cycle(r.TransportCycle),
		OptionalCategories:   r.OptionalCategories.V,
	}
}

type overrideRow struct {
	ID             string         `db:"id"`
	StudentID      string         `db:"student_id"`
	CategoryID     sql.NullString `db:"category_id"`
	FullWaiver     bool           `db:"full_waiver"`
	CustomAmount   dbMoney        `db:"custom_amount"`
	DiscountAmount dbMoney        `db:"discount_amount"`
	EffectiveFrom  dbDate         `db:"effective_from"`
	EffectiveTo    dbDate         `db:"effective_to"`
	IsActive       bool           `db:"is_active"`
	Reason         string         `db:"reason"`
}

func (r overrideRow) toDomain() fees.StudentFeeOverride {
	return fees.StudentFeeOverride{
		ID:             fees.OverrideID(r.ID),
		StudentID:      generic.StudentID(r.StudentID),
		CategoryID:     categoryPtr(r.CategoryID),
		FullWaiver:     r.FullWaiver,
		CustomAmount:   r.CustomAmount.ptr(),
		DiscountAmount: r.DiscountAmount.ptr(),
		EffectiveFrom:  r.EffectiveFrom.Date,
		EffectiveTo:    r.EffectiveTo.ptr(),
		IsActive:       r.IsActive,
		Reason:         r.Reason,
	}
}

type scholarshipRow struct {
	ID         string         `db:"id"`
	StudentID  string         `db:"student_id"`
	Name       string         `db:"name"`
	Type       string         `db:"scholarship_type"`
	AppliesTo  string         `db:"applies_to"`
	CategoryID sql.NullString `db:"category_id"`
	Percentage dbMoney        `db:"percentage"`
	Amount     dbMoney        `db:"amount"`
	Status     string         `db:"status"`
	ValidFrom  dbDate         `db:"valid_from"`
	ValidTo    dbDate         `db:"valid_to"`
	IsActive   bool           `db:"is_active"`
}

func (r scholarshipRow) toDomain() fees.Scholarship {
	s := fees.Scholarship{
		ID:         fees.ScholarshipID(r.ID),
		StudentID:  generic.StudentID(r.StudentID),
		Name:       r.Name,
		Type:       fees.ScholarshipType(r.Type),
		AppliesTo:  fees.AppliesTo(r.AppliesTo),
		CategoryID: categoryPtr(r.CategoryID),
		Amount:     r.Amount.ptr(),
		Status:     fees.ScholarshipStatus(r.Status),
		ValidFrom:  r.ValidFrom.Date,
		ValidTo:    r.ValidTo.ptr(),
		IsActive:   r.IsActive,
	}
	if r.Percentage.Valid {
		pct := r.Percentage.Money.Value
		s.Percentage = &pct
	}
	return s
}

const componentColumns = `id, school_id, student_id, category_id, fee_type, fee_name, transport_route, cycle,
	version_id, period_year, period_month, period_start, period_end, base_amount, discount_amount,
	fee_amount, paid_amount, pending_amount, status, due_date, row_version, created_at, updated_at`

type componentRow struct {
	ID             string  `db:"id"`
	SchoolID       string  `db:"school_id"`
	StudentID      string  `db:"student_id"`
	CategoryID     string  `db:"category_id"`
	FeeType        string  `db:"fee_type"`
	FeeName        string  `db:"fee_name"`
	TransportRoute string  `db:"transport_route"`
	Cycle          string  `db:"cycle"`
	VersionID      string  `db:"version_id"`
	PeriodYear     int     `db:"period_year"`
	PeriodMonth    int     `db:"period_month"`
	PeriodStart    dbDate  `db:"period_start"`
	PeriodEnd      dbDate  `db:"period_end"`
	BaseAmount     dbMoney `db:"base_amount"`
	DiscountAmount dbMoney `db:"discount_amount"`
	FeeAmount      dbMoney `db:"fee_amount"`
	PaidAmount     dbMoney `db:"paid_amount"`
	PendingAmount  dbMoney `db:"pending_amount"`
	Status         string  `db:"status"`
	DueDate        dbDate  `db:"due_date"`
	RowVersion     int64   `db:"row_version"`
	CreatedAt      dbTime  `db:"created_at"`
	UpdatedAt      dbTime  `db:"updated_at"`
}

func (r componentRow) toDomain() fees.MonthlyFeeComponent {
	return fees.MonthlyFeeComponent{
		ID:             fees.ComponentID(r.ID),
		SchoolID:       generic.SchoolID(r.SchoolID),
		StudentID:      generic.StudentID(r.StudentID),
		CategoryID:     fees.CategoryID(r.CategoryID),
		FeeType:        fees.FeeType(r.FeeType),
		FeeName:        r.FeeName,
		TransportRoute: r.TransportRoute,
		Cycle:          fees.Cycle(r.Cycle),
		VersionID:      fees.VersionID(r.VersionID),
		Year:           r.PeriodYear,
		Month:          time.Month(r.PeriodMonth),
		PeriodStart:    r.PeriodStart.Date,
		PeriodEnd:      r.PeriodEnd.Date,
		BaseAmount:     r.BaseAmount.Money,
		DiscountAmount: r.DiscountAmount.Money,
		FeeAmount:      r.FeeAmount.Money,
		PaidAmount:     r.PaidAmount.Money,
		PendingAmount:  r.PendingAmount.Money,
		Status:         fees.ComponentStatus(r.Status),
		DueDate:        r.DueDate.Date,
		RowVersion:     r.RowVersion,
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
}

func componentArgs(c fees.MonthlyFeeComponent) []any {
	return []any{
		c.ID, c.SchoolID, c.StudentID, c.CategoryID, c.FeeType, c.FeeName, c.TransportRoute, c.Cycle,
		c.VersionID, c.Year, int(c.Month), dateOf(c.PeriodStart), dateOf(c.PeriodEnd),
		moneyOf(c.BaseAmount), moneyOf(c.DiscountAmount), moneyOf(c.FeeAmount), moneyOf(c.PaidAmount),
		moneyOf(c.PendingAmount), c.Status, dateOf(c.DueDate), c.RowVersion,
		timeOf(c.CreatedAt), timeOf(c.UpdatedAt),
	}
}

type runRow struct {
	ID          string                                 `db:"id"`
	SchoolID    string                                 `db:"school_id"`
	Status      string                                 `db:"status"`
	Processed   int                                    `db:"processed_count"`
	Generated   int                                    `db:"generated_count"`
	Updated     int                                    `db:"updated_count"`
	Skipped     int                                    `db:"skipped_count"`
	Failed      int                                    `db:"failed_count"`
	Errors      jsonText[map[generic.StudentID]string] `db:"errors"`
	StartedAt   dbTime                                 `db:"started_at"`
	CompletedAt dbTime                                 `db:"completed_at"`
}

func (r runRow) toDomain() fees.GenerationRun {
	return fees.GenerationRun{
		ID:          fees.RunID(r.ID),
		SchoolID:    generic.SchoolID(r.SchoolID),
		Status:      fees.RunStatus(r.Status),
		Processed:   r.Processed,
		Generated:   r.Generated,
		Updated:     r.Updated,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Errors:      r.Errors.V,
		StartedAt:   r.StartedAt.Time,
		CompletedAt: r.CompletedAt.ptr(),
	}
}

func categoryPtr(ns sql.NullString) *fees.CategoryID {
	if !ns.Valid {
		return nil
	}
	id := fees.CategoryID(ns.String)
	return &id
}

func nullCategory(id *fees.CategoryID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}
