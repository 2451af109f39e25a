package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// GENERATOR - Fee items → ledger rows
// =============================================================================

const (
	// DefaultDueDay is the day of the month rows fall due.
	DefaultDueDay = 10

	// maxUpsertAttempts bounds re-read/recompute cycles on row-version conflicts.
	maxUpsertAttempts = 3
)

// UpsertOutcome says what an upsert did to the ledger.
type UpsertOutcome string

const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
	OutcomeFailed    UpsertOutcome = "failed"
)

// RunStats counts what EnsureExists did for one student.
type RunStats struct {
	Months    int
	Generated int
	Updated   int
	Unchanged int
	Failed    int
}

func (s *RunStats) record(o UpsertOutcome) {
	switch o {
	case OutcomeInserted:
		s.Generated++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeFailed:
		s.Failed++
	}
}

// Generator computes drafts for a student and month and upserts them.
// All collaborators are injected; nothing is read from the environment.
type Generator struct {
	Students   StudentDirectory
	Profiles   ProfileStore
	Categories CategoryStore
	Versions   *VersionResolver
	Overrides  *OverrideResolver
	Calculator *Calculator
	Ledger     LedgerStore
	Clock      generic.Clock
	Log        logrus.FieldLogger
	Metrics    *Metrics
	DueDay     int
	NewID      func() string
	Now        func() time.Time
}

// NewGenerator wires a Generator from a single store.
func NewGenerator(store Store, versions VersionStore, calc *Calculator, log logrus.FieldLogger) *Generator {
	if versions == nil {
		versions = store
	}
	return &Generator{
		Students:   store,
		Profiles:   store,
		Categories: store,
		Versions:   NewVersionResolver(versions),
		Overrides:  NewOverrideResolver(store),
		Calculator: calc,
		Ledger:     store,
		Clock:      generic.SystemClock{},
		Log:        log,
		DueDay:     DefaultDueDay,
		NewID:      uuid.NewString,
		Now:        time.Now,
	}
}

// feeItem is one billable chain for a student in a month.
type feeItem struct {
	category CategoryID
	feeType  FeeType
	name     string
	route    string
	cycle    Cycle
	chain    []FeeVersion
	base     *generic.Money // replaces the version amount when set
}

// Generate computes the drafts for one student and month without writing.
// An unknown student yields no drafts.
func (g *Generator) Generate(ctx context.Context, studentID generic.StudentID, schoolID generic.SchoolID, year int, month time.Month) ([]ComponentDraft, error) {
	ym := generic.NewYearMonth(year, month)
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	student, err := g.Students.GetStudent(ctx, schoolID, studentID)
	if errors.Is(err, generic.ErrStudentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load student %s: %w", studentID, err)
	}
	return g.generateFor(ctx, *student, ym)
}

func (g *Generator) generateFor(ctx context.Context, student Student, ym generic.YearMonth) ([]ComponentDraft, error) {
	if ym.Before(student.AdmissionDate.YearMonth()) {
		return nil, nil
	}
	asOf := ym.End()

	profile, err := g.Profiles.GetProfile(ctx, student.ID, asOf)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	items, err := g.feeItems(ctx, student, profile)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	overrides, err := g.Overrides.OverridesFor(ctx, student.ID, asOf)
	if err != nil {
		return nil, err
	}
	scholarships, err := g.Overrides.ScholarshipsFor(ctx, student.ID, asOf)
	if err != nil {
		return nil, err
	}

	var drafts []ComponentDraft
	for _, item := range items {
		version := SelectVersion(item.chain, asOf)
		if version == nil {
			continue
		}
		if item.feeType != KindTransport && version.Optional {
			if profile == nil || !profile.OptsInto(item.category) {
				continue
			}
		}
		chainStart, _ := ChainStart(item.chain)
		start := generic.MaxTimePoint(student.AdmissionDate, chainStart)
		if !ShouldBill(item.cycle, start, ym) {
			continue
		}

		full := version.Amount
		if item.base != nil {
			full = *item.base
		}
		result := g.Calculator.ComputeItem(Prorate(full, item.cycle), item.category, item.feeType, overrides, scholarships)

		drafts = append(drafts, ComponentDraft{
			SchoolID:       student.SchoolID,
			StudentID:      student.ID,
			CategoryID:     item.category,
			FeeType:        item.feeType,
			FeeName:        item.name,
			TransportRoute: item.route,
			Cycle:          item.cycle,
			VersionID:      version.ID,
			Period:         ym,
			Base:           result.Base,
			Discount:       result.Discount,
			Fee:            result.Final,
			DueDate:        DueDate(ym, g.dueDay()),
		})
	}
	return drafts, nil
}

// feeItems lists the chains that apply to the student: class chains for
// tuition (profile cycle, default monthly) and custom categories (every
// cycle), plus the transport route chain when opted in. The class is the
// one recorded on the month's profile, so a promotion leaves earlier
// months on the old class.
func (g *Generator) feeItems(ctx context.Context, student Student, profile *StudentFeeProfile) ([]feeItem, error) {
	classVersions, err := g.Versions.Store.ListScopeVersions(ctx, student.SchoolID, ScopeClass, ClassOf(student, profile))
	if err != nil {
		return nil, fmt.Errorf("load class versions: %w", err)
	}

	tuitionCycle := CycleMonthly
	transportCycle := CycleMonthly
	if profile != nil {
		tuitionCycle = profile.TuitionCycle.OrDefault(CycleMonthly)
		transportCycle = profile.TransportCycle.OrDefault(CycleMonthly)
	}

	var items []feeItem
	keys, chains := groupChains(classVersions)
	for _, k := range keys {
		cat, err := g.Categories.GetCategory(ctx, k.Key.CategoryID)
		if err != nil {
			if generic.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("load category %s: %w", k.Key.CategoryID, err)
		}
		if cat == nil || !cat.IsActive || cat.Kind == KindTransport {
			continue
		}
		if cat.Kind == KindTuition && k.Cycle != tuitionCycle {
			continue
		}
		items = append(items, feeItem{
			category: cat.ID,
			feeType:  cat.Kind,
			name:     cat.Name,
			cycle:    k.Cycle,
			chain:    chains[k],
		})
	}

	if profile == nil || !profile.TransportOptIn || profile.TransportRoute == "" {
		return items, nil
	}
	routeVersions, err := g.Versions.Store.ListScopeVersions(ctx, student.SchoolID, ScopeRoute, profile.TransportRoute)
	if err != nil {
		return nil, fmt.Errorf("load route versions: %w", err)
	}
	keys, chains = groupChains(routeVersions)
	for _, k := range keys {
		if k.Cycle != transportCycle {
			continue
		}
		items = append(items, feeItem{
			category: k.Key.CategoryID,
			feeType:  KindTransport,
			name:     "Transport - " + profile.TransportRoute,
			route:    profile.TransportRoute,
			cycle:    k.Cycle,
			chain:    chains[k],
			base:     profile.TransportFeeOverride,
		})
	}
	return items, nil
}

// EnsureExists generates and upserts every month from admission through the
// current month. Failures surface as *generic.StudentError; a failed write
// on one component is logged and its siblings still run.
func (g *Generator) EnsureExists(ctx context.Context, studentID generic.StudentID, schoolID generic.SchoolID) (RunStats, error) {
	var stats RunStats
	log := g.Log.WithFields(logrus.Fields{
		"component":  "generator",
		"student_id": studentID,
		"school_id":  schoolID,
	})

	student, err := g.Students.GetStudent(ctx, schoolID, studentID)
	if errors.Is(err, generic.ErrStudentNotFound) {
		log.Debug("student not found, nothing to generate")
		return stats, nil
	}
	if err != nil {
		return stats, &generic.StudentError{StudentID: studentID, Err: err}
	}

	months := generic.MonthRange{
		From: student.AdmissionDate.YearMonth(),
		To:   g.Clock.Today().YearMonth(),
	}
	for ym := range months.Months() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Months++

		drafts, err := g.generateFor(ctx, *student, ym)
		if err != nil {
			log.WithError(err).WithField("period", ym.String()).Error("fee computation failed")
			return stats, &generic.StudentError{StudentID: studentID, Err: err}
		}
		for _, d := range drafts {
			outcome, err := g.Upsert(ctx, d)
			stats.record(outcome)
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"year":     ym.Year,
					"month":    int(ym.Month),
					"fee_type": d.FeeType,
					"category": d.CategoryID,
				}).Warn("component upsert failed, continuing")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"months":    stats.Months,
		"generated": stats.Generated,
		"updated":   stats.Updated,
		"failed":    stats.Failed,
	}).Debug("ledger ensured")
	return stats, nil
}

// Upsert writes a draft idempotently. Updates are guarded by the row
// version read; on conflict the row is re-read and recomputed.
func (g *Generator) Upsert(ctx context.Context, d ComponentDraft) (UpsertOutcome, error) {
	key := d.Key()
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		existing, err := g.Ledger.FindComponent(ctx, key)
		if err != nil {
			g.Metrics.component(OutcomeFailed)
			return OutcomeFailed, fmt.Errorf("find component %s: %w", key, err)
		}

		if existing == nil {
			err := g.Ledger.InsertComponent(ctx, g.newComponent(d))
			if errors.Is(err, generic.ErrDuplicateComponent) {
				g.Metrics.conflict()
				continue
			}
			if err != nil {
				g.Metrics.component(OutcomeFailed)
				return OutcomeFailed, fmt.Errorf("insert component %s: %w", key, err)
			}
			g.Metrics.component(OutcomeInserted)
			return OutcomeInserted, nil
		}

		next, changed := Refresh(*existing, d)
		if !changed {
			g.Metrics.component(OutcomeUnchanged)
			return OutcomeUnchanged, nil
		}
		next.UpdatedAt = g.Now().UTC()
		err = g.Ledger.UpdateComponentAmounts(ctx, next, existing.RowVersion)
		if errors.Is(err, generic.ErrConcurrentModification) {
			g.Metrics.conflict()
			continue
		}
		if err != nil {
			g.Metrics.component(OutcomeFailed)
			return OutcomeFailed, fmt.Errorf("update component %s: %w", key, err)
		}
		g.Metrics.component(OutcomeUpdated)
		return OutcomeUpdated, nil
	}
	g.Metrics.component(OutcomeFailed)
	return OutcomeFailed, fmt.Errorf("upsert component %s after %d attempts: %w", key, maxUpsertAttempts, generic.ErrConcurrentModification)
}

func (g *Generator) newComponent(d ComponentDraft) MonthlyFeeComponent {
	now := g.Now().UTC()
	status := StatusPending
	if d.Fee.IsZero() {
		status = StatusWaived
	}
	return MonthlyFeeComponent{
		ID:             ComponentID(g.NewID()),
		SchoolID:       d.SchoolID,
		StudentID:      d.StudentID,
		CategoryID:     d.CategoryID,
		FeeType:        d.FeeType,
		FeeName:        d.FeeName,
		TransportRoute: d.TransportRoute,
		Cycle:          d.Cycle,
		VersionID:      d.VersionID,
		Year:           d.Period.Year,
		Month:          d.Period.Month,
		PeriodStart:    d.Period.Start(),
		PeriodEnd:      d.Period.End(),
		BaseAmount:     d.Base,
		DiscountAmount: d.Discount,
		FeeAmount:      d.Fee,
		PaidAmount:     generic.ZeroMoney(),
		PendingAmount:  d.Fee,
		Status:         status,
		DueDate:        d.DueDate,
		RowVersion:     1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Refresh applies a draft to an existing row. PaidAmount is kept; the
// status only moves between pending and waived, payment-driven statuses
// stay as they are. It reports whether anything changed.
func Refresh(existing MonthlyFeeComponent, d ComponentDraft) (MonthlyFeeComponent, bool) {
	next := existing
	next.FeeName = d.FeeName
	next.TransportRoute = d.TransportRoute
	next.Cycle = d.Cycle
	next.VersionID = d.VersionID
	next.BaseAmount = d.Base
	next.DiscountAmount = d.Discount
	next.FeeAmount = d.Fee
	next.PendingAmount = d.Fee.Sub(existing.PaidAmount).ClampZero()
	next.DueDate = d.DueDate

	if existing.Status == StatusPending || existing.Status == StatusWaived {
		if d.Fee.IsZero() && existing.PaidAmount.IsZero() {
			next.Status = StatusWaived
		} else {
			next.Status = StatusPending
		}
	}

	changed := next.FeeName != existing.FeeName ||
		next.Cycle != existing.Cycle ||
		next.VersionID != existing.VersionID ||
		!next.BaseAmount.Equal(existing.BaseAmount) ||
		!next.DiscountAmount.Equal(existing.DiscountAmount) ||
		!next.FeeAmount.Equal(existing.FeeAmount) ||
		!next.PendingAmount.Equal(existing.PendingAmount) ||
		!next.DueDate.Equal(existing.DueDate) ||
		next.Status != existing.Status
	return next, changed
}

func (g *Generator) dueDay() int {
	if g.DueDay <= 0 {
		return DefaultDueDay
	}
	return g.DueDay
}
