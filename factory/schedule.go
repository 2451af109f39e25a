/*
Package factory provides YAML to Go fee schedule conversion.

PURPOSE:
  Converts a YAML fee schedule into categories, version chains, students
  and their profiles, overrides and scholarships, then seeds a store with
  them. Schools can describe their fee structure without code changes.

YAML SCHEMA:
  school_id: sch-1
  categories:
    - {id: cat-tuition, name: Tuition, kind: tuition}
  versions:
    - {scope: class, scope_id: grade-5, category_id: cat-tuition,
       cycle: monthly, amount: "1000.00", effective_from: 2024-01-01}
    - {scope: class, scope_id: grade-5, category_id: cat-tuition,
       cycle: monthly, amount: "1100.00", effective_from: 2024-06-01}
    - {scope: route, scope_id: north, cycle: monthly, amount: 500,
       effective_from: 2024-01-01}
  students:
    - id: stu-1
      class_id: grade-5
      admission_date: 2024-03-10
      profiles:
        - {effective_from: 2024-03-01, class_id: grade-5, transport_route: north}
      overrides:
        - {category_id: cat-tuition, discount_amount: 100, effective_from: 2024-04-01}
      scholarships:
        - {name: Merit, type: percentage, applies_to: tuition_only, percentage: 50,
           valid_from: 2024-01-01}

VERSION CHAINS:
  Versions sharing (scope, scope_id, category_id, route, cycle) form one
  chain. They are numbered in effective_from order; every version but the
  last is closed the day before its successor starts and only the last is
  current. Missing ids are derived from the chain key so reseeding the same
  file updates rows instead of duplicating them.

USAGE:
  f := factory.NewScheduleFactory()
  schedule, err := f.ParseFile("./schedules/sch-1.yaml")
  ...
  err = factory.Seed(ctx, store, schedule)

SEE ALSO:
  - fees/types.go: Domain types produced here
  - cmd/feegen: -seed flag
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

type ScheduleYAML struct {
	SchoolID   string         `yaml:"school_id" validate:"required"`
	Categories []CategoryYAML `yaml:"categories" validate:"dive"`
	Versions   []VersionYAML  `yaml:"versions" validate:"dive"`
	Students   []StudentYAML  `yaml:"students" validate:"dive"`
}

type CategoryYAML struct {
	ID     string `yaml:"id" validate:"required"`
	Name   string `yaml:"name" validate:"required"`
	Kind   string `yaml:"kind" validate:"required,oneof=tuition transport custom"`
	Active *bool  `yaml:"active"`
}

type VersionYAML struct {
	ID            string `yaml:"id"`
	Scope         string `yaml:"scope" validate:"required,oneof=class route"`
	ScopeID       string `yaml:"scope_id" validate:"required"`
	CategoryID    string `yaml:"category_id" validate:"required_if=Scope class"`
	Cycle         string `yaml:"cycle"`
	Amount        string `yaml:"amount" validate:"required"`
	EffectiveFrom string `yaml:"effective_from" validate:"required"`
	Active        *bool  `yaml:"active"`
	Optional      bool   `yaml:"optional"`
	Notes         string `yaml:"notes"`
}

type StudentYAML struct {
	ID            string            `yaml:"id" validate:"required"`
	Name          string            `yaml:"name"`
	ClassID       string            `yaml:"class_id" validate:"required"`
	AdmissionDate string            `yaml:"admission_date" validate:"required"`
	Active        *bool             `yaml:"active"`
	Profiles      []ProfileYAML     `yaml:"profiles" validate:"dive"`
	Overrides     []OverrideYAML    `yaml:"overrides" validate:"dive"`
	Scholarships  []ScholarshipYAML `yaml:"scholarships" validate:"dive"`
}

type ProfileYAML struct {
	EffectiveFrom        string   `yaml:"effective_from" validate:"required"`
	EffectiveTo          string   `yaml:"effective_to"`
	ClassID              string   `yaml:"class_id"`
	TransportRoute       string   `yaml:"transport_route"`
	TransportFeeOverride string   `yaml:"transport_fee_override"`
	TuitionCycle         string   `yaml:"tuition_cycle"`
	TransportCycle       string   `yaml:"transport_cycle"`
	OptionalCategories   []string `yaml:"optional_categories"`
}

type OverrideYAML struct {
	ID             string `yaml:"id"`
	CategoryID     string `yaml:"category_id"`
	FullWaiver     bool   `yaml:"full_waiver"`
	CustomAmount   string `yaml:"custom_amount"`
	DiscountAmount string `yaml:"discount_amount"`
	EffectiveFrom  string `yaml:"effective_from" validate:"required"`
	EffectiveTo    string `yaml:"effective_to"`
	Reason         string `yaml:"reason"`
}

type ScholarshipYAML struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type" validate:"required,oneof=percentage fixed full_waiver"`
	AppliesTo  string `yaml:"applies_to" validate:"required,oneof=all tuition_only transport_only specific_category"`
	CategoryID string `yaml:"category_id" validate:"required_if=AppliesTo specific_category"`
	Percentage string `yaml:"percentage"`
	Amount     string `yaml:"amount"`
	Status     string `yaml:"status" validate:"omitempty,oneof=pending approved rejected revoked"`
	ValidFrom  string `yaml:"valid_from" validate:"required"`
	ValidTo    string `yaml:"valid_to"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// Schedule is a parsed fee schedule, ready to seed.
type Schedule struct {
	SchoolID     generic.SchoolID
	Categories   []fees.FeeCategory
	Versions     []fees.FeeVersion
	Students     []fees.Student
	Profiles     []fees.StudentFeeProfile
	Overrides    []fees.StudentFeeOverride
	Scholarships []fees.Scholarship
}

// idSpace derives stable ids for entries the file leaves unnamed.
var idSpace = uuid.MustParse("6f1c3a52-9d0e-4c38-9a57-3f1d2b8e7c41")

func stableID(parts ...string) string {
	key := ""
	for _, p := range parts {
		key += p + "|"
	}
	return uuid.NewSHA1(idSpace, []byte(key)).String()
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts YAML schedules to domain objects.
type ScheduleFactory struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{validate: validator.New(), now: time.Now}
}

func (f *ScheduleFactory) ParseFile(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule %s: %w", path, err)
	}
	return f.Parse(data)
}

// Parse decodes and validates a YAML schedule.
func (f *ScheduleFactory) Parse(data []byte) (*Schedule, error) {
	var sy ScheduleYAML
	if err := yaml.Unmarshal(data, &sy); err != nil {
		return nil, fmt.Errorf("failed to parse schedule YAML: %w", err)
	}
	if err := f.validate.Struct(sy); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	return f.FromYAML(sy)
}

// FromYAML converts ScheduleYAML to domain objects.
func (f *ScheduleFactory) FromYAML(sy ScheduleYAML) (*Schedule, error) {
	s := &Schedule{SchoolID: generic.SchoolID(sy.SchoolID)}

	for _, cy := range sy.Categories {
		s.Categories = append(s.Categories, fees.FeeCategory{
			ID:       fees.CategoryID(cy.ID),
			SchoolID: s.SchoolID,
			Name:     cy.Name,
			Kind:     fees.CategoryKind(cy.Kind),
			IsActive: boolOr(cy.Active, true),
		})
	}

	versions, err := f.buildChains(s.SchoolID, sy.Versions)
	if err != nil {
		return nil, err
	}
	s.Versions = versions

	for _, st := range sy.Students {
		if err := f.addStudent(s, st); err != nil {
			return nil, fmt.Errorf("student %s: %w", st.ID, err)
		}
	}
	return s, nil
}

// buildChains groups versions by chain, numbers them by start date and
// closes every version but the last.
func (f *ScheduleFactory) buildChains(schoolID generic.SchoolID, in []VersionYAML) ([]fees.FeeVersion, error) {
	type chainKey struct {
		key   fees.ScopeKey
		cycle fees.Cycle
	}
	chains := make(map[chainKey][]fees.FeeVersion)
	var order []chainKey

	for i, vy := range in {
		cycle, err := parseCycle(vy.Cycle)
		if err != nil {
			return nil, fmt.Errorf("version %d: %w", i, err)
		}
		amount, err := generic.ParseMoney(vy.Amount)
		if err != nil || amount.IsNegative() {
			return nil, fmt.Errorf("version %d: amount %q: %w", i, vy.Amount, generic.ErrInvalidAmount)
		}
		from, err := generic.ParseDate(vy.EffectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("version %d: %w", i, err)
		}

		key := fees.ClassScope(vy.ScopeID, fees.CategoryID(vy.CategoryID))
		if vy.Scope == string(fees.ScopeRoute) {
			key = fees.RouteScope(vy.ScopeID)
		}
		ck := chainKey{key: key, cycle: cycle}
		if _, ok := chains[ck]; !ok {
			order = append(order, ck)
		}
		chains[ck] = append(chains[ck], fees.FeeVersion{
			ID:            fees.VersionID(vy.ID),
			SchoolID:      schoolID,
			Key:           key,
			Cycle:         cycle,
			Amount:        amount.Round(),
			EffectiveFrom: from,
			IsActive:      boolOr(vy.Active, true),
			Optional:      vy.Optional,
			Notes:         vy.Notes,
			CreatedAt:     f.now().UTC(),
		})
	}

	var out []fees.FeeVersion
	for _, ck := range order {
		chain := chains[ck]
		sort.SliceStable(chain, func(i, j int) bool { return chain[i].EffectiveFrom.Before(chain[j].EffectiveFrom) })
		for i := range chain {
			if i > 0 && !chain[i].EffectiveFrom.After(chain[i-1].EffectiveFrom) {
				return nil, fmt.Errorf("chain %s/%s: two versions start %s: %w",
					ck.key, ck.cycle, chain[i].EffectiveFrom, generic.ErrInvalidEffectiveDate)
			}
			chain[i].VersionNumber = i + 1
			if chain[i].ID == "" {
				chain[i].ID = fees.VersionID(stableID(string(schoolID), ck.key.String(), string(ck.cycle), fmt.Sprint(i+1)))
			}
			if i < len(chain)-1 {
				closed := chain[i+1].EffectiveFrom.AddDays(-1)
				chain[i].EffectiveTo = &closed
			} else {
				chain[i].IsCurrent = true
			}
		}
		out = append(out, chain...)
	}
	return out, nil
}

func (f *ScheduleFactory) addStudent(s *Schedule, sy StudentYAML) error {
	admitted, err := generic.ParseDate(sy.AdmissionDate)
	if err != nil {
		return err
	}
	studentID := generic.StudentID(sy.ID)
	s.Students = append(s.Students, fees.Student{
		ID:            studentID,
		SchoolID:      s.SchoolID,
		Name:          sy.Name,
		ClassID:       sy.ClassID,
		AdmissionDate: admitted,
		IsActive:      boolOr(sy.Active, true),
	})

	for _, py := range sy.Profiles {
		p := fees.StudentFeeProfile{StudentID: studentID, ClassID: py.ClassID, TransportRoute: py.TransportRoute}
		if p.EffectiveFrom, err = generic.ParseDate(py.EffectiveFrom); err != nil {
			return err
		}
		if p.EffectiveTo, err = optionalDate(py.EffectiveTo); err != nil {
			return err
		}
		if p.TransportFeeOverride, err = optionalMoney(py.TransportFeeOverride); err != nil {
			return err
		}
		if p.TuitionCycle, err = optionalCycle(py.TuitionCycle); err != nil {
			return err
		}
		if p.TransportCycle, err = optionalCycle(py.TransportCycle); err != nil {
			return err
		}
		p.TransportOptIn = py.TransportRoute != ""
		for _, c := range py.OptionalCategories {
			p.OptionalCategories = append(p.OptionalCategories, fees.CategoryID(c))
		}
		s.Profiles = append(s.Profiles, p)
	}

	for i, oy := range sy.Overrides {
		o := fees.StudentFeeOverride{
			ID:         fees.OverrideID(oy.ID),
			StudentID:  studentID,
			CategoryID: optionalCategory(oy.CategoryID),
			FullWaiver: oy.FullWaiver,
			IsActive:   true,
			Reason:     oy.Reason,
		}
		if o.ID == "" {
			o.ID = fees.OverrideID(stableID(sy.ID, "override", fmt.Sprint(i)))
		}
		if o.EffectiveFrom, err = generic.ParseDate(oy.EffectiveFrom); err != nil {
			return err
		}
		if o.EffectiveTo, err = optionalDate(oy.EffectiveTo); err != nil {
			return err
		}
		if o.CustomAmount, err = optionalMoney(oy.CustomAmount); err != nil {
			return err
		}
		if o.DiscountAmount, err = optionalMoney(oy.DiscountAmount); err != nil {
			return err
		}
		s.Overrides = append(s.Overrides, o)
	}

	for i, sc := range sy.Scholarships {
		sch := fees.Scholarship{
			ID:         fees.ScholarshipID(sc.ID),
			StudentID:  studentID,
			Name:       sc.Name,
			Type:       fees.ScholarshipType(sc.Type),
			AppliesTo:  fees.AppliesTo(sc.AppliesTo),
			CategoryID: optionalCategory(sc.CategoryID),
			Status:     fees.ScholarshipStatus(sc.Status),
			IsActive:   true,
		}
		if sch.ID == "" {
			sch.ID = fees.ScholarshipID(stableID(sy.ID, "scholarship", fmt.Sprint(i)))
		}
		if sch.Status == "" {
			sch.Status = fees.ScholarshipApproved
		}
		if sc.Percentage != "" {
			pct, err := decimal.NewFromString(sc.Percentage)
			if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
				return fmt.Errorf("scholarship percentage %q: %w", sc.Percentage, generic.ErrInvalidAmount)
			}
			sch.Percentage = &pct
		}
		if sch.Amount, err = optionalMoney(sc.Amount); err != nil {
			return err
		}
		if sch.ValidFrom, err = generic.ParseDate(sc.ValidFrom); err != nil {
			return err
		}
		if sch.ValidTo, err = optionalDate(sc.ValidTo); err != nil {
			return err
		}
		s.Scholarships = append(s.Scholarships, sch)
	}
	return nil
}

// =============================================================================
// SEEDING
// =============================================================================

// Seeder is the write surface a schedule needs.
type Seeder interface {
	fees.CategoryStore
	fees.SetupStore
	SaveVersion(ctx context.Context, v fees.FeeVersion) error
}

// Seed writes every entry of the schedule. Writes are upserts, so seeding
// the same schedule twice is harmless.
func Seed(ctx context.Context, store Seeder, s *Schedule) error {
	for _, c := range s.Categories {
		if err := store.SaveCategory(ctx, c); err != nil {
			return err
		}
	}
	for _, v := range s.Versions {
		if err := store.SaveVersion(ctx, v); err != nil {
			return err
		}
	}
	for _, st := range s.Students {
		if err := store.SaveStudent(ctx, st); err != nil {
			return err
		}
	}
	for _, p := range s.Profiles {
		if err := store.SaveProfile(ctx, p); err != nil {
			return err
		}
	}
	for _, o := range s.Overrides {
		if err := store.SaveOverride(ctx, o); err != nil {
			return err
		}
	}
	for _, sch := range s.Scholarships {
		if err := store.SaveScholarship(ctx, sch); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseCycle(s string) (fees.Cycle, error) {
	if s == "" {
		return fees.CycleMonthly, nil
	}
	return fees.ParseCycle(s)
}

func optionalCycle(s string) (fees.Cycle, error) {
	if s == "" {
		return "", nil
	}
	return fees.ParseCycle(s)
}

func optionalDate(s string) (*generic.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func optionalMoney(s string) (*generic.Money, error) {
	if s == "" {
		return nil, nil
	}
	m, err := generic.ParseMoney(s)
	if err != nil || m.IsNegative() {
		return nil, fmt.Errorf("amount %q: %w", s, generic.ErrInvalidAmount)
	}
	m = m.Round()
	return &m, nil
}

func optionalCategory(s string) *fees.CategoryID {
	if s == "" {
		return nil
	}
	id := fees.CategoryID(s)
	return &id
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
