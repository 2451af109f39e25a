package fees

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// OVERRIDE RESOLUTION
// =============================================================================
//
// Within one category:
//   1. any full waiver wins
//   2. else the first custom amount (most recent effective_from first)
//   3. else discounts from every matching row are summed
//
// A global row (nil category) with a full waiver zeroes every fee item.
// Global rows without the waiver flag are ignored.

// CategoryOverride is the collapsed result for one category.
type CategoryOverride struct {
	FullWaiver   bool
	CustomAmount *generic.Money
	Discount     generic.Money
}

type OverrideSet struct {
	PerCategory      map[CategoryID]CategoryOverride
	GlobalFullWaiver bool
}

// For returns the category's override, if any.
func (s OverrideSet) For(id CategoryID) (CategoryOverride, bool) {
	if id == "" || s.PerCategory == nil {
		return CategoryOverride{}, false
	}
	o, ok := s.PerCategory[id]
	return o, ok
}

type OverrideResolver struct {
	Store OverrideStore
}

func NewOverrideResolver(store OverrideStore) *OverrideResolver {
	return &OverrideResolver{Store: store}
}

// OverridesFor collapses the student's overrides active on asOf.
func (r *OverrideResolver) OverridesFor(ctx context.Context, studentID generic.StudentID, asOf generic.TimePoint) (OverrideSet, error) {
	rows, err := r.Store.ListOverrides(ctx, studentID)
	if err != nil {
		return OverrideSet{}, fmt.Errorf("load overrides for %s: %w", studentID, err)
	}
	return BuildOverrideSet(rows, asOf), nil
}

// ScholarshipsFor returns approved, active scholarships valid on asOf.
func (r *OverrideResolver) ScholarshipsFor(ctx context.Context, studentID generic.StudentID, asOf generic.TimePoint) ([]Scholarship, error) {
	rows, err := r.Store.ListScholarships(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load scholarships for %s: %w", studentID, err)
	}
	var out []Scholarship
	for _, s := range rows {
		if s.Applicable(asOf) {
			out = append(out, s)
		}
	}
	return out, nil
}

// BuildOverrideSet applies the precedence rules to raw rows.
func BuildOverrideSet(rows []StudentFeeOverride, asOf generic.TimePoint) OverrideSet {
	active := make([]StudentFeeOverride, 0, len(rows))
	for _, o := range rows {
		if o.ActiveOn(asOf) {
			active = append(active, o)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].EffectiveFrom.After(active[j].EffectiveFrom)
	})

	set := OverrideSet{PerCategory: make(map[CategoryID]CategoryOverride)}
	for _, o := range active {
		if o.CategoryID == nil {
			if o.FullWaiver {
				set.GlobalFullWaiver = true
			}
			continue
		}

		cur := set.PerCategory[*o.CategoryID]
		switch {
		case o.FullWaiver:
			cur.FullWaiver = true
		case o.CustomAmount != nil:
			if cur.CustomAmount == nil {
				amt := *o.CustomAmount
				cur.CustomAmount = &amt
			}
		}
		if o.DiscountAmount != nil && !o.FullWaiver && o.CustomAmount == nil {
			cur.Discount = cur.Discount.Add(*o.DiscountAmount)
		}
		set.PerCategory[*o.CategoryID] = cur
	}
	return set
}
