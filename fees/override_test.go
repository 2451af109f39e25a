package fees_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

func TestBuildOverrideSet_MostRecentCustomAmountWins(t *testing.T) {
	// GIVEN: Two custom amounts for the same category, the later one 700
	// WHEN: Collapsing overrides
	// THEN: The most recent effective_from wins, regardless of row order

	older := override(catPtr(tuition))
	older.CustomAmount = moneyPtr(500)
	newer := override(catPtr(tuition))
	newer.CustomAmount = moneyPtr(700)
	newer.EffectiveFrom = generic.MustDate("2024-04-01")

	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{older, newer}, asOf)
	co, ok := set.For(tuition)
	require.True(t, ok)
	require.NotNil(t, co.CustomAmount)
	assert.Equal(t, "700.00", co.CustomAmount.String())
}

func TestBuildOverrideSet_FiltersInactiveAndOutOfWindow(t *testing.T) {
	inactive := override(catPtr(tuition))
	inactive.FullWaiver = true
	inactive.IsActive = false

	expired := override(catPtr(tuition))
	expired.FullWaiver = true
	end := generic.MustDate("2024-02-28")
	expired.EffectiveTo = &end

	future := override(nil)
	future.FullWaiver = true
	future.EffectiveFrom = generic.MustDate("2024-07-01")

	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{inactive, expired, future}, asOf)
	_, ok := set.For(tuition)
	assert.False(t, ok)
	assert.False(t, set.GlobalFullWaiver)
}

func TestBuildOverrideSet_GlobalDiscountIgnored(t *testing.T) {
	global := override(nil)
	global.DiscountAmount = moneyPtr(100)

	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{global}, asOf)
	assert.False(t, set.GlobalFullWaiver)
	assert.Empty(t, set.PerCategory)
}

func TestOverrideResolver_ScholarshipsOnlyApproved(t *testing.T) {
	f := newFixture(t, "2024-06-15")
	approved := scholarship(fees.ScholarshipFixed, fees.AppliesToAll)
	approved.Amount = moneyPtr(50)
	pending := scholarship(fees.ScholarshipFixed, fees.AppliesToAll)
	pending.Status = fees.ScholarshipPending
	revoked := scholarship(fees.ScholarshipFixed, fees.AppliesToAll)
	revoked.Status = fees.ScholarshipRevoked

	for _, s := range []fees.Scholarship{approved, pending, revoked} {
		require.NoError(t, f.store.SaveScholarship(f.ctx, s))
	}

	got, err := fees.NewOverrideResolver(f.store).ScholarshipsFor(f.ctx, student1, asOf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fees.ScholarshipApproved, got[0].Status)
}
