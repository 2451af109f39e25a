package fees_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

var asOf = generic.NewTimePoint(2024, time.May, 31)

func pct(p int64) *decimal.Decimal {
	d := decimal.NewFromInt(p)
	return &d
}

func scholarship(typ fees.ScholarshipType, applies fees.AppliesTo) fees.Scholarship {
	return fees.Scholarship{
		ID:        "sch",
		StudentID: student1,
		Type:      typ,
		AppliesTo: applies,
		Status:    fees.ScholarshipApproved,
		ValidFrom: generic.MustDate("2024-01-01"),
		IsActive:  true,
	}
}

func override(cat *fees.CategoryID) fees.StudentFeeOverride {
	return fees.StudentFeeOverride{
		StudentID:     student1,
		CategoryID:    cat,
		EffectiveFrom: generic.MustDate("2024-01-01"),
		IsActive:      true,
	}
}

// =============================================================================
// OVERRIDE PRECEDENCE
// =============================================================================

func TestCalculator_FullWaiverBeatsDiscount(t *testing.T) {
	// GIVEN: A full-waiver override and a 20% discount override on the same category
	// WHEN: Computing a 1000 tuition item
	// THEN: Final is 0 and the whole base is the discount

	waiver := override(catPtr(tuition))
	waiver.FullWaiver = true
	discount := override(catPtr(tuition))
	discount.DiscountAmount = moneyPtr(200)
	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{discount, waiver}, asOf)

	for _, strategy := range []fees.Strategy{fees.TerminalCustomAmount{}, fees.DiscountableCustomAmount{}} {
		res := fees.NewCalculator(strategy).ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, set, nil)
		assert.True(t, res.Final.IsZero(), strategy.Name())
		assert.True(t, res.Discount.Equal(generic.NewMoney(1000)), strategy.Name())
		assert.True(t, res.Waived)
	}
}

func TestCalculator_GlobalWaiverZeroesEveryItem(t *testing.T) {
	waiver := override(nil)
	waiver.FullWaiver = true
	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{waiver}, asOf)
	calc := fees.NewCalculator(fees.TerminalCustomAmount{})

	assert.True(t, calc.ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, set, nil).Final.IsZero())
	assert.True(t, calc.ComputeItem(generic.NewMoney(300), "", fees.KindTransport, set, nil).Final.IsZero())
}

func TestCalculator_DiscountsAccumulate(t *testing.T) {
	a := override(catPtr(tuition))
	a.DiscountAmount = moneyPtr(100)
	b := override(catPtr(tuition))
	b.DiscountAmount = moneyPtr(150)
	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{a, b}, asOf)

	res := fees.NewCalculator(fees.TerminalCustomAmount{}).ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, set, nil)
	assert.Equal(t, "750.00", res.Final.String())
	assert.Equal(t, "250.00", res.OverrideDiscount.String())
}

func TestCalculator_DiscountNeverBelowZero(t *testing.T) {
	o := override(catPtr(tuition))
	o.DiscountAmount = moneyPtr(5000)
	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{o}, asOf)

	res := fees.NewCalculator(fees.TerminalCustomAmount{}).ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, set, nil)
	assert.True(t, res.Final.IsZero())
	assert.Equal(t, "1000.00", res.Discount.String())
}

// =============================================================================
// STRATEGIES
// =============================================================================

func TestCalculator_TerminalStrategy_CustomAmountIsFinal(t *testing.T) {
	// GIVEN: A custom amount of 600 and a 50% tuition scholarship
	// WHEN: Using the terminal strategy
	// THEN: Scholarships are not applied; final is 600

	o := override(catPtr(tuition))
	o.CustomAmount = moneyPtr(600)
	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{o}, asOf)
	s := scholarship(fees.ScholarshipPercentage, fees.AppliesToTuitionOnly)
	s.Percentage = pct(50)

	res := fees.NewCalculator(fees.TerminalCustomAmount{}).ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, set, []fees.Scholarship{s})
	assert.Equal(t, "600.00", res.Final.String())
	assert.Equal(t, "400.00", res.Discount.String())
	assert.True(t, res.CustomApplied)
	assert.True(t, res.ScholarshipDiscount.IsZero())
}

func TestCalculator_DiscountableStrategy_ScholarshipOnCustomAmount(t *testing.T) {
	// GIVEN: The same custom amount and scholarship
	// WHEN: Using the discountable strategy
	// THEN: The 50% scholarship applies to 600; final is 300

	o := override(catPtr(tuition))
	o.CustomAmount = moneyPtr(600)
	set := fees.BuildOverrideSet([]fees.StudentFeeOverride{o}, asOf)
	s := scholarship(fees.ScholarshipPercentage, fees.AppliesToTuitionOnly)
	s.Percentage = pct(50)

	res := fees.NewCalculator(fees.DiscountableCustomAmount{}).ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, set, []fees.Scholarship{s})
	assert.Equal(t, "300.00", res.Final.String())
	assert.Equal(t, "300.00", res.ScholarshipDiscount.String())
	assert.Equal(t, "700.00", res.Discount.String())
}

func TestStrategyByName(t *testing.T) {
	s, err := fees.StrategyByName("terminal")
	require.NoError(t, err)
	assert.True(t, s.CustomIsTerminal())

	s, err = fees.StrategyByName("discountable")
	require.NoError(t, err)
	assert.False(t, s.CustomIsTerminal())

	_, err = fees.StrategyByName("")
	assert.ErrorIs(t, err, generic.ErrInvalidStrategy)
}

// =============================================================================
// SCHOLARSHIPS
// =============================================================================

func TestCalculator_ScholarshipsCappedAtBase(t *testing.T) {
	// GIVEN: Base 500, a 70% scholarship and a fixed 200 scholarship
	// WHEN: Computing the item
	// THEN: Total discount is capped at 500 (not 550) and final is 0

	p := scholarship(fees.ScholarshipPercentage, fees.AppliesToAll)
	p.Percentage = pct(70)
	f := scholarship(fees.ScholarshipFixed, fees.AppliesToAll)
	f.Amount = moneyPtr(200)

	res := fees.NewCalculator(fees.TerminalCustomAmount{}).ComputeItem(generic.NewMoney(500), tuition, fees.KindTuition, fees.OverrideSet{}, []fees.Scholarship{p, f})
	assert.Equal(t, "500.00", res.ScholarshipDiscount.String())
	assert.Equal(t, "500.00", res.Discount.String())
	assert.True(t, res.Final.IsZero())
}

func TestCalculator_FullWaiverScholarshipStopsScan(t *testing.T) {
	f := scholarship(fees.ScholarshipFixed, fees.AppliesToAll)
	f.Amount = moneyPtr(100)
	w := scholarship(fees.ScholarshipFullWaiver, fees.AppliesToAll)

	res := fees.NewCalculator(fees.TerminalCustomAmount{}).ComputeItem(generic.NewMoney(800), tuition, fees.KindTuition, fees.OverrideSet{}, []fees.Scholarship{f, w})
	assert.True(t, res.Final.IsZero())
	assert.Equal(t, "800.00", res.ScholarshipDiscount.String())
}

func TestCalculator_ScholarshipAppliesToFiltering(t *testing.T) {
	transportOnly := scholarship(fees.ScholarshipPercentage, fees.AppliesToTransportOnly)
	transportOnly.Percentage = pct(50)
	labOnly := scholarship(fees.ScholarshipFixed, fees.AppliesToSpecificCategory)
	labOnly.CategoryID = catPtr(lab)
	labOnly.Amount = moneyPtr(40)
	list := []fees.Scholarship{transportOnly, labOnly}
	calc := fees.NewCalculator(fees.TerminalCustomAmount{})

	assert.Equal(t, "1000.00", calc.ComputeItem(generic.NewMoney(1000), tuition, fees.KindTuition, fees.OverrideSet{}, list).Final.String())
	assert.Equal(t, "150.00", calc.ComputeItem(generic.NewMoney(300), "", fees.KindTransport, fees.OverrideSet{}, list).Final.String())
	assert.Equal(t, "60.00", calc.ComputeItem(generic.NewMoney(100), lab, fees.KindCustom, fees.OverrideSet{}, list).Final.String())
}

func TestCalculator_RoundsFinalToCents(t *testing.T) {
	p := scholarship(fees.ScholarshipPercentage, fees.AppliesToAll)
	p.Percentage = pct(15)

	res := fees.NewCalculator(fees.TerminalCustomAmount{}).ComputeItem(generic.NewMoney(1000).DivInt(3), tuition, fees.KindTuition, fees.OverrideSet{}, []fees.Scholarship{p})
	// 333.333... - 50.0 = 283.333...
	assert.Equal(t, "283.33", res.Final.String())
}
