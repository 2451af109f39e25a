package fees_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// CYCLE GATING
// =============================================================================

func TestShouldBill_Quarterly_StartInFebruary(t *testing.T) {
	// GIVEN: A quarterly fee starting 2024-02-15
	// WHEN: Checking every month of 2024 and January 2025
	// THEN: Only Apr, Jul, Oct 2024 and Jan 2025 bill; Jan 2024 does not

	start := generic.MustDate("2024-02-15")
	var billed []string
	r := generic.MonthRange{From: ym(2024, time.January), To: ym(2025, time.January)}
	for m := range r.Months() {
		if fees.ShouldBill(fees.CycleQuarterly, start, m) {
			billed = append(billed, m.String())
		}
	}
	assert.Equal(t, []string{"2024-04", "2024-07", "2024-10", "2025-01"}, billed)
}

func TestShouldBill_Table(t *testing.T) {
	start := generic.MustDate("2024-03-10")

	tests := []struct {
		name   string
		cycle  fees.Cycle
		target generic.YearMonth
		want   bool
	}{
		{"monthly before start", fees.CycleMonthly, ym(2024, time.February), false},
		{"monthly start month", fees.CycleMonthly, ym(2024, time.March), true},
		{"monthly later year", fees.CycleMonthly, ym(2026, time.August), true},
		{"quarterly non-trigger month", fees.CycleQuarterly, ym(2024, time.May), false},
		{"quarterly april", fees.CycleQuarterly, ym(2024, time.April), true},
		{"quarterly previous year", fees.CycleQuarterly, ym(2023, time.October), false},
		{"yearly start year january", fees.CycleYearly, ym(2024, time.January), true},
		{"yearly next january", fees.CycleYearly, ym(2025, time.January), true},
		{"yearly february", fees.CycleYearly, ym(2025, time.February), false},
		{"yearly before start year", fees.CycleYearly, ym(2023, time.January), false},
		{"one-time start month", fees.CycleOneTime, ym(2024, time.March), true},
		{"one-time same month next year", fees.CycleOneTime, ym(2025, time.March), false},
		{"unknown cycle", fees.Cycle("weekly"), ym(2024, time.March), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fees.ShouldBill(tt.cycle, start, tt.target))
		})
	}
}

// =============================================================================
// PRORATION & DUE DATES
// =============================================================================

func TestProrate(t *testing.T) {
	assert.Equal(t, "1200.00", fees.Prorate(generic.NewMoney(1200), fees.CycleMonthly).String())
	assert.Equal(t, "1200.00", fees.Prorate(generic.NewMoney(1200), fees.CycleOneTime).String())
	assert.Equal(t, "400.00", fees.Prorate(generic.NewMoney(1200), fees.CycleQuarterly).String())
	assert.Equal(t, "100.00", fees.Prorate(generic.NewMoney(1200), fees.CycleYearly).String())
}

func TestDueDate_ClampedToMonthLength(t *testing.T) {
	assert.Equal(t, "2024-03-10", fees.DueDate(ym(2024, time.March), 10).String())
	assert.Equal(t, "2024-02-29", fees.DueDate(ym(2024, time.February), 31).String())
	assert.Equal(t, "2024-02-01", fees.DueDate(ym(2024, time.February), 0).String())
}

func TestParseCycle(t *testing.T) {
	c, err := fees.ParseCycle("one-time")
	require.NoError(t, err)
	assert.Equal(t, fees.CycleOneTime, c)

	_, err = fees.ParseCycle("fortnightly")
	assert.Error(t, err)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestApplyPaymentTo_StatusTransitions(t *testing.T) {
	c := fees.MonthlyFeeComponent{
		FeeAmount:     generic.NewMoney(1000),
		PaidAmount:    generic.ZeroMoney(),
		PendingAmount: generic.NewMoney(1000),
		Status:        fees.StatusPending,
	}

	require.NoError(t, fees.ApplyPaymentTo(&c, generic.NewMoney(300)))
	assert.Equal(t, fees.StatusPartiallyPaid, c.Status)
	assert.Equal(t, "700.00", c.PendingAmount.String())

	var over *generic.OverpaymentError
	assert.ErrorAs(t, fees.ApplyPaymentTo(&c, generic.NewMoney(701)), &over)

	require.NoError(t, fees.ApplyPaymentTo(&c, generic.NewMoney(700)))
	assert.Equal(t, fees.StatusPaid, c.Status)
	assert.True(t, c.PendingAmount.IsZero())

	assert.ErrorIs(t, fees.ApplyPaymentTo(&c, generic.ZeroMoney()), generic.ErrInvalidAmount)
}
