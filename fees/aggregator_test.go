package fees_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/store/memory"
)

func TestAggregator_DerivesOverdueWithoutWriting(t *testing.T) {
	// GIVEN: Rows for Mar-Jun 2024, March partly paid, April fully paid
	// WHEN: Reading the ledger on 2024-05-20
	// THEN: Mar and May show overdue, Apr paid, Jun pending; stored status unchanged

	f := newFixture(t, "2024-06-15")
	f.version(fees.ClassScope(class5, tuition), fees.CycleMonthly, 1000, "2024-03-10")
	f.student(student1, "2024-03-10")
	f.ensure(student1)

	rows := f.ledger(student1)
	_, err := f.store.ApplyPayment(f.ctx, rows[0].ID, generic.NewMoney(200))
	require.NoError(t, err)
	_, err = f.store.ApplyPayment(f.ctx, rows[1].ID, generic.NewMoney(1000))
	require.NoError(t, err)

	agg := fees.NewAggregator(f.store, generic.FixedClock{Day: generic.MustDate("2024-05-20")})
	months, err := agg.Ledger(f.ctx, student1, generic.YearRange{From: 2024, To: 2024})
	require.NoError(t, err)
	require.Len(t, months, 4)

	assert.Equal(t, fees.StatusOverdue, months[0].Components[0].DisplayStatus)
	assert.Equal(t, fees.StatusPaid, months[1].Components[0].DisplayStatus)
	assert.Equal(t, fees.StatusOverdue, months[2].Components[0].DisplayStatus)
	assert.Equal(t, fees.StatusPending, months[3].Components[0].DisplayStatus)
	assert.Equal(t, fees.StatusPartiallyPaid, months[0].Components[0].Status)

	assert.Equal(t, "800.00", months[0].Totals.Overdue.String())
	for _, row := range f.ledger(student1) {
		assert.NotEqual(t, fees.StatusOverdue, row.Status)
	}

	st, err := agg.Statement(f.ctx, student1, generic.YearRange{From: 2024, To: 2024})
	require.NoError(t, err)
	assert.Equal(t, "4000.00", st.Totals.Fee.String())
	assert.Equal(t, "1200.00", st.Totals.Paid.String())
	assert.Equal(t, "2800.00", st.Totals.Pending.String())
	assert.Equal(t, "1800.00", st.Totals.Overdue.String())
}

func TestAggregator_DueTodayIsNotOverdue(t *testing.T) {
	c := fees.MonthlyFeeComponent{Status: fees.StatusPending, PendingAmount: generic.NewMoney(500), DueDate: generic.MustDate("2024-05-10")}
	assert.Equal(t, fees.StatusPending, fees.DisplayStatus(c, generic.MustDate("2024-05-10")))
	assert.Equal(t, fees.StatusOverdue, fees.DisplayStatus(c, generic.MustDate("2024-05-11")))

	c.Status = fees.StatusWaived
	assert.Equal(t, fees.StatusWaived, fees.DisplayStatus(c, generic.MustDate("2024-05-11")))
}

func TestAggregator_NothingPendingIsNotOverdue(t *testing.T) {
	// GIVEN: March partly paid (600 of 1000), then the fee is lowered to 500
	// WHEN: Reading the ledger after the due date
	// THEN: The row keeps partially_paid with nothing pending and is not shown overdue

	f := newFixture(t, "2024-03-31")
	key := fees.ClassScope(class5, tuition)
	f.version(key, fees.CycleMonthly, 1000, "2024-03-01")
	f.student(student1, "2024-03-01")
	f.ensure(student1)

	rows := f.ledger(student1)
	_, err := f.store.ApplyPayment(f.ctx, rows[0].ID, generic.NewMoney(600))
	require.NoError(t, err)
	discount := override(catPtr(tuition))
	discount.DiscountAmount = moneyPtr(500)
	require.NoError(t, f.store.SaveOverride(f.ctx, discount))
	f.ensure(student1)

	row := f.ledger(student1)[0]
	require.Equal(t, "500.00", row.FeeAmount.String())
	assert.True(t, row.PendingAmount.IsZero())
	assert.Equal(t, fees.StatusPartiallyPaid, row.Status)

	agg := fees.NewAggregator(f.store, generic.FixedClock{Day: generic.MustDate("2024-04-20")})
	months, err := agg.Ledger(f.ctx, student1, generic.YearRange{From: 2024, To: 2024})
	require.NoError(t, err)
	assert.Equal(t, fees.StatusPartiallyPaid, months[0].Components[0].DisplayStatus)
	assert.True(t, months[0].Totals.Overdue.IsZero())
}

func TestGroupByMonth_SortsMonthsAndComponents(t *testing.T) {
	rows := []fees.MonthlyFeeComponent{
		{ID: "a", Year: 2025, Month: time.January, FeeType: fees.KindTuition, FeeName: "Tuition"},
		{ID: "b", Year: 2024, Month: time.December, FeeType: fees.KindTransport, FeeName: "Transport - north"},
		{ID: "c", Year: 2024, Month: time.December, FeeType: fees.KindCustom, FeeName: "Lab Fee"},
		{ID: "d", Year: 2024, Month: time.March, FeeType: fees.KindTuition, FeeName: "Tuition"},
	}
	months := fees.GroupByMonth(rows, generic.MustDate("2024-01-01"))

	require.Len(t, months, 3)
	assert.Equal(t, time.March, months[0].Month)
	assert.Equal(t, 2025, months[2].Year)
	require.Len(t, months[1].Components, 2)
	assert.Equal(t, fees.ComponentID("c"), months[1].Components[0].ID)
}

type brokenLedger struct {
	*memory.Memory
}

func (brokenLedger) ListComponents(context.Context, generic.StudentID, int, int) ([]fees.MonthlyFeeComponent, error) {
	return nil, errors.New("timeout")
}

func TestAggregator_ReadFailureIsHard(t *testing.T) {
	agg := fees.NewAggregator(brokenLedger{memory.New()}, generic.SystemClock{})
	_, err := agg.Ledger(context.Background(), student1, generic.YearRange{From: 2024, To: 2024})
	assert.Error(t, err)

	_, err = agg.Ledger(context.Background(), student1, generic.YearRange{From: 2025, To: 2024})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}
