package fees

import (
	"time"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// CYCLE GATING & PRORATION
// =============================================================================

// ShouldBill reports whether a fee item with the given cycle and start date
// produces a ledger row in target.
//
//	monthly:   every month from the start month on
//	quarterly: Jan/Apr/Jul/Oct, once the start quarter is reached and never
//	           before the start month itself
//	yearly:    January of the start year and later
//	one_time:  exactly the start month
func ShouldBill(cycle Cycle, start generic.TimePoint, target generic.YearMonth) bool {
	startYM := start.YearMonth()
	switch cycle {
	case CycleMonthly:
		return !target.Before(startYM)
	case CycleQuarterly:
		if !isQuarterStart(target.Month) || target.Before(startYM) {
			return false
		}
		if target.Year != startYM.Year {
			return target.Year > startYM.Year
		}
		return target.Quarter() >= startYM.Quarter()
	case CycleYearly:
		return target.Month == time.January && target.Year >= startYM.Year
	case CycleOneTime:
		return target == startYM
	}
	return false
}

func isQuarterStart(m time.Month) bool {
	return m == time.January || m == time.April || m == time.July || m == time.October
}

// Prorate converts a full-cycle amount into the share billed in one
// triggering month.
func Prorate(amount generic.Money, cycle Cycle) generic.Money {
	switch cycle {
	case CycleQuarterly:
		return amount.DivInt(3)
	case CycleYearly:
		return amount.DivInt(12)
	}
	return amount
}

// DueDate is day dueDay of the billing month, clamped to the month length.
func DueDate(ym generic.YearMonth, dueDay int) generic.TimePoint {
	if dueDay < 1 {
		dueDay = 1
	}
	if last := generic.DaysInMonth(ym.Year, ym.Month); dueDay > last {
		dueDay = last
	}
	return generic.NewTimePoint(ym.Year, ym.Month, dueDay)
}

// =============================================================================
// PAYMENTS - Shared by every PaymentRecorder
// =============================================================================

// ApplyPaymentTo adds amount to the row's paid total and moves its status.
// The caller persists the row with RowVersion incremented.
func ApplyPaymentTo(c *MonthlyFeeComponent, amount generic.Money) error {
	if !amount.IsPositive() {
		return generic.ErrInvalidAmount
	}
	if amount.GreaterThan(c.PendingAmount) {
		return &generic.OverpaymentError{Pending: c.PendingAmount, Requested: amount}
	}
	c.PaidAmount = c.PaidAmount.Add(amount).Round()
	c.PendingAmount = c.FeeAmount.Sub(c.PaidAmount).ClampZero().Round()
	if c.PendingAmount.IsZero() {
		c.Status = StatusPaid
	} else {
		c.Status = StatusPartiallyPaid
	}
	return nil
}
