package fees

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// AGGREGATOR - Read-side month-by-month statement
// =============================================================================

// ComponentView is a stored row plus its display status.
type ComponentView struct {
	MonthlyFeeComponent
	DisplayStatus ComponentStatus
}

// Totals sums a set of components. Overdue is the pending amount of rows
// displayed as overdue.
type Totals struct {
	Fee     generic.Money
	Paid    generic.Money
	Pending generic.Money
	Overdue generic.Money
}

func (t Totals) add(v ComponentView) Totals {
	t.Fee = t.Fee.Add(v.FeeAmount)
	t.Paid = t.Paid.Add(v.PaidAmount)
	t.Pending = t.Pending.Add(v.PendingAmount)
	if v.DisplayStatus == StatusOverdue {
		t.Overdue = t.Overdue.Add(v.PendingAmount)
	}
	return t
}

func (t Totals) plus(o Totals) Totals {
	return Totals{
		Fee:     t.Fee.Add(o.Fee),
		Paid:    t.Paid.Add(o.Paid),
		Pending: t.Pending.Add(o.Pending),
		Overdue: t.Overdue.Add(o.Overdue),
	}
}

type MonthStatement struct {
	Year       int
	Month      time.Month
	Components []ComponentView
	Totals     Totals
}

// Statement is the whole range with grand totals.
type Statement struct {
	StudentID generic.StudentID
	Range     generic.YearRange
	Months    []MonthStatement
	Totals    Totals
}

// Aggregator never writes.
type Aggregator struct {
	Store LedgerStore
	Clock generic.Clock
}

func NewAggregator(store LedgerStore, clock generic.Clock) *Aggregator {
	return &Aggregator{Store: store, Clock: clock}
}

// Ledger groups the student's rows by month, ascending. A read failure is
// returned as is; there is no partial result.
func (a *Aggregator) Ledger(ctx context.Context, studentID generic.StudentID, years generic.YearRange) ([]MonthStatement, error) {
	if err := years.Validate(); err != nil {
		return nil, err
	}
	rows, err := a.Store.ListComponents(ctx, studentID, years.From, years.To)
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", studentID, err)
	}
	return GroupByMonth(rows, a.Clock.Today()), nil
}

// Statement is Ledger plus range totals.
func (a *Aggregator) Statement(ctx context.Context, studentID generic.StudentID, years generic.YearRange) (*Statement, error) {
	months, err := a.Ledger(ctx, studentID, years)
	if err != nil {
		return nil, err
	}
	st := &Statement{StudentID: studentID, Range: years, Months: months}
	for _, m := range months {
		st.Totals = st.Totals.plus(m.Totals)
	}
	return st, nil
}

// DisplayStatus derives overdue for unsettled rows with something still
// pending that were due strictly before today.
func DisplayStatus(c MonthlyFeeComponent, today generic.TimePoint) ComponentStatus {
	if c.Status.Unsettled() && c.PendingAmount.IsPositive() && !c.DueDate.IsZero() && c.DueDate.Before(today) {
		return StatusOverdue
	}
	return c.Status
}

// GroupByMonth is the pure part of Ledger.
func GroupByMonth(rows []MonthlyFeeComponent, today generic.TimePoint) []MonthStatement {
	byMonth := make(map[generic.YearMonth]*MonthStatement)
	var order []generic.YearMonth
	for _, c := range rows {
		ym := c.YearMonth()
		ms, ok := byMonth[ym]
		if !ok {
			ms = &MonthStatement{Year: ym.Year, Month: ym.Month}
			byMonth[ym] = ms
			order = append(order, ym)
		}
		v := ComponentView{MonthlyFeeComponent: c, DisplayStatus: DisplayStatus(c, today)}
		ms.Components = append(ms.Components, v)
		ms.Totals = ms.Totals.add(v)
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]MonthStatement, 0, len(order))
	for _, ym := range order {
		ms := byMonth[ym]
		sort.SliceStable(ms.Components, func(i, j int) bool {
			a, b := ms.Components[i], ms.Components[j]
			if a.FeeType != b.FeeType {
				return a.FeeType < b.FeeType
			}
			return a.FeeName < b.FeeName
		})
		out = append(out, *ms)
	}
	return out
}
