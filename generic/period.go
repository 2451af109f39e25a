package generic

import (
	"fmt"
	"iter"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] date range.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects periods that end before they start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// YEAR MONTH - The billing unit
// =============================================================================

// YearMonth identifies one calendar month. Ledger rows are keyed by it.
type YearMonth struct {
	Year  int
	Month time.Month
}

func NewYearMonth(year int, month time.Month) YearMonth {
	return YearMonth{Year: year, Month: month}
}

// Index is a monotonically increasing month number, handy for comparisons.
func (ym YearMonth) Index() int { return ym.Year*12 + int(ym.Month) - 1 }

func (ym YearMonth) Before(o YearMonth) bool { return ym.Index() < o.Index() }
func (ym YearMonth) After(o YearMonth) bool  { return ym.Index() > o.Index() }

// Next returns the following month, rolling over December.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == time.December {
		return YearMonth{Year: ym.Year + 1, Month: time.January}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// Quarter returns 1..4.
func (ym YearMonth) Quarter() int { return (int(ym.Month)-1)/3 + 1 }

func (ym YearMonth) Start() TimePoint { return StartOfMonth(ym.Year, ym.Month) }
func (ym YearMonth) End() TimePoint   { return EndOfMonth(ym.Year, ym.Month) }

// Validate rejects months outside 1..12.
func (ym YearMonth) Validate() error {
	if ym.Month < time.January || ym.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, ym.Month)
	}
	return nil
}

func (ym YearMonth) String() string { return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month)) }

// =============================================================================
// MONTH RANGE - Finite, restartable month sequence
// =============================================================================

// MonthRange is the inclusive span of months [From, To]. It holds no cursor:
// every call to Months starts a fresh walk, so a partially consumed range can
// simply be iterated again.
type MonthRange struct {
	From YearMonth
	To   YearMonth
}

// Months yields each month from From through To in chronological order.
// An inverted range yields nothing.
func (r MonthRange) Months() iter.Seq[YearMonth] {
	return func(yield func(YearMonth) bool) {
		for ym := r.From; !ym.After(r.To); ym = ym.Next() {
			if !yield(ym) {
				return
			}
		}
	}
}

// Len is the number of months in the range.
func (r MonthRange) Len() int {
	if r.To.Before(r.From) {
		return 0
	}
	return r.To.Index() - r.From.Index() + 1
}

// YearRange is an inclusive span of calendar years used by ledger reads.
type YearRange struct {
	From int
	To   int
}

func (r YearRange) Validate() error {
	if r.To < r.From {
		return fmt.Errorf("%w: year range %d..%d", ErrInvalidPeriod, r.From, r.To)
	}
	return nil
}
