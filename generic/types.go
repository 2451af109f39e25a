/*
Package generic provides the domain-agnostic building blocks of the fee engine.

PURPOSE:
  Money arithmetic, calendar helpers, billing months and error types that the
  fee packages share. Nothing in here knows about students, categories or
  scholarships; the fees package layers those concepts on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a non-negative-by-convention decimal amount
  - SchoolID / StudentID: tenant and subject identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing school/student IDs
  3. Determinism: Rounding happens in one place (Money.Round)

USAGE:
  fee := generic.NewMoney(1200)
  monthly := fee.DivInt(12)            // 100
  pending := fee.Sub(paid).ClampZero() // never below zero

SEE ALSO:
  - time.go: TimePoint and calendar helpers
  - period.go: YearMonth and MonthRange
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount in the school's currency
// =============================================================================

// MoneyPlaces is the number of decimal places amounts are rounded to.
const MoneyPlaces = 2

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money                  { return Money{Value: decimal.NewFromInt(value)} }
func NewMoneyFromFloat(value float64) Money       { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }
func ZeroMoney() Money                            { return Money{Value: decimal.Zero} }

// ParseMoney parses a decimal string such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals; invalid input yields zero.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return ZeroMoney()
	}
	return m
}

func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(d decimal.Decimal) Money { return Money{Value: m.Value.Mul(d)} }
func (m Money) DivInt(n int64) Money        { return Money{Value: m.Value.Div(decimal.NewFromInt(n))} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) String() string              { return m.Value.StringFixed(MoneyPlaces) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// Percent returns pct percent of m, e.g. Money(500).Percent(20) == 100.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(pct).Div(decimal.NewFromInt(100))}
}

// ClampZero floors negative amounts at zero.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

// Round rounds to MoneyPlaces, half away from zero.
func (m Money) Round() Money {
	return Money{Value: m.Value.Round(MoneyPlaces)}
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (m Money) MarshalJSON() ([]byte, error) { return m.Value.MarshalJSON() }

// UnmarshalJSON accepts both quoted and bare decimal numbers.
func (m *Money) UnmarshalJSON(data []byte) error { return m.Value.UnmarshalJSON(data) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchoolID string
type StudentID string
