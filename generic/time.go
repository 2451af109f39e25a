package generic

import (
	"time"
)

// =============================================================================
// TIME POINT - Calendar day (billing never needs finer granularity)
// =============================================================================

const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates any instant to its UTC calendar day.
func DateOf(t time.Time) TimePoint {
	t = t.UTC()
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return DateOf(t), nil
}

// MustDate is ParseDate for literals in tests and fixtures.
func MustDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int          { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month  { return tp.Time.Month() }
func (tp TimePoint) Day() int           { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool       { return tp.Time.IsZero() }
func (tp TimePoint) YearMonth() YearMonth { return YearMonth{Year: tp.Year(), Month: tp.Month()} }

func (tp TimePoint) String() string { return tp.Time.Format(DateLayout) }

// MaxTimePoint returns the later of two dates.
func MaxTimePoint(a, b TimePoint) TimePoint {
	if a.After(b) {
		return a
	}
	return b
}

// =============================================================================
// CLOCK - "Today" is injected so overdue and run windows are testable
// =============================================================================

type Clock interface {
	Today() TimePoint
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Today() TimePoint { return DateOf(time.Now()) }

// FixedClock always reports the same day.
type FixedClock struct {
	Day TimePoint
}

func (c FixedClock) Today() TimePoint { return c.Day }

// =============================================================================
// TIME UTILITIES
// =============================================================================

func StartOfMonth(year int, month time.Month) TimePoint { return NewTimePoint(year, month, 1) }
func EndOfMonth(year int, month time.Month) TimePoint {
	return DateOf(time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1))
}

// DaysInMonth returns 28..31.
func DaysInMonth(year int, month time.Month) int {
	return EndOfMonth(year, month).Day()
}
