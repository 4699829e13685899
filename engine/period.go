package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - The reconciliation time unit
// =============================================================================

// Day is a calendar day in UTC. Reconciliation is a tank-day computation,
// so day granularity is the only time resolution the engine reasons about;
// intra-day timestamps are carried on readings for audit only.
type Day struct {
	t time.Time // normalized to UTC midnight
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) Day {
	u := t.UTC()
	return NewDay(u.Year(), u.Month(), u.Day())
}

// ParseDay parses "YYYY-MM-DD".
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q (use YYYY-MM-DD): %w", s, err)
	}
	return DayOf(t), nil
}

func Today() Day { return DayOf(time.Now()) }

// Comparison
func (d Day) Before(other Day) bool { return d.t.Before(other.t) }
func (d Day) After(other Day) bool  { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool  { return d.t.Equal(other.t) }
func (d Day) IsZero() bool          { return d.t.IsZero() }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) Prev() Day         { return d.AddDays(-1) }
func (d Day) Next() Day         { return d.AddDays(1) }

// Properties
func (d Day) Time() time.Time     { return d.t }
func (d Day) Year() int           { return d.t.Year() }
func (d Day) Month() time.Month   { return d.t.Month() }
func (d Day) DayOfMonth() int     { return d.t.Day() }
func (d Day) String() string      { return d.t.Format("2006-01-02") }

// =============================================================================
// PERIOD - Inclusive day range for aggregation
// =============================================================================

// Period is an inclusive [Start, End] day range. Reconciliation records are
// daily; margin and variance reporting aggregate them over a period.
type Period struct {
	Start Day
	End   Day
}

// Validate rejects periods that end before they start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) Contains(d Day) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns every day in the period in order.
func (p Period) Days() []Day {
	var days []Day
	for d := p.Start; !d.After(p.End); d = d.Next() {
		days = append(days, d)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// SingleDay is the period covering exactly one day.
func SingleDay(d Day) Period { return Period{Start: d, End: d} }

// WeekOf returns the Monday-Sunday week containing the day.
func WeekOf(d Day) Period {
	offset := int(d.Time().Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	start := d.AddDays(-offset)
	return Period{Start: start, End: start.AddDays(6)}
}

// MonthOf returns the calendar month containing the day.
func MonthOf(d Day) Period {
	start := NewDay(d.Year(), d.Month(), 1)
	end := Day{t: start.t.AddDate(0, 1, -1)}
	return Period{Start: start, End: end}
}
