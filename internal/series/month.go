// Package series provides the monthly time-series primitives shared by the
// forecasting pipeline: a calendar month index and a dense monthly series
// with explicit missing values.
package series

import (
	"fmt"
	"time"
)

// Month is a calendar month encoded as year*12 + (month-1), which makes
// month arithmetic plain integer arithmetic.
type Month int

// MonthOf returns the Month for the given year and calendar month.
func MonthOf(year int, m time.Month) Month {
	return Month(year*12 + int(m) - 1)
}

// MonthFromTime returns the Month containing t.
func MonthFromTime(t time.Time) Month {
	return MonthOf(t.Year(), t.Month())
}

// ParseMonth parses a month in "2006-01" form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, fmt.Errorf("parsing month %q: %w", s, err)
	}
	return MonthFromTime(t), nil
}

// Year returns the calendar year.
func (m Month) Year() int {
	y := int(m) / 12
	if int(m) < 0 && int(m)%12 != 0 {
		y--
	}
	return y
}

// Calendar returns the calendar month (January..December).
func (m Month) Calendar() time.Month {
	r := int(m) % 12
	if r < 0 {
		r += 12
	}
	return time.Month(r + 1)
}

// Time returns midnight UTC on the first day of the month.
func (m Month) Time() time.Time {
	return time.Date(m.Year(), m.Calendar(), 1, 0, 0, 0, 0, time.UTC)
}

// Add returns the month n months after m.
func (m Month) Add(n int) Month {
	return m + Month(n)
}

// DaysIn returns the number of calendar days in the month.
func (m Month) DaysIn() int {
	return m.Time().AddDate(0, 1, -1).Day()
}

// String formats the month as "2006-01".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year(), int(m.Calendar()))
}
