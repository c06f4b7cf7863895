// Package tradingday models how many days a company actually trades in a
// month. It learns per-weekday activity probabilities and per-holiday
// closure probabilities from daily ledger activity, predicts a fractional
// trading-day count for any month, and converts revenue series to and from
// a per-trading-day basis so calendar length stops polluting seasonality.
package tradingday

import (
	"errors"
	"math"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/fr"

	"github.com/comptaflow/ledgercast/internal/series"
)

// ErrNoActivity reports that no daily activity was supplied.
var ErrNoActivity = errors.New("no daily activity data")

// Activity is the number of ledger entries recorded on one calendar day.
type Activity struct {
	Date  time.Time
	Count int
}

// Config controls outlier screening and estimation guards.
type Config struct {
	// OutlierLow and OutlierHigh bound the revenue-per-trading-day ratio of
	// a month against itself plus its predecessor. A balanced pair sits
	// near 0.5; months outside the bounds look like bulk write-offs and are
	// excluded from day-count training.
	OutlierLow  float64
	OutlierHigh float64
	// MinWeekdaySamples is the number of calendar-day samples a weekday
	// needs before its estimated probability replaces the workweek prior.
	MinWeekdaySamples int
}

// DefaultConfig returns the standard trading-day settings.
func DefaultConfig() Config {
	return Config{OutlierLow: 0.25, OutlierHigh: 0.75, MinWeekdaySamples: 4}
}

// Model predicts trading-day counts from weekday activity probabilities and
// holiday closure probabilities learned from history.
type Model struct {
	weekdayProb [7]float64
	affected    map[string]float64
	cal         *cal.BusinessCalendar
}

// NewModel estimates a trading-day model from daily activity. When a revenue
// series is supplied, bulk write-off months are detected first and their
// days are excluded from training.
func NewModel(activity []Activity, revenue *series.Series, cfg Config) (*Model, error) {
	if len(activity) == 0 {
		return nil, ErrNoActivity
	}

	counts := make(map[time.Time]int, len(activity))
	var first, last time.Time
	for _, a := range activity {
		d := midnight(a.Date)
		counts[d] += a.Count
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if last.IsZero() || d.After(last) {
			last = d
		}
	}

	excluded := make(map[series.Month]bool)
	for _, m := range WriteOffMonths(revenue, ActiveDays(activity), cfg) {
		excluded[m] = true
	}

	var total, active [7]int
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if excluded[series.MonthFromTime(d)] {
			continue
		}
		wd := d.Weekday()
		total[wd]++
		if counts[d] > 0 {
			active[wd]++
		}
	}

	m := &Model{
		affected: make(map[string]float64),
		cal:      newFrenchCalendar(),
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if total[wd] < cfg.MinWeekdaySamples {
			m.weekdayProb[wd] = workweekPrior(wd)
			continue
		}
		m.weekdayProb[wd] = float64(active[wd]) / float64(total[wd])
	}

	m.estimateHolidays(counts, first, last, excluded)
	return m, nil
}

// estimateHolidays measures, per holiday, how much activity vanished on its
// historical occurrences relative to the weekday base rate of each
// occurrence. Holidays that always land on dead weekdays carry no signal
// and keep affectedness zero.
func (m *Model) estimateHolidays(counts map[time.Time]int, first, last time.Time, excluded map[series.Month]bool) {
	type tally struct {
		expected float64
		active   int
	}
	tallies := make(map[string]*tally)
	for year := first.Year(); year <= last.Year(); year++ {
		for _, h := range fr.Holidays {
			actual, _ := h.Calc(year)
			d := midnight(actual)
			if d.Before(first) || d.After(last) || excluded[series.MonthFromTime(d)] {
				continue
			}
			tl := tallies[h.Name]
			if tl == nil {
				tl = &tally{}
				tallies[h.Name] = tl
			}
			tl.expected += m.weekdayProb[d.Weekday()]
			if counts[d] > 0 {
				tl.active++
			}
		}
	}

	for name, tl := range tallies {
		if tl.expected < 1e-9 {
			continue
		}
		affected := 1 - float64(tl.active)/tl.expected
		if affected < 0 {
			affected = 0
		}
		if affected > 1 {
			affected = 1
		}
		m.affected[name] = affected
	}
}

// TradingDays predicts the expected number of trading days in a month. The
// result is fractional and floored at one day so normalization never
// divides by zero.
func (m *Model) TradingDays(month series.Month) float64 {
	start := month.Time()
	var td float64
	for i := 0; i < month.DaysIn(); i++ {
		d := start.AddDate(0, 0, i)
		p := m.weekdayProb[d.Weekday()]
		if actual, _, h := m.cal.IsHoliday(d); actual && h != nil {
			p *= 1 - m.affected[h.Name]
		}
		td += p
	}
	if td < 1 {
		td = 1
	}
	return td
}

// WeekdayProbability returns the learned probability that the given weekday
// is a trading day.
func (m *Model) WeekdayProbability(wd time.Weekday) float64 {
	return m.weekdayProb[wd]
}

// HolidayAffectedness returns the learned probability that the company
// closes on the named holiday.
func (m *Model) HolidayAffectedness(name string) (float64, bool) {
	v, ok := m.affected[name]
	return v, ok
}

// Normalize divides each observed month by its predicted trading-day count.
func (m *Model) Normalize(s *series.Series) *series.Series {
	out := series.Empty(s.Start(), s.Len())
	for i := 0; i < s.Len(); i++ {
		v := s.Index(i)
		if math.IsNaN(v) {
			continue
		}
		mo := s.Start().Add(i)
		out.Set(mo, v/m.TradingDays(mo))
	}
	return out
}

// Denormalize multiplies per-trading-day forecasts back into monthly totals
// using each target month's predicted count.
func (m *Model) Denormalize(start series.Month, values []float64) []float64 {
	out := make([]float64, len(values))
	for t, v := range values {
		out[t] = v * m.TradingDays(start.Add(t))
	}
	return out
}

// ActiveDays counts, per month, the days that saw any ledger activity.
func ActiveDays(activity []Activity) map[series.Month]int {
	seen := make(map[time.Time]bool)
	out := make(map[series.Month]int)
	for _, a := range activity {
		if a.Count <= 0 {
			continue
		}
		d := midnight(a.Date)
		if seen[d] {
			continue
		}
		seen[d] = true
		out[series.MonthFromTime(d)]++
	}
	return out
}

func newFrenchCalendar() *cal.BusinessCalendar {
	c := cal.NewBusinessCalendar()
	c.Name = "france"
	c.AddHoliday(fr.Holidays...)
	return c
}

func workweekPrior(wd time.Weekday) float64 {
	if wd == time.Saturday || wd == time.Sunday {
		return 0
	}
	return 1
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
