package tradingday

import (
	"math"
	"testing"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/series"
)

// businessActivity simulates a company booking entries on every business
// day in the range, optionally closing on French public holidays.
func businessActivity(from, to time.Time, closedOnHolidays bool) []Activity {
	c := cal.NewBusinessCalendar()
	c.AddHoliday(fr.Holidays...)

	var out []Activity
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if closedOnHolidays {
			if actual, _, _ := c.IsHoliday(d); actual {
				continue
			}
		}
		out = append(out, Activity{Date: d, Count: 5})
	}
	return out
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekdayProbabilitiesFullActivity(t *testing.T) {
	activity := businessActivity(day(2023, time.March, 1), day(2023, time.April, 30), false)

	model, err := NewModel(activity, nil, DefaultConfig())
	require.NoError(t, err)

	for wd := time.Monday; wd <= time.Friday; wd++ {
		assert.InDelta(t, 1.0, model.WeekdayProbability(wd), 1e-9, "weekday %s", wd)
	}
	assert.InDelta(t, 0.0, model.WeekdayProbability(time.Saturday), 1e-9)
	assert.InDelta(t, 0.0, model.WeekdayProbability(time.Sunday), 1e-9)
}

func TestTradingDaysCountWeekdaysWhenAlwaysOpen(t *testing.T) {
	activity := businessActivity(day(2023, time.March, 1), day(2023, time.April, 30), false)

	model, err := NewModel(activity, nil, DefaultConfig())
	require.NoError(t, err)

	// March 2024 has 21 weekdays and no French public holiday; May 2024 has
	// 23 weekdays, and this company historically stays open on holidays.
	assert.InDelta(t, 21.0, model.TradingDays(series.MonthOf(2024, time.March)), 1e-9)
	assert.InDelta(t, 23.0, model.TradingDays(series.MonthOf(2024, time.May)), 1e-9)
}

func TestHolidayClosuresReduceTradingDays(t *testing.T) {
	activity := businessActivity(day(2022, time.January, 1), day(2023, time.December, 31), true)

	model, err := NewModel(activity, nil, DefaultConfig())
	require.NoError(t, err)

	strong := 0
	for _, h := range fr.Holidays {
		if a, ok := model.HolidayAffectedness(h.Name); ok && a > 0.9 {
			strong++
		}
	}
	assert.GreaterOrEqual(t, strong, 5, "weekday holidays should register as closures")

	// May 2024 has 23 weekdays but four public holidays land on weekdays.
	td := model.TradingDays(series.MonthOf(2024, time.May))
	assert.Less(t, td, 19.5)
	assert.GreaterOrEqual(t, td, 17.0)
}

func TestWriteOffMonthsFlagsSpikeAndDip(t *testing.T) {
	start := series.MonthOf(2023, time.January)
	revenue := series.New(start, []float64{100, 100, 900, 100})
	active := map[series.Month]int{
		start: 20, start.Add(1): 20, start.Add(2): 20, start.Add(3): 20,
	}

	got := WriteOffMonths(revenue, active, DefaultConfig())

	assert.Equal(t, []series.Month{start.Add(2), start.Add(3)}, got)
}

func TestWriteOffMonthsBalancedRevenuePasses(t *testing.T) {
	start := series.MonthOf(2023, time.January)
	revenue := series.New(start, []float64{100, 110, 95, 105})
	active := map[series.Month]int{
		start: 20, start.Add(1): 20, start.Add(2): 20, start.Add(3): 20,
	}

	assert.Empty(t, WriteOffMonths(revenue, active, DefaultConfig()))
}

func TestWriteOffMonthsZeroActiveDays(t *testing.T) {
	start := series.MonthOf(2023, time.January)
	revenue := series.New(start, []float64{100, 500, 100})
	active := map[series.Month]int{start: 20, start.Add(2): 20}

	got := WriteOffMonths(revenue, active, DefaultConfig())

	assert.Equal(t, []series.Month{start.Add(1)}, got)
}

func TestWriteOffMonthsSkipsNonConsecutive(t *testing.T) {
	revenue := series.FromPoints(map[series.Month]float64{
		series.MonthOf(2023, time.January): 100,
		series.MonthOf(2023, time.March):   900,
	})
	active := map[series.Month]int{
		series.MonthOf(2023, time.January): 20,
		series.MonthOf(2023, time.March):   20,
	}

	assert.Empty(t, WriteOffMonths(revenue, active, DefaultConfig()))
}

func TestModelExcludesWriteOffMonths(t *testing.T) {
	// Normal trading January and March through June, but February's revenue
	// was dumped in a single booking on the 1st.
	var activity []Activity
	activity = append(activity, businessActivity(day(2023, time.January, 1), day(2023, time.January, 31), false)...)
	activity = append(activity, Activity{Date: day(2023, time.February, 1), Count: 40})
	activity = append(activity, businessActivity(day(2023, time.March, 1), day(2023, time.June, 30), false)...)

	revenue := series.FromPoints(map[series.Month]float64{
		series.MonthOf(2023, time.January):  100,
		series.MonthOf(2023, time.February): 900,
		series.MonthOf(2023, time.March):    100,
		series.MonthOf(2023, time.April):    100,
		series.MonthOf(2023, time.May):      100,
		series.MonthOf(2023, time.June):     100,
	})

	screened, err := NewModel(activity, revenue, DefaultConfig())
	require.NoError(t, err)
	unscreened, err := NewModel(activity, nil, DefaultConfig())
	require.NoError(t, err)

	assert.InDelta(t, 21.0, screened.TradingDays(series.MonthOf(2024, time.March)), 1e-9)
	assert.Less(t, unscreened.TradingDays(series.MonthOf(2024, time.March)), 20.5)
}

func TestNormalizeDenormalizeRoundTrip(t *testing.T) {
	activity := businessActivity(day(2023, time.January, 1), day(2023, time.December, 31), false)
	model, err := NewModel(activity, nil, DefaultConfig())
	require.NoError(t, err)

	start := series.MonthOf(2023, time.January)
	s := series.New(start, []float64{2100, 2000, math.NaN(), 1800, 2200, 2050})

	normalized := model.Normalize(s)
	assert.True(t, math.IsNaN(normalized.Index(2)))
	assert.InDelta(t, 2100/model.TradingDays(start), normalized.Index(0), 1e-9)

	back := model.Denormalize(start, normalized.Values())
	for i := 0; i < s.Len(); i++ {
		if math.IsNaN(s.Index(i)) {
			assert.True(t, math.IsNaN(back[i]))
			continue
		}
		assert.InDelta(t, s.Index(i), back[i], 1e-9)
	}
}

func TestNewModelRequiresActivity(t *testing.T) {
	_, err := NewModel(nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoActivity)
}

func TestActiveDaysDeduplicates(t *testing.T) {
	got := ActiveDays([]Activity{
		{Date: day(2023, time.May, 2), Count: 3},
		{Date: day(2023, time.May, 2), Count: 1},
		{Date: day(2023, time.May, 3), Count: 2},
		{Date: day(2023, time.May, 4), Count: 0},
		{Date: day(2023, time.June, 1), Count: 1},
	})

	assert.Equal(t, 2, got[series.MonthOf(2023, time.May)])
	assert.Equal(t, 1, got[series.MonthOf(2023, time.June)])
}
