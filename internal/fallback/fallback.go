// Package fallback forecasts accounts that no model claimed by tying them to
// revenue: each future month is the revenue forecast scaled by the account's
// historical share of revenue in that calendar month. When no revenue
// forecast is supplied, revenue itself is extrapolated from its yearly trend
// and month-of-year shape.
package fallback

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/comptaflow/ledgercast/internal/series"
)

// ErrNoRevenue reports that neither a revenue history nor a revenue forecast
// was available to scale against.
var ErrNoRevenue = errors.New("no revenue reference available")

// Config controls coefficient estimation.
type Config struct {
	// MaxGapDays truncates the estimation window to observations after the
	// most recent gap longer than this. Data from before a long dormant
	// stretch no longer says anything about the account's tie to revenue.
	MaxGapDays int
}

// DefaultConfig returns the standard fallback settings.
func DefaultConfig() Config {
	return Config{MaxGapDays: 365}
}

// Result carries the fallback forecast and the inputs that shaped it.
// Residuals are the in-sample errors of the fitted coefficients over the
// estimation window, in chronological order; reconciliation weightings
// consume them the same way they consume model residuals.
type Result struct {
	Values          []float64
	Residuals       []float64
	RevenueForecast []float64
	Coefficients    [12]float64
	WindowStart     series.Month
	InternalRevenue bool
}

// Forecast scales the revenue forecast by the account's mean per-calendar-
// month ratio to revenue. revForecast may be nil, in which case revenue is
// extrapolated from its own history first.
func Forecast(account, revenue *series.Series, revForecast []float64, start series.Month, horizon int, cfg Config) (*Result, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("fallback: horizon must be positive, got %d", horizon)
	}
	if account == nil || account.ObservedCount() == 0 {
		return nil, fmt.Errorf("fallback: account has no observations")
	}
	if revenue == nil || revenue.ObservedCount() == 0 {
		return nil, ErrNoRevenue
	}

	internal := false
	if revForecast == nil {
		rf, err := TrendForecast(revenue, start, horizon)
		if err != nil {
			return nil, err
		}
		revForecast = rf
		internal = true
	}
	if len(revForecast) != horizon {
		return nil, fmt.Errorf("fallback: revenue forecast has %d months, want %d", len(revForecast), horizon)
	}

	windowStart := coefficientWindow(account, cfg.MaxGapDays)

	var sums, counts [12]float64
	var allSum, allCount float64
	months, vals := account.Observations()
	for i, m := range months {
		if m < windowStart {
			continue
		}
		rv := revenue.At(m)
		if math.IsNaN(rv) || rv == 0 {
			continue
		}
		ratio := vals[i] / rv
		idx := int(m.Calendar()) - 1
		sums[idx] += ratio
		counts[idx]++
		allSum += ratio
		allCount++
	}

	var overall float64
	if allCount > 0 {
		overall = allSum / allCount
	}
	var coefs [12]float64
	for c := range coefs {
		if counts[c] > 0 {
			coefs[c] = sums[c] / counts[c]
		} else {
			coefs[c] = overall
		}
	}

	var residuals []float64
	for i, m := range months {
		if m < windowStart {
			continue
		}
		rv := revenue.At(m)
		if math.IsNaN(rv) || rv == 0 {
			continue
		}
		residuals = append(residuals, vals[i]-coefs[int(m.Calendar())-1]*rv)
	}

	values := make([]float64, horizon)
	for t := range values {
		m := start.Add(t)
		values[t] = revForecast[t] * coefs[int(m.Calendar())-1]
	}

	return &Result{
		Values:          values,
		Residuals:       residuals,
		RevenueForecast: revForecast,
		Coefficients:    coefs,
		WindowStart:     windowStart,
		InternalRevenue: internal,
	}, nil
}

// TrendForecast extrapolates revenue by fitting a least-squares line through
// partial-year-adjusted yearly totals and spreading each trended total over
// the calendar with completeness-weighted month proportions.
func TrendForecast(revenue *series.Series, start series.Month, horizon int) ([]float64, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("fallback: horizon must be positive, got %d", horizon)
	}
	if revenue == nil || revenue.ObservedCount() == 0 {
		return nil, ErrNoRevenue
	}

	type yearStats struct {
		total    float64
		observed int
		byMonth  [12]float64
		hasMonth [12]bool
	}
	years := make(map[int]*yearStats)
	months, vals := revenue.Observations()
	for i, m := range months {
		st := years[m.Year()]
		if st == nil {
			st = &yearStats{}
			years[m.Year()] = st
		}
		idx := int(m.Calendar()) - 1
		st.total += vals[i]
		st.observed++
		st.byMonth[idx] = vals[i]
		st.hasMonth[idx] = true
	}

	order := make([]int, 0, len(years))
	for y := range years {
		order = append(order, y)
	}
	sort.Ints(order)

	xs := make([]float64, 0, len(order))
	ys := make([]float64, 0, len(order))
	ws := make([]float64, 0, len(order))
	for _, y := range order {
		st := years[y]
		completeness := float64(st.observed) / 12
		xs = append(xs, float64(y))
		ys = append(ys, st.total*12/float64(st.observed))
		ws = append(ws, completeness)
	}

	var alpha, beta float64
	if len(order) >= 2 {
		alpha, beta = stat.LinearRegression(xs, ys, ws, false)
	} else {
		alpha = ys[0]
	}

	// Month-of-year proportions, each year's contribution weighted by how
	// much of that year was actually observed.
	var propSum, propWeight [12]float64
	for _, y := range order {
		st := years[y]
		if st.total == 0 {
			continue
		}
		w := float64(st.observed) / 12
		for c := 0; c < 12; c++ {
			if !st.hasMonth[c] {
				continue
			}
			propSum[c] += w * st.byMonth[c] / st.total
			propWeight[c] += w
		}
	}
	var props [12]float64
	var totalProp float64
	for c := range props {
		if propWeight[c] > 0 {
			props[c] = propSum[c] / propWeight[c]
		}
		totalProp += props[c]
	}
	if totalProp > 0 {
		for c := range props {
			props[c] /= totalProp
		}
	} else {
		for c := range props {
			props[c] = 1.0 / 12
		}
	}

	out := make([]float64, horizon)
	for t := range out {
		m := start.Add(t)
		trended := alpha + beta*float64(m.Year())
		if trended < 0 {
			trended = 0
		}
		out[t] = trended * props[int(m.Calendar())-1]
	}
	return out, nil
}

// coefficientWindow returns the first month of the estimation window: the
// observation right after the account's most recent dormant stretch longer
// than maxGapDays, or the first observation when no such stretch exists.
func coefficientWindow(s *series.Series, maxGapDays int) series.Month {
	months, _ := s.Observations()
	start := months[0]
	limit := time.Duration(maxGapDays) * 24 * time.Hour
	for i := 1; i < len(months); i++ {
		if months[i].Time().Sub(months[i-1].Time()) > limit {
			start = months[i]
		}
	}
	return start
}
