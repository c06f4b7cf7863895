package pattern

import (
	"math"

	"github.com/comptaflow/ledgercast/internal/series"
)

// DetectSparse reports whether every trailing 12-month window holds strictly
// fewer than threshold observations. Windows are anchored at the series' own
// last observed month and step back a year at a time, so a partially
// observed final year does not bias the count the way calendar-year windows
// would. A series with no observations at all is sparse.
func DetectSparse(s *series.Series, threshold int) bool {
	last, ok := s.LastObserved()
	if !ok {
		return true
	}
	first, _ := s.FirstObserved()

	for end := last; end >= first; end = end.Add(-12) {
		count := 0
		for m := end.Add(-11); m <= end; m++ {
			if s.Observed(m) {
				count++
			}
		}
		if count >= threshold {
			return false
		}
	}
	return true
}

// SparseForecast projects a sparse series over [start, start+horizon). Each
// target month takes the most recent observation from the same calendar
// month, falling back to the most recent observation overall. Months whose
// calendar month is historically active with probability below minProb are
// suppressed (NaN): forecasting a month that almost never has activity
// misleads more than omitting it.
func SparseForecast(s *series.Series, start series.Month, horizon int, minProb float64) []float64 {
	out := make([]float64, horizon)
	last, ok := s.LastObserved()
	if !ok {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	lastValue := s.At(last)

	for t := 0; t < horizon; t++ {
		target := start.Add(t)
		if monthProbability(s, target) < minProb {
			out[t] = math.NaN()
			continue
		}
		if v, ok := latestCalendarValue(s, target); ok {
			out[t] = v
		} else {
			out[t] = lastValue
		}
	}
	return out
}

// latestCalendarValue returns the most recent observation sharing target's
// calendar month.
func latestCalendarValue(s *series.Series, target series.Month) (float64, bool) {
	for m := s.End(); m >= s.Start(); m-- {
		if m.Calendar() == target.Calendar() && s.Observed(m) {
			return s.At(m), true
		}
	}
	return 0, false
}

// monthProbability estimates how often target's calendar month carries an
// observation across the observed span.
func monthProbability(s *series.Series, target series.Month) float64 {
	first, ok := s.FirstObserved()
	if !ok {
		return 0
	}
	last, _ := s.LastObserved()

	occurrences, observed := 0, 0
	for m := first; m <= last; m++ {
		if m.Calendar() != target.Calendar() {
			continue
		}
		occurrences++
		if s.Observed(m) {
			observed++
		}
	}
	if occurrences == 0 {
		return 0
	}
	return float64(observed) / float64(occurrences)
}
