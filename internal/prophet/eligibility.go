package prophet

import (
	"time"

	"github.com/comptaflow/ledgercast/internal/series"
)

// RejectionReason identifies which eligibility condition a series failed.
type RejectionReason string

// Eligibility rejection reasons.
const (
	// ReasonMonthCoverage: some calendar month has fewer observed years
	// than required, so yearly seasonality cannot be estimated for it.
	ReasonMonthCoverage RejectionReason = "insufficient_month_coverage"
	// ReasonTrailingGaps: the trailing 12 months contain too many missing
	// values.
	ReasonTrailingGaps RejectionReason = "trailing_year_gaps"
	// ReasonRecentGaps: the recent-history window contains too many missing
	// values outside the exclusion window.
	ReasonRecentGaps RejectionReason = "recent_history_gaps"
	// ReasonNoData: the series holds no observations at all.
	ReasonNoData RejectionReason = "no_observations"
)

// Verdict is the typed outcome of the eligibility gate. A negative verdict
// is a routing decision, not an error: it carries every failed condition so
// rejection bookkeeping can explain why an account took the fallback path.
type Verdict struct {
	Eligible bool
	Reasons  []RejectionReason
}

// Strings returns the reasons as plain strings for logging and persistence.
func (v Verdict) Strings() []string {
	out := make([]string, len(v.Reasons))
	for i, r := range v.Reasons {
		out[i] = string(r)
	}
	return out
}

// CheckEligibility applies the three-condition data-quality gate to a
// series (possibly an aggregated one):
//
//  1. every calendar month must appear in at least MinYearsPerMonth years,
//  2. the trailing 12 months may hold at most TrailingMissingMax missing
//     values,
//  3. the trailing RecentYears years may hold at most RecentMissingMax
//     missing values, not counting months inside the exclusion window.
//
// Windows are anchored at the series' last observed month and clipped at
// its first: months before an account existed are absence of history, not
// gaps.
func CheckEligibility(s *series.Series, cfg Config) Verdict {
	last, ok := s.LastObserved()
	if !ok {
		return Verdict{Reasons: []RejectionReason{ReasonNoData}}
	}
	first, _ := s.FirstObserved()

	var reasons []RejectionReason

	for cm := time.January; cm <= time.December; cm++ {
		if len(s.CalendarValues(cm)) < cfg.MinYearsPerMonth {
			reasons = append(reasons, ReasonMonthCoverage)
			break
		}
	}

	if countMissing(s, clip(last.Add(-11), first), last, nil) > cfg.TrailingMissingMax {
		reasons = append(reasons, ReasonTrailingGaps)
	}

	var skip func(series.Month) bool
	if cfg.ExcludeCovid {
		skip = func(m series.Month) bool { return m >= cfg.CovidStart && m <= cfg.CovidEnd }
	}
	if countMissing(s, clip(last.Add(-(cfg.RecentYears*12-1)), first), last, skip) > cfg.RecentMissingMax {
		reasons = append(reasons, ReasonRecentGaps)
	}

	return Verdict{Eligible: len(reasons) == 0, Reasons: reasons}
}

func clip(m, first series.Month) series.Month {
	if m < first {
		return first
	}
	return m
}

// countMissing counts unobserved months in [from, to], skipping months the
// predicate excludes.
func countMissing(s *series.Series, from, to series.Month, skip func(series.Month) bool) int {
	missing := 0
	for m := from; m <= to; m++ {
		if skip != nil && skip(m) {
			continue
		}
		if !s.Observed(m) {
			missing++
		}
	}
	return missing
}
