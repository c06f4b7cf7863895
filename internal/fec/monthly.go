package fec

import (
	"math"
	"strings"
	"time"

	"github.com/comptaflow/ledgercast/internal/series"
)

// monthlySeries aggregates entries into per-account monthly series and
// applies the preprocessing the models expect: zero-as-missing, COVID
// blanking, sign normalization, and the active-account filter.
func monthlySeries(entries []Entry, cutoff series.Month, cfg Config) map[string]*series.Series {
	totals := make(map[string]map[series.Month]float64)
	for _, e := range entries {
		m := series.MonthFromTime(e.PieceDate)
		byMonth := totals[e.Account]
		if byMonth == nil {
			byMonth = make(map[series.Month]float64)
			totals[e.Account] = byMonth
		}
		byMonth[m] += e.Solde()
	}

	out := make(map[string]*series.Series, len(totals))
	for account, byMonth := range totals {
		// Revenue accounts are credit-heavy, so debit minus credit leaves
		// them negative; flip to positive magnitudes.
		flip := strings.HasPrefix(account, "7")

		points := make(map[series.Month]float64, len(byMonth))
		for m, v := range byMonth {
			if flip {
				v = -v
			}
			if cfg.ReplaceZeros && v == 0 {
				continue
			}
			points[m] = v
		}
		if len(points) == 0 {
			continue
		}

		s := series.FromPoints(points)
		if cfg.ExcludeCovid {
			blankWindow(s, cfg.CovidStart, cfg.CovidEnd)
		}
		if !activeWithin(s, cutoff, cfg.ActiveWindowMonths) {
			continue
		}
		out[account] = s
	}
	return out
}

func blankWindow(s *series.Series, from, to series.Month) {
	for m := from; m <= to; m++ {
		if m < s.Start() || m > s.End() {
			continue
		}
		s.Set(m, math.NaN())
	}
}

// activeWithin reports whether the account has any observation in the
// trailing window ending at the cutoff month.
func activeWithin(s *series.Series, cutoff series.Month, window int) bool {
	if window <= 0 {
		return true
	}
	last, ok := s.LastObserved()
	if !ok {
		return false
	}
	return last > cutoff.Add(-window) && last <= cutoff
}

// dailyCounts tallies entries per document day for the trading-day model.
func dailyCounts(entries []Entry) map[time.Time]int {
	out := make(map[time.Time]int)
	for _, e := range entries {
		d := time.Date(e.PieceDate.Year(), e.PieceDate.Month(), e.PieceDate.Day(), 0, 0, 0, 0, time.UTC)
		out[d]++
	}
	return out
}
