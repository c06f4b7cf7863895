package tradingday

import "github.com/comptaflow/ledgercast/internal/series"

// WriteOffMonths flags months whose revenue looks like a bulk write-off
// rather than day-by-day trading. The test is the bounded ratio of revenue
// per active day at month t against t and t-1 combined: a balanced pair sits
// near one half, while a booking dump pushes the ratio toward one and the
// month after it toward zero. A month with revenue but no active days at all
// is a write-off by definition.
func WriteOffMonths(revenue *series.Series, activeDays map[series.Month]int, cfg Config) []series.Month {
	if revenue == nil || revenue.ObservedCount() == 0 {
		return nil
	}

	months, vals := revenue.Observations()
	var out []series.Month
	var prev series.Month
	var prevRPD float64
	havePrev := false
	for i, m := range months {
		days := activeDays[m]
		if days == 0 {
			if vals[i] != 0 {
				out = append(out, m)
			}
			havePrev = false
			continue
		}
		rpd := vals[i] / float64(days)
		if havePrev && m == prev.Add(1) && rpd > 0 && prevRPD > 0 {
			ratio := rpd / (rpd + prevRPD)
			if ratio < cfg.OutlierLow || ratio > cfg.OutlierHigh {
				out = append(out, m)
			}
		}
		prev, prevRPD, havePrev = m, rpd, true
	}
	return out
}
