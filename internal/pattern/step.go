package pattern

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/comptaflow/ledgercast/internal/series"
)

// StepFeatures describes the step/spike structure of a series. All ratios
// and scores are computed over observed points only.
type StepFeatures struct {
	// Steps is the number of detected level changes.
	Steps int
	// Spikes is the number of jumps that reverted immediately.
	Spikes int
	// Magnitudes holds the signed size of each level change.
	Magnitudes []float64
	// Intervals holds the months elapsed between consecutive level changes.
	Intervals []float64
	// MagnitudeRCV is the robust coefficient of variation (IQR over median)
	// of the signed magnitudes. NaN when fewer than two changes exist.
	MagnitudeRCV float64
	// IntervalCV is the coefficient of variation of the intervals. NaN when
	// fewer than two intervals exist.
	IntervalCV float64
	// Quality averages 1/(1+cv) across multi-point segments.
	Quality float64
	// ExplainedRatio is the fraction of observed points lying in valid
	// near-constant segments.
	ExplainedRatio float64
	// Levels is the number of distinct value levels across segments.
	Levels int
	// Constant marks a series with no level changes and near-zero spread.
	Constant bool
	// Binary marks a series that alternates between exactly two levels.
	Binary bool
	// SinceLastChange is the number of months between the last level change
	// and the last observation.
	SinceLastChange int
	// LastValue is the most recent observation.
	LastValue float64
}

// ComputeStepFeatures derives step features from a series. threshold is the
// relative jump size separating noise from structure; floor bounds
// normalization denominators away from zero.
func ComputeStepFeatures(s *series.Series, threshold, floor float64) StepFeatures {
	months, vals := s.Observations()
	n := len(vals)
	f := StepFeatures{MagnitudeRCV: math.NaN(), IntervalCV: math.NaN()}
	if n == 0 {
		return f
	}
	f.LastValue = vals[n-1]

	// A jump at i is a spike when the skip-one distance shows the series
	// back at its old level by i+1, and a level change when it persists.
	// A jump at the final point cannot revert yet, so it counts as a level
	// change. The point after a spike is the reversion edge and is not a
	// jump of its own.
	var changes []int
	spikes := make(map[int]bool)
	for i := 1; i < n; i++ {
		immediate := relDistance(vals[i], vals[i-1], floor)
		if immediate <= threshold {
			continue
		}
		if i+1 < n && relDistance(vals[i+1], vals[i-1], floor) <= threshold {
			spikes[i] = true
			i++
			continue
		}
		changes = append(changes, i)
	}
	f.Steps = len(changes)
	f.Spikes = len(spikes)

	for k, idx := range changes {
		f.Magnitudes = append(f.Magnitudes, vals[idx]-vals[idx-1])
		if k > 0 {
			f.Intervals = append(f.Intervals, float64(months[idx]-months[changes[k-1]]))
		}
	}
	f.MagnitudeRCV = robustCV(f.Magnitudes, floor)
	f.IntervalCV = sampleCV(f.Intervals, floor)

	f.Quality, f.ExplainedRatio, f.Levels = segmentStats(vals, changes, spikes, threshold, floor)
	f.Constant = f.Steps == 0 && f.Levels <= 1
	f.Binary = f.Levels == 2

	if len(changes) > 0 {
		f.SinceLastChange = int(months[n-1] - months[changes[len(changes)-1]])
	} else {
		f.SinceLastChange = int(months[n-1] - months[0])
	}
	return f
}

// segmentStats partitions the observed points into constant-value segments
// bounded by level changes and measures how well they explain the series.
// Spike points are transient and belong to no segment.
func segmentStats(vals []float64, changes []int, spikes map[int]bool, threshold, floor float64) (quality, explained float64, levels int) {
	bounds := append([]int{0}, changes...)
	bounds = append(bounds, len(vals))

	var qualities []float64
	var means []float64
	explainedPoints := 0
	totalPoints := 0

	for b := 0; b+1 < len(bounds); b++ {
		var segment []float64
		for i := bounds[b]; i < bounds[b+1]; i++ {
			totalPoints++
			if spikes[i] {
				continue
			}
			segment = append(segment, vals[i])
		}
		if len(segment) == 0 {
			continue
		}
		mean := stat.Mean(segment, nil)
		means = append(means, mean)
		if len(segment) < 2 {
			continue
		}
		cv := sampleCV(segment, floor)
		qualities = append(qualities, 1/(1+cv))
		if cv <= threshold {
			explainedPoints += len(segment)
		}
	}

	if len(qualities) > 0 {
		quality = stat.Mean(qualities, nil)
	}
	if totalPoints > 0 {
		explained = float64(explainedPoints) / float64(totalPoints)
	}
	return quality, explained, distinctLevels(means, threshold, floor)
}

// distinctLevels clusters segment means, treating means within the relative
// threshold of an existing level as the same level.
func distinctLevels(means []float64, threshold, floor float64) int {
	if len(means) == 0 {
		return 0
	}
	sorted := append([]float64(nil), means...)
	sort.Float64s(sorted)
	levels := 1
	current := sorted[0]
	for _, m := range sorted[1:] {
		if relDistance(m, current, floor) > threshold {
			levels++
			current = m
		}
	}
	return levels
}

// StepForecast projects a step-like series over the horizon. A constant
// series repeats its last value. Otherwise a predictability score in [0,1]
// weights a pattern projection (median step magnitude applied every
// 75th-percentile interval) against the conservative last-value forecast:
// score*pattern + (1-score)*conservative. Below minScore, or with fewer
// than three detected steps, only the conservative forecast is used.
func StepForecast(f StepFeatures, horizon int, minScore float64) ([]float64, float64) {
	conservative := make([]float64, horizon)
	for i := range conservative {
		conservative[i] = f.LastValue
	}
	if f.Constant {
		return conservative, 1
	}

	score := PredictabilityScore(f)
	if score < minScore {
		return conservative, score
	}

	pattern := patternProjection(f, horizon)
	blended := make([]float64, horizon)
	for i := range blended {
		blended[i] = score*pattern[i] + (1-score)*conservative[i]
	}
	return blended, score
}

// PredictabilityScore measures how regular the detected steps are: the mean
// of exp(-magnitude rcv), exp(-interval cv), and the segment quality score,
// over whichever of those are defined. Fewer than three detected steps score
// zero.
func PredictabilityScore(f StepFeatures) float64 {
	if f.Steps < 3 {
		return 0
	}
	var components []float64
	if !math.IsNaN(f.MagnitudeRCV) && !math.IsInf(f.MagnitudeRCV, 0) {
		components = append(components, math.Exp(-f.MagnitudeRCV))
	}
	if !math.IsNaN(f.IntervalCV) && !math.IsInf(f.IntervalCV, 0) {
		components = append(components, math.Exp(-f.IntervalCV))
	}
	components = append(components, f.Quality)

	score := stat.Mean(components, nil)
	return math.Max(0, math.Min(1, score))
}

// patternProjection extends the step pattern: starting from the last value,
// apply the median signed magnitude every p75-interval months, counting from
// the last detected level change.
func patternProjection(f StepFeatures, horizon int) []float64 {
	mags := append([]float64(nil), f.Magnitudes...)
	sort.Float64s(mags)
	magnitude := stat.Quantile(0.5, stat.Empirical, mags, nil)

	ints := append([]float64(nil), f.Intervals...)
	sort.Float64s(ints)
	interval := int(math.Round(stat.Quantile(0.75, stat.Empirical, ints, nil)))
	if interval < 1 {
		interval = 1
	}

	out := make([]float64, horizon)
	level := f.LastValue
	since := f.SinceLastChange
	for t := 0; t < horizon; t++ {
		since++
		if since >= interval {
			level += magnitude
			since = 0
		}
		out[t] = level
	}
	return out
}

// relDistance is the relative distance between a and the reference b, with
// the denominator floored.
func relDistance(a, b, floor float64) float64 {
	return math.Abs(a-b) / math.Max(math.Abs(b), floor)
}

// sampleCV is the coefficient of variation, NaN when undefined.
func sampleCV(xs []float64, floor float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	mean, std := stat.MeanStdDev(xs, nil)
	return std / math.Max(math.Abs(mean), floor)
}

// robustCV is the interquartile range over the absolute median, NaN when
// undefined.
func robustCV(xs []float64, floor float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return (q3 - q1) / math.Max(math.Abs(med), floor)
}
