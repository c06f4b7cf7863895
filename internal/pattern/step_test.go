package pattern

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/series"
)

func stepSeries(vals []float64) *series.Series {
	return series.New(series.MonthOf(2021, time.January), vals)
}

func TestComputeStepFeaturesSingleLevelChange(t *testing.T) {
	s := stepSeries([]float64{100, 100, 100, 100, 100, 100, 200, 200, 200, 200, 200, 200})
	f := ComputeStepFeatures(s, 0.1, 1.0)

	assert.Equal(t, 1, f.Steps)
	assert.Equal(t, 0, f.Spikes)
	require.Len(t, f.Magnitudes, 1)
	assert.InDelta(t, 100, f.Magnitudes[0], 1e-12)
	assert.InDelta(t, 1.0, f.Quality, 1e-12, "both segments are perfectly constant")
	assert.InDelta(t, 1.0, f.ExplainedRatio, 1e-12)
	assert.Equal(t, 2, f.Levels)
	assert.True(t, f.Binary)
	assert.False(t, f.Constant)
	assert.Equal(t, 5, f.SinceLastChange)
	assert.InDelta(t, 200, f.LastValue, 1e-12)
}

func TestComputeStepFeaturesSpikeReverts(t *testing.T) {
	s := stepSeries([]float64{100, 100, 100, 500, 100, 100})
	f := ComputeStepFeatures(s, 0.1, 1.0)

	assert.Equal(t, 0, f.Steps)
	assert.Equal(t, 1, f.Spikes)
	assert.Equal(t, 1, f.Levels)
	assert.True(t, f.Constant)
	assert.InDelta(t, 5.0/6.0, f.ExplainedRatio, 1e-12, "the spike point is unexplained")
}

func TestComputeStepFeaturesConstantSeries(t *testing.T) {
	s := stepSeries([]float64{42, 42, 42, 42})
	f := ComputeStepFeatures(s, 0.1, 1.0)

	assert.True(t, f.Constant)
	assert.Equal(t, 0, f.Steps)
	assert.Equal(t, 1, f.Levels)
}

func TestComputeStepFeaturesIgnoresMissingMonths(t *testing.T) {
	vals := []float64{100, math.NaN(), 100, 100, math.NaN(), 200, 200, 200}
	s := stepSeries(vals)
	f := ComputeStepFeatures(s, 0.1, 1.0)

	// Distances are measured between consecutive observed points.
	assert.Equal(t, 1, f.Steps)
	assert.Equal(t, 2, f.Levels)
}

func TestStepForecastConstantSeries(t *testing.T) {
	f := StepFeatures{Constant: true, LastValue: 42}
	got, score := StepForecast(f, 4, 0.3)
	assert.Equal(t, []float64{42, 42, 42, 42}, got)
	assert.InDelta(t, 1.0, score, 1e-12)
}

func TestStepForecastZeroScoreIsConservative(t *testing.T) {
	// Fewer than three steps means no predictability at all, so the
	// forecast must equal the last observed value exactly.
	f := StepFeatures{
		Steps:        2,
		Magnitudes:   []float64{100, 100},
		Intervals:    []float64{3},
		MagnitudeRCV: 0,
		IntervalCV:   math.NaN(),
		Quality:      1,
		LastValue:    500,
	}
	got, score := StepForecast(f, 6, 0.3)
	assert.Zero(t, score)
	for i, v := range got {
		assert.Equal(t, 500.0, v, "step %d", i)
	}
}

func TestStepForecastPerfectScoreIsPattern(t *testing.T) {
	// Perfectly regular steps: identical magnitudes and intervals, perfect
	// segment quality. The blend must reproduce the pattern projection
	// exactly.
	f := StepFeatures{
		Steps:           3,
		Magnitudes:      []float64{100, 100, 100},
		Intervals:       []float64{3, 3},
		MagnitudeRCV:    0,
		IntervalCV:      0,
		Quality:         1,
		LastValue:       500,
		SinceLastChange: 0,
	}
	require.InDelta(t, 1.0, PredictabilityScore(f), 1e-12)

	got, score := StepForecast(f, 7, 0.3)
	assert.InDelta(t, 1.0, score, 1e-12)
	want := []float64{500, 500, 600, 600, 600, 700, 700}
	for i := range want {
		assert.Equal(t, want[i], got[i], "step %d", i)
	}
}

func TestPredictabilityScoreSkipsUndefinedComponents(t *testing.T) {
	// Interval spread is undefined with a single interval; the score
	// averages only the defined components.
	f := StepFeatures{
		Steps:        3,
		MagnitudeRCV: 0.5,
		IntervalCV:   math.NaN(),
		Quality:      0.8,
	}
	want := (math.Exp(-0.5) + 0.8) / 2
	assert.InDelta(t, want, PredictabilityScore(f), 1e-12)
}

func TestPredictabilityScoreNeedsThreeSteps(t *testing.T) {
	f := StepFeatures{Steps: 2, MagnitudeRCV: 0, IntervalCV: 0, Quality: 1}
	assert.Zero(t, PredictabilityScore(f))
}

func TestThresholdStepClassifier(t *testing.T) {
	c := DefaultStepClassifier()

	tests := []struct {
		name string
		f    StepFeatures
		want bool
	}{
		{name: "constant", f: StepFeatures{Constant: true}, want: true},
		{name: "binary", f: StepFeatures{Binary: true, Levels: 2}, want: true},
		{
			name: "clean multi level",
			f:    StepFeatures{Steps: 4, Levels: 4, Quality: 0.9, ExplainedRatio: 0.9, MagnitudeRCV: 0.2, IntervalCV: 0.3},
			want: true,
		},
		{
			name: "no steps",
			f:    StepFeatures{Quality: 1, ExplainedRatio: 1},
			want: false,
		},
		{
			name: "poorly explained",
			f:    StepFeatures{Steps: 3, Quality: 0.9, ExplainedRatio: 0.2},
			want: false,
		},
		{
			name: "erratic magnitudes",
			f:    StepFeatures{Steps: 3, Quality: 0.9, ExplainedRatio: 0.9, MagnitudeRCV: 3, IntervalCV: 0.1},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsStepLike(tt.f))
		})
	}
}

func TestDetectorSparseTakesPriority(t *testing.T) {
	s := series.Empty(series.MonthOf(2021, time.January), 24)
	s.Set(series.MonthOf(2021, time.March), 100)
	s.Set(series.MonthOf(2022, time.March), 110)

	d := NewDetector(DefaultConfig(), nil)
	res, claimed := d.Claim(s, series.MonthOf(2023, time.January), 12)
	require.True(t, claimed)
	assert.Equal(t, "sparse", string(res.Method))
}

func TestDetectorStepClaim(t *testing.T) {
	vals := make([]float64, 0, 24)
	for i := 0; i < 12; i++ {
		vals = append(vals, 100)
	}
	for i := 0; i < 12; i++ {
		vals = append(vals, 250)
	}
	s := stepSeries(vals)

	d := NewDetector(DefaultConfig(), nil)
	res, claimed := d.Claim(s, series.MonthOf(2023, time.January), 12)
	require.True(t, claimed)
	assert.Equal(t, "step", string(res.Method))
	require.Len(t, res.Values, 12)
	assert.InDelta(t, 250, res.Values[0], 1e-12, "single step scores zero, conservative forecast")
}

func TestDetectorDeclinesTrendingSeries(t *testing.T) {
	vals := make([]float64, 36)
	for i := range vals {
		vals[i] = 100 + 25*float64(i)
	}
	s := stepSeries(vals)

	d := NewDetector(DefaultConfig(), nil)
	_, claimed := d.Claim(s, series.MonthOf(2024, time.January), 12)
	assert.False(t, claimed)
}

func TestCustomStepClassifierFunc(t *testing.T) {
	always := StepClassifierFunc(func(StepFeatures) bool { return true })
	d := NewDetector(DefaultConfig(), always)

	vals := make([]float64, 36)
	for i := range vals {
		vals[i] = 100 + 25*float64(i)
	}
	res, claimed := d.Claim(stepSeries(vals), series.MonthOf(2024, time.January), 12)
	require.True(t, claimed)
	assert.Equal(t, "step", string(res.Method))
}
