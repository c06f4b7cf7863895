package prophet

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/series"
)

// seasonalFixture builds n months of trend plus yearly seasonality ending
// December 2023.
func seasonalFixture(n int, level, slope, amplitude float64) *series.Series {
	end := series.MonthOf(2023, time.December)
	start := end.Add(-(n - 1))
	vals := make([]float64, n)
	for i := range vals {
		m := start.Add(i)
		phase := 2 * math.Pi * float64(int(m.Calendar())-1) / 12
		vals[i] = level + slope*float64(i) + amplitude*math.Sin(phase)
	}
	return series.New(start, vals)
}

func additiveParams() Params {
	return Params{
		Flexibility:         0.05,
		ChangepointFraction: 0.8,
		Mode:                ModeAdditive,
		Regularization:      10,
		FourierOrder:        2,
	}
}

func TestFitRecoversSeasonalSignal(t *testing.T) {
	s := seasonalFixture(48, 1000, 10, 200)
	m, err := Fit(context.Background(), s, additiveParams(), DefaultConfig())
	require.NoError(t, err)

	assert.Less(t, m.RMSE(), 50.0, "clean signal should fit tightly")
	assert.Equal(t, 48, m.TrainSize())
	require.Len(t, m.Fitted(), 48)
	require.Len(t, m.Residuals(), 48)

	_, vals := s.Observations()
	for i := range vals {
		assert.InDelta(t, vals[i], m.Fitted()[i]+m.Residuals()[i], 1e-9)
	}
}

func TestForecastContinuesPattern(t *testing.T) {
	s := seasonalFixture(48, 1000, 10, 200)
	m, err := Fit(context.Background(), s, additiveParams(), DefaultConfig())
	require.NoError(t, err)

	got := m.Forecast(12)
	require.Len(t, got, 12)
	assert.Equal(t, series.MonthOf(2024, time.January), m.Start())

	for h := 0; h < 12; h++ {
		month := m.Start().Add(h)
		phase := 2 * math.Pi * float64(int(month.Calendar())-1) / 12
		want := 1000 + 10*float64(48+h) + 200*math.Sin(phase)
		assert.InDelta(t, want, got[h], 0.25*math.Abs(want)+50, "month %s", month)
	}
}

func TestForecastIsDeterministic(t *testing.T) {
	s := seasonalFixture(36, 500, 5, 80)
	p := additiveParams()

	m1, err := Fit(context.Background(), s, p, DefaultConfig())
	require.NoError(t, err)
	m2, err := Fit(context.Background(), s, p, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, m1.Forecast(12), m2.Forecast(12))
	assert.Equal(t, m1.AICc(), m2.AICc())
}

func TestFitMultiplicativeMode(t *testing.T) {
	// Seasonal swing proportional to the level.
	end := series.MonthOf(2023, time.December)
	start := end.Add(-47)
	vals := make([]float64, 48)
	for i := range vals {
		m := start.Add(i)
		phase := 2 * math.Pi * float64(int(m.Calendar())-1) / 12
		level := 1000 + 15*float64(i)
		vals[i] = level * (1 + 0.2*math.Sin(phase))
	}
	s := series.New(start, vals)

	p := additiveParams()
	p.Mode = ModeMultiplicative
	m, err := Fit(context.Background(), s, p, DefaultConfig())
	require.NoError(t, err)

	got := m.Forecast(12)
	for h, v := range got {
		assert.False(t, math.IsNaN(v), "step %d", h)
	}
	assert.Less(t, m.RMSE(), 150.0)
}

func TestFitIgnoresMissingMonths(t *testing.T) {
	s := seasonalFixture(48, 1000, 10, 200)
	s.Set(s.Start().Add(20), math.NaN())
	s.Set(s.Start().Add(33), math.NaN())

	m, err := Fit(context.Background(), s, additiveParams(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 46, m.TrainSize())
}

func TestFitTooFewPoints(t *testing.T) {
	s := series.Empty(series.MonthOf(2023, time.January), 12)
	s.Set(series.MonthOf(2023, time.March), 42)

	_, err := Fit(context.Background(), s, additiveParams(), DefaultConfig())
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestFitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fit(ctx, seasonalFixture(48, 1000, 10, 200), additiveParams(), DefaultConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAICcPenalizesParameterCount(t *testing.T) {
	s := seasonalFixture(48, 1000, 10, 200)
	cfg := DefaultConfig()

	small := additiveParams()
	small.FourierOrder = 1
	big := additiveParams()
	big.FourierOrder = 6

	mSmall, err := Fit(context.Background(), s, small, cfg)
	require.NoError(t, err)
	mBig, err := Fit(context.Background(), s, big, cfg)
	require.NoError(t, err)

	// Both fit the order-1 signal; the bigger model pays for its extra
	// coefficients.
	assert.Greater(t, mBig.AICc(), mSmall.AICc())
}

func TestAICcInfiniteWhenSampleTooSmall(t *testing.T) {
	m := &Model{n: 10, sse: 100, deltas: make([]float64, 8), fourier: make([]float64, 4)}
	assert.True(t, math.IsInf(m.AICc(), 1))
}

func TestActiveChangepoints(t *testing.T) {
	m := &Model{deltas: []float64{0.5, -0.002, 0.02, 0}}
	assert.Equal(t, 2, m.ActiveChangepoints(0.01))
	assert.Equal(t, 4, m.ActiveChangepoints(-1))
}

func TestDampenTrendBoundary(t *testing.T) {
	trend := []float64{0, 3, 6, 9, 12, 15, 18, 21, 24, 27, 30, 33}
	got := DampenTrend(trend, 6)
	require.Len(t, got, 12)

	for tt := 0; tt < 6; tt++ {
		assert.InDelta(t, trend[tt]*math.Exp(-float64(tt)/6), got[tt], 1e-12, "step %d", tt)
	}
	held := trend[6] * math.Exp(-1)
	for tt := 6; tt < 12; tt++ {
		assert.InDelta(t, held, got[tt], 1e-12, "step %d", tt)
	}
}

func TestDampenTrendZeroTauDisables(t *testing.T) {
	trend := []float64{1, 2, 3}
	assert.Equal(t, trend, DampenTrend(trend, 0))
}

func TestForecastDampenedFlattensTail(t *testing.T) {
	// Pure linear growth, no seasonality: the dampened forecast must hold
	// constant from floor(tau) onward while the raw forecast keeps
	// climbing.
	s := seasonalFixture(48, 1000, 10, 0)
	p := additiveParams()
	p.FourierOrder = 1
	p.Regularization = 0.1
	m, err := Fit(context.Background(), s, p, DefaultConfig())
	require.NoError(t, err)

	raw := m.Forecast(12)
	damp := m.ForecastDampened(12, 6)

	assert.Greater(t, raw[11], raw[6], "raw trend keeps growing")
	assert.Less(t, damp[11], raw[11], "dampening reduces the far horizon")
}
