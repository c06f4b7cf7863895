package prophet

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/comptaflow/ledgercast/internal/series"
)

// ErrTooFewPoints is returned when a series has fewer observations than the
// model can be fitted on.
var ErrTooFewPoints = errors.New("fitting requires at least two observations")

// trendFloor bounds the trend magnitude used as the multiplicative
// denominator, in units of the mean absolute level.
const trendFloor = 0.1

// Model is one fitted trend/seasonality model: a piecewise-linear trend with
// penalized changepoint slope shifts, plus Fourier yearly seasonality
// composed additively or multiplicatively. Values are scaled internally by
// the mean absolute level; all outputs are in the original scale.
type Model struct {
	params Params

	firstTrain series.Month
	lastTrain  series.Month
	tDen       float64
	scale      float64

	intercept    float64
	slope        float64
	changepoints []float64
	deltas       []float64
	fourier      []float64

	n         int
	fitted    []float64
	residuals []float64
	sse       float64
}

// Fit estimates the model on the observed points of s for one grid entry.
// The context is honored between fitting stages so a timed-out fit abandons
// promptly without blocking sibling fits.
func Fit(ctx context.Context, s *series.Series, p Params, cfg Config) (*Model, error) {
	months, vals := s.Observations()
	n := len(vals)
	if n < 2 {
		return nil, ErrTooFewPoints
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fit canceled before trend stage: %w", err)
	}

	m := &Model{
		params:     p,
		firstTrain: months[0],
		lastTrain:  months[n-1],
		tDen:       float64(months[n-1] - months[0]),
		n:          n,
	}

	m.scale = meanAbs(vals)
	if m.scale == 0 {
		m.scale = 1
	}
	y := make([]float64, n)
	t := make([]float64, n)
	for i := range vals {
		y[i] = vals[i] / m.scale
		t[i] = float64(months[i]-months[0]) / m.tDen
	}

	if err := m.fitTrend(t, y, p, cfg); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fit canceled before seasonality stage: %w", err)
	}

	trend := make([]float64, n)
	for i := range t {
		trend[i] = m.trendAt(t[i])
	}
	target := make([]float64, n)
	for i := range y {
		if p.Mode == ModeMultiplicative {
			target[i] = y[i]/floorMagnitude(trend[i]) - 1
		} else {
			target[i] = y[i] - trend[i]
		}
	}
	if err := m.fitSeasonality(months, target, p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fit canceled before scoring stage: %w", err)
	}

	m.fitted = make([]float64, n)
	m.residuals = make([]float64, n)
	for i := range vals {
		m.fitted[i] = m.compose(trend[i], m.seasonalAt(months[i]))
		m.residuals[i] = vals[i] - m.fitted[i]
		m.sse += m.residuals[i] * m.residuals[i]
	}
	return m, nil
}

// fitTrend solves the penalized least squares for [intercept, slope,
// changepoint deltas]. The delta penalty is the inverse of the flexibility:
// a stiff trend pays more for every slope shift.
func (m *Model) fitTrend(t, y []float64, p Params, cfg Config) error {
	ncp := cfg.NumChangepoints
	if maxCP := len(t) / 3; ncp > maxCP {
		ncp = maxCP
	}
	m.changepoints = make([]float64, ncp)
	for j := 0; j < ncp; j++ {
		m.changepoints[j] = p.ChangepointFraction * float64(j+1) / float64(ncp+1)
	}

	cols := 2 + ncp
	x := mat.NewDense(len(t), cols, nil)
	for i, ti := range t {
		x.Set(i, 0, 1)
		x.Set(i, 1, ti)
		for j, cp := range m.changepoints {
			x.Set(i, 2+j, hinge(ti, cp))
		}
	}
	penalty := make([]float64, cols)
	for j := 2; j < cols; j++ {
		penalty[j] = 1 / p.Flexibility
	}

	beta, err := ridgeSolve(x, y, penalty)
	if err != nil {
		return fmt.Errorf("solving trend system: %w", err)
	}
	m.intercept = beta[0]
	m.slope = beta[1]
	m.deltas = beta[2:]
	return nil
}

// fitSeasonality solves the penalized least squares for the Fourier
// coefficients against the detrended target. Phases are anchored to the
// month-of-year position so January always lands at the same point of the
// yearly cycle.
func (m *Model) fitSeasonality(months []series.Month, target []float64, p Params) error {
	cols := 2 * p.FourierOrder
	if cols == 0 {
		m.fourier = nil
		return nil
	}
	x := mat.NewDense(len(months), cols, nil)
	for i, month := range months {
		for k := 1; k <= p.FourierOrder; k++ {
			phase := fourierPhase(k, month)
			x.Set(i, 2*(k-1), math.Sin(phase))
			x.Set(i, 2*(k-1)+1, math.Cos(phase))
		}
	}
	penalty := make([]float64, cols)
	for j := range penalty {
		penalty[j] = 1 / p.Regularization
	}

	coeffs, err := ridgeSolve(x, target, penalty)
	if err != nil {
		return fmt.Errorf("solving seasonality system: %w", err)
	}
	m.fourier = coeffs
	return nil
}

// ridgeSolve solves (XᵀX + diag(penalty)) β = Xᵀy.
func ridgeSolve(x *mat.Dense, y, penalty []float64) ([]float64, error) {
	_, cols := x.Dims()
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for j := 0; j < cols; j++ {
		xtx.Set(j, j, xtx.At(j, j)+penalty[j])
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, err
	}
	out := make([]float64, cols)
	for j := range out {
		out[j] = beta.AtVec(j)
	}
	return out, nil
}

func hinge(t, cp float64) float64 {
	if t > cp {
		return t - cp
	}
	return 0
}

func floorMagnitude(v float64) float64 {
	if math.Abs(v) >= trendFloor {
		return v
	}
	if v < 0 {
		return -trendFloor
	}
	return trendFloor
}

func meanAbs(xs []float64) float64 {
	sum := 0.0
	for _, v := range xs {
		sum += math.Abs(v)
	}
	return sum / float64(len(xs))
}

// normTime maps a month onto the normalized training time axis.
func (m *Model) normTime(month series.Month) float64 {
	return float64(month-m.firstTrain) / m.tDen
}

// trendAt evaluates the scaled trend at normalized time t.
func (m *Model) trendAt(t float64) float64 {
	v := m.intercept + m.slope*t
	for j, cp := range m.changepoints {
		v += m.deltas[j] * hinge(t, cp)
	}
	return v
}

// seasonalAt evaluates the Fourier seasonality for a month.
func (m *Model) seasonalAt(month series.Month) float64 {
	v := 0.0
	for k := 1; k <= len(m.fourier)/2; k++ {
		phase := fourierPhase(k, month)
		v += m.fourier[2*(k-1)] * math.Sin(phase)
		v += m.fourier[2*(k-1)+1] * math.Cos(phase)
	}
	return v
}

// fourierPhase anchors order k at the month's position within the year.
func fourierPhase(k int, month series.Month) float64 {
	return 2 * math.Pi * float64(k) * float64(int(month.Calendar())-1) / 12
}

// compose combines scaled trend and seasonality into an original-scale
// value.
func (m *Model) compose(trend, seasonal float64) float64 {
	if m.params.Mode == ModeMultiplicative {
		return trend * (1 + seasonal) * m.scale
	}
	return (trend + seasonal) * m.scale
}

// Forecast projects the model over the horizon months following the last
// training month.
func (m *Model) Forecast(horizon int) []float64 {
	trend, seasonal := m.horizonComponents(horizon)
	out := make([]float64, horizon)
	for h := range out {
		out[h] = m.compose(trend[h], seasonal[h])
	}
	return out
}

// ForecastDampened projects the model with the trend component dampened:
// the trend increment beyond the last training month decays by exp(-t/tau)
// and is held flat from floor(tau) onward.
func (m *Model) ForecastDampened(horizon int, tau float64) []float64 {
	trend, seasonal := m.horizonComponents(horizon)

	base := m.trendAt(m.normTime(m.lastTrain))
	centered := make([]float64, horizon)
	for h := range centered {
		centered[h] = trend[h] - base
	}
	dampened := DampenTrend(centered, tau)

	out := make([]float64, horizon)
	for h := range out {
		out[h] = m.compose(base+dampened[h], seasonal[h])
	}
	return out
}

func (m *Model) horizonComponents(horizon int) (trend, seasonal []float64) {
	trend = make([]float64, horizon)
	seasonal = make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		month := m.lastTrain.Add(h + 1)
		trend[h] = m.trendAt(m.normTime(month))
		seasonal[h] = m.seasonalAt(month)
	}
	return trend, seasonal
}

// Start returns the first forecast month.
func (m *Model) Start() series.Month { return m.lastTrain.Add(1) }

// Params returns the hyperparameters the model was fitted with.
func (m *Model) Params() Params { return m.params }

// Fitted returns the in-sample fitted values, original scale, at the
// observed training months.
func (m *Model) Fitted() []float64 { return m.fitted }

// Residuals returns actual minus fitted at the observed training months.
func (m *Model) Residuals() []float64 { return m.residuals }

// TrainSize returns the number of observations the model was fitted on.
func (m *Model) TrainSize() int { return m.n }

// Changepoints returns the number of placed changepoints.
func (m *Model) Changepoints() int { return len(m.deltas) }

// ActiveChangepoints counts changepoints whose slope shift exceeds the
// negligible-effect cutoff, in scaled units.
func (m *Model) ActiveChangepoints(tol float64) int {
	active := 0
	for _, d := range m.deltas {
		if math.Abs(d) > tol {
			active++
		}
	}
	return active
}

// RMSE returns the in-sample root mean squared error.
func (m *Model) RMSE() float64 {
	return math.Sqrt(m.sse / float64(m.n))
}

// AICc returns the corrected Akaike information criterion for the fit,
// +Inf when the sample is too small for the parameter count.
func (m *Model) AICc() float64 {
	k := float64(2 + len(m.deltas) + len(m.fourier))
	n := float64(m.n)
	if n-k-1 <= 0 {
		return math.Inf(1)
	}
	sse := math.Max(m.sse, 1e-12)
	return n*math.Log(sse/n) + 2*k + 2*k*(k+1)/(n-k-1)
}

// Score returns the model's score under the configured criterion.
func (m *Model) Score(cfg Config) float64 {
	if cfg.UseAICc {
		return m.AICc()
	}
	return m.RMSE()
}
