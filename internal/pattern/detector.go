// Package pattern classifies account series whose shape disqualifies them
// from trend/seasonality modeling: sparse series with too few observations
// per year, and step-like series that move in discrete level shifts. When
// the detector claims an account, its own forecast is final for that
// account.
package pattern

import (
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/series"
)

// Config holds the detection and forecasting thresholds.
type Config struct {
	// SparseThreshold is the per-window observation count below which every
	// trailing 12-month window must stay for a series to be sparse.
	SparseThreshold int
	// MinMonthProbability suppresses sparse-forecast months whose calendar
	// month is historically observed less often than this.
	MinMonthProbability float64
	// StepThreshold is the relative jump size that separates noise from a
	// spike or level change.
	StepThreshold float64
	// MagnitudeFloor bounds the normalization denominator so near-zero
	// values do not inflate relative distances.
	MagnitudeFloor float64
	// MinScore is the predictability score below which no pattern forecast
	// is produced and the conservative forecast stands alone.
	MinScore float64
}

// DefaultConfig returns the standard detection thresholds.
func DefaultConfig() Config {
	return Config{
		SparseThreshold:     3,
		MinMonthProbability: 0.3,
		StepThreshold:       0.1,
		MagnitudeFloor:      1.0,
		MinScore:            0.3,
	}
}

// StepClassifier decides whether step features describe a genuinely
// step-like series. The production rule may be replaced by a trained model
// without touching the detector.
type StepClassifier interface {
	IsStepLike(f StepFeatures) bool
}

// Result is a claimed account's forecast.
type Result struct {
	Method   model.Method
	Values   []float64
	Score    float64
	Features *StepFeatures
}

// Detector routes each account series through sparse detection first, then
// step detection.
type Detector struct {
	cfg        Config
	classifier StepClassifier
}

// NewDetector creates a detector with the given thresholds and step
// classifier. A nil classifier falls back to the built-in threshold rule.
func NewDetector(cfg Config, classifier StepClassifier) *Detector {
	if classifier == nil {
		classifier = DefaultStepClassifier()
	}
	return &Detector{cfg: cfg, classifier: classifier}
}

// Claim inspects the series and, when it is sparse or step-like, returns
// its dedicated forecast over [start, start+horizon). The second return is
// false when the account should continue down the regular decision path.
func (d *Detector) Claim(s *series.Series, start series.Month, horizon int) (*Result, bool) {
	if DetectSparse(s, d.cfg.SparseThreshold) {
		values := SparseForecast(s, start, horizon, d.cfg.MinMonthProbability)
		return &Result{Method: model.MethodSparse, Values: values, Score: 1}, true
	}

	features := ComputeStepFeatures(s, d.cfg.StepThreshold, d.cfg.MagnitudeFloor)
	if !d.classifier.IsStepLike(features) {
		return nil, false
	}
	values, score := StepForecast(features, horizon, d.cfg.MinScore)
	return &Result{Method: model.MethodStep, Values: values, Score: score, Features: &features}, true
}
