package pattern

import "math"

// ThresholdStepClassifier is the built-in step classifier: a threshold rule
// over segment quality, magnitude spread, and interval spread. It can be
// swapped for a trained model via the StepClassifier interface.
type ThresholdStepClassifier struct {
	MinQuality      float64
	MinExplained    float64
	MaxMagnitudeRCV float64
	MaxIntervalCV   float64
}

// DefaultStepClassifier returns the standard threshold rule.
func DefaultStepClassifier() *ThresholdStepClassifier {
	return &ThresholdStepClassifier{
		MinQuality:      0.5,
		MinExplained:    0.6,
		MaxMagnitudeRCV: 1.5,
		MaxIntervalCV:   1.0,
	}
}

// IsStepLike applies the threshold rule. Constant and two-level series are
// step-like by construction; anything else must be well explained by
// near-constant segments with regular enough shifts.
func (c *ThresholdStepClassifier) IsStepLike(f StepFeatures) bool {
	if f.Constant || f.Binary {
		return true
	}
	if f.Steps == 0 {
		return false
	}
	if f.ExplainedRatio < c.MinExplained || f.Quality < c.MinQuality {
		return false
	}
	if !math.IsNaN(f.MagnitudeRCV) && f.MagnitudeRCV > c.MaxMagnitudeRCV {
		return false
	}
	if !math.IsNaN(f.IntervalCV) && f.IntervalCV > c.MaxIntervalCV {
		return false
	}
	return true
}

// StepClassifierFunc adapts a plain function to the StepClassifier
// interface.
type StepClassifierFunc func(StepFeatures) bool

// IsStepLike calls the wrapped function.
func (fn StepClassifierFunc) IsStepLike(f StepFeatures) bool { return fn(f) }
