// Package prophet fits the Prophet-style trend/seasonality model used for
// well-behaved accounts: a piecewise-linear trend with ridge-penalized
// changepoints plus Fourier seasonality, fitted by least squares over a
// bounded hyperparameter grid and scored by AICc or RMSE. It also owns the
// data-quality gate deciding which series are worth fitting at all.
package prophet

import (
	"time"

	"github.com/comptaflow/ledgercast/internal/series"
)

// Mode selects how the seasonal component composes with the trend.
const (
	ModeAdditive       = "additive"
	ModeMultiplicative = "multiplicative"
)

// Criterion names for candidate scoring.
const (
	CriterionAICc = "aicc"
	CriterionRMSE = "rmse"
)

// Filter denominator choices for the changepoint-ratio rule.
const (
	DenominatorSample = "sample"
	DenominatorWindow = "window"
)

// Config collects the eligibility thresholds, the hyperparameter grid, and
// the fit controls.
type Config struct {
	// Eligibility gate.
	MinYearsPerMonth   int
	TrailingMissingMax int
	RecentYears        int
	RecentMissingMax   int
	CovidStart         series.Month
	CovidEnd           series.Month
	ExcludeCovid       bool

	// Hyperparameter grid. Orders switch on dataset size.
	Flexibilities        []float64
	ChangepointFractions []float64
	Modes                []string
	Regularizations      []float64
	FourierOrdersSmall   []int
	FourierOrdersLarge   []int
	SmallDatasetMonths   int

	// Fit controls.
	NumChangepoints      int
	ActiveChangepointTol float64
	UseAICc              bool
	FilterRatio          float64
	FilterDenominator    string
	FitTimeout           time.Duration
	GridWorkers          int

	// Trend dampening.
	Dampen    bool
	DampenTau float64
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		MinYearsPerMonth:   2,
		TrailingMissingMax: 1,
		RecentYears:        3,
		RecentMissingMax:   5,
		CovidStart:         series.MonthOf(2020, time.February),
		CovidEnd:           series.MonthOf(2021, time.May),
		ExcludeCovid:       true,

		Flexibilities:        []float64{0.05, 0.5},
		ChangepointFractions: []float64{0.8, 0.95},
		Modes:                []string{ModeAdditive, ModeMultiplicative},
		Regularizations:      []float64{0.1, 1, 10},
		FourierOrdersSmall:   []int{1, 2},
		FourierOrdersLarge:   []int{2, 4, 6},
		SmallDatasetMonths:   24,

		NumChangepoints:      10,
		ActiveChangepointTol: 0.01,
		UseAICc:              true,
		FilterRatio:          1.0 / 6.0,
		FilterDenominator:    DenominatorSample,
		FitTimeout:           7 * time.Second,
		GridWorkers:          12,

		Dampen:    true,
		DampenTau: 6,
	}
}

// Criterion returns the configured scoring criterion name.
func (c Config) Criterion() string {
	if c.UseAICc {
		return CriterionAICc
	}
	return CriterionRMSE
}

// Params is one hyperparameter combination from the grid.
type Params struct {
	Flexibility         float64
	ChangepointFraction float64
	Mode                string
	Regularization      float64
	FourierOrder        int
}

// Grid enumerates the hyperparameter combinations for a dataset of n
// observed months. The order is fixed (flexibility, then changepoint
// fraction, then mode, then regularization, then Fourier order) because the
// grid index is the final tie-break key during selection.
func (c Config) Grid(n int) []Params {
	orders := c.FourierOrdersLarge
	if n < c.SmallDatasetMonths {
		orders = c.FourierOrdersSmall
	}
	grid := make([]Params, 0,
		len(c.Flexibilities)*len(c.ChangepointFractions)*len(c.Modes)*len(c.Regularizations)*len(orders))
	for _, flex := range c.Flexibilities {
		for _, frac := range c.ChangepointFractions {
			for _, mode := range c.Modes {
				for _, reg := range c.Regularizations {
					for _, order := range orders {
						grid = append(grid, Params{
							Flexibility:         flex,
							ChangepointFraction: frac,
							Mode:                mode,
							Regularization:      reg,
							FourierOrder:        order,
						})
					}
				}
			}
		}
	}
	return grid
}
