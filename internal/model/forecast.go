package model

import (
	"time"

	"github.com/comptaflow/ledgercast/internal/series"
)

// Method identifies the forecasting strategy that produced an account's
// forecast. Exactly one method is attributed per forecast.
type Method string

// Forecasting method constants, in decision order.
const (
	MethodSparse           Method = "sparse"
	MethodStep             Method = "step"
	MethodCarryForward     Method = "carry_forward"
	MethodTrendSeasonality Method = "trend_seasonality"
	MethodProportional     Method = "proportional"
)

// FitQuality records the selected trend-seasonality model's hyperparameters
// and score. Only forecasts with MethodTrendSeasonality carry one.
type FitQuality struct {
	Criterion           string
	SeasonalityMode     string
	Score               float64
	TrendFlexibility    float64
	ChangepointFraction float64
	Regularization      float64
	FourierOrder        int
	Changepoints        int
	ActiveChangepoints  int
}

// Forecast is the final 12-month projection for one account. Values are
// aligned to consecutive months starting at Start; a NaN entry means the
// month was deliberately suppressed rather than forecast.
type Forecast struct {
	Account    string
	Kind       AccountKind
	Method     Method
	Start      series.Month
	Values     []float64
	Reconciled bool
	TradingDay bool
	Quality    *FitQuality
}

// Horizon returns the number of forecast months.
func (f *Forecast) Horizon() int { return len(f.Values) }

// Month returns the month of forecast step t.
func (f *Forecast) Month(t int) series.Month { return f.Start.Add(t) }

// Rejection records why an account or hierarchy node failed the
// trend-seasonality eligibility gate and where it was routed instead.
type Rejection struct {
	Target   string
	Prefix   string
	Reasons  []string
	RoutedTo Method
}

// RunStatus indicates the lifecycle state of a forecasting run.
type RunStatus string

// Run status constants.
const (
	RunStatusStarted   RunStatus = "STARTED"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Run is one end-to-end forecasting execution over a company's ledger.
type Run struct {
	ID           string
	Company      string
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Horizon      int
	Weighting    string
	Accounts     int
	Reconciled   int
	Rejections   int
	ErrorMessage string
}

// MethodCounts tallies forecasts per method for run summaries.
type MethodCounts map[Method]int

// Total returns the number of forecasts across all methods.
func (c MethodCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
