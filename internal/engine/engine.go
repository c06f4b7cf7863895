// Package engine runs the forecasting pipeline end to end: it routes every
// account through the decision order (pattern claim, carry-forward,
// hierarchical trend/seasonality, revenue-proportional fallback), reconciles
// each prefix tree, applies trading-day adjustment to revenue accounts, and
// assembles the per-account forecast table with its method attribution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/comptaflow/ledgercast/internal/classify"
	"github.com/comptaflow/ledgercast/internal/fallback"
	"github.com/comptaflow/ledgercast/internal/hierarchy"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/pattern"
	"github.com/comptaflow/ledgercast/internal/prophet"
	"github.com/comptaflow/ledgercast/internal/series"
	"github.com/comptaflow/ledgercast/internal/tradingday"
)

// Config collects every knob of the pipeline. Component configurations are
// embedded whole so the CLI can surface them without re-declaring each
// threshold.
type Config struct {
	// Horizon is the number of months to forecast.
	Horizon int
	// Workers bounds how many hierarchy trees are processed concurrently.
	Workers int
	// Weighting selects the reconciliation error-covariance estimate.
	Weighting hierarchy.Weighting
	// TradingDay enables per-trading-day normalization of revenue accounts
	// when daily activity data is available.
	TradingDay bool
	// Progress, when set, is called after each account receives its final
	// forecast. It always runs on the goroutine that called Run.
	Progress func(done, total int)

	Pattern   pattern.Config
	Prophet   prophet.Config
	Hierarchy hierarchy.Config
	Fallback  fallback.Config
	Calendar  tradingday.Config
}

// DefaultConfig returns the production pipeline settings.
func DefaultConfig() Config {
	return Config{
		Horizon:    12,
		Workers:    4,
		Weighting:  hierarchy.WeightOLS,
		TradingDay: true,
		Pattern:    pattern.DefaultConfig(),
		Prophet:    prophet.DefaultConfig(),
		Hierarchy:  hierarchy.DefaultConfig(),
		Fallback:   fallback.DefaultConfig(),
		Calendar:   tradingday.DefaultConfig(),
	}
}

// Input is one company's preprocessed ledger: monthly series per account,
// plus the optional extras the pipeline can exploit when present.
type Input struct {
	// Company labels the run for bookkeeping.
	Company string
	// Accounts maps account numbers to their monthly series, zero-as-missing
	// already applied.
	Accounts map[string]*series.Series
	// Cutoff is the last accounting month; forecasts start the month after.
	// Zero means derive it from the latest observation across accounts.
	Cutoff series.Month
	// Activity is daily revenue entry activity for the trading-day model.
	Activity []tradingday.Activity
	// Revenue overrides the internally aggregated revenue reference series.
	Revenue *series.Series
}

// Result is the outcome of one forecasting run.
type Result struct {
	Run        model.Run
	Start      series.Month
	Forecasts  []model.Forecast
	Rejections []model.Rejection
	Counts     model.MethodCounts
}

// Engine is the forecasting pipeline. It is safe for reuse across runs; all
// per-run state lives on the stack of Run.
type Engine struct {
	cfg      Config
	table    *classify.Table
	detector *pattern.Detector
}

// New creates an engine. A nil table falls back to the bundled French chart
// of accounts; a nil step classifier falls back to the built-in threshold
// rule.
func New(cfg Config, table *classify.Table, step pattern.StepClassifier) *Engine {
	if table == nil {
		table = classify.Default()
	}
	return &Engine{
		cfg:      cfg,
		table:    table,
		detector: pattern.NewDetector(cfg.Pattern, step),
	}
}

// Run forecasts every classifiable account in the input. Per-account
// failures are absorbed by routing the account to the next method; only a
// structurally inconsistent hierarchy tree aborts the run.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	startedAt := time.Now()
	if e.cfg.Horizon <= 0 {
		return nil, fmt.Errorf("engine: horizon must be positive, got %d", e.cfg.Horizon)
	}
	if len(in.Accounts) == 0 {
		return nil, errors.New("engine: no account series supplied")
	}

	cutoff := in.Cutoff
	accounts := in.Accounts
	if cutoff == 0 {
		last, ok := latestObservation(accounts)
		if !ok {
			return nil, errors.New("engine: no observations in any account series")
		}
		cutoff = last
	} else {
		// An explicit cutoff discards anything booked after it, so a partial
		// month loaded from the ledger never trains a model.
		accounts = clipToCutoff(accounts, cutoff)
	}
	start := cutoff.Add(1)

	run := model.Run{
		ID:        uuid.New().String(),
		Company:   in.Company,
		Status:    model.RunStatusStarted,
		StartedAt: startedAt,
		Horizon:   e.cfg.Horizon,
		Weighting: string(e.cfg.Weighting),
	}
	slog.Info("starting forecast run",
		"run_id", run.ID,
		"company", in.Company,
		"accounts", len(in.Accounts),
		"start", start.String(),
		"horizon", e.cfg.Horizon)

	kinds, names := e.classifyAccounts(accounts)
	if len(names) == 0 {
		return nil, errors.New("engine: no account matched the classification table")
	}

	revenue := in.Revenue
	if revenue == nil {
		revenue = e.revenueReference(accounts, kinds)
	} else if revenue.End() > cutoff {
		revenue = revenue.Window(revenue.Start(), cutoff)
	}

	tdm := e.tradingDayModel(in.Activity, revenue)
	work := normalizedSeries(accounts, kinds, tdm)

	env := &runEnv{
		start:    start,
		horizon:  e.cfg.Horizon,
		kinds:    kinds,
		accounts: work,
	}
	env.raw = reference{
		revenue:  revenue,
		forecast: e.revenueForecast(ctx, revenue, start),
	}
	env.norm = env.raw
	if tdm != nil && revenue != nil {
		normRevenue := tdm.Normalize(revenue)
		env.norm = reference{
			revenue:  normRevenue,
			forecast: e.revenueForecast(ctx, normRevenue, start),
		}
	}

	routed := e.route(work, names, env)
	forest := hierarchy.Build(routed.grouped, e.cfg.Hierarchy, func(s *series.Series) prophet.Verdict {
		return prophet.CheckEligibility(s, e.cfg.Prophet)
	})

	total := len(routed.claimed) + len(routed.fixed)
	for _, tree := range forest.Trees {
		total += len(tree.Accounts)
	}
	for _, g := range forest.Rejected {
		total += len(g.Accounts)
	}

	forecasts := make([]model.Forecast, 0, total)
	forecasts = append(forecasts, routed.claimed...)
	forecasts = append(forecasts, routed.fixed...)
	e.step(len(forecasts), total)

	treeForecasts, rejections, err := e.processForest(ctx, forest, env, func(done int) {
		e.step(len(forecasts)+done, total)
	})
	if err != nil {
		return nil, err
	}
	forecasts = append(forecasts, treeForecasts...)

	for _, g := range forest.Rejected {
		rejections = append(rejections, model.Rejection{
			Target:   g.Prefix,
			Prefix:   g.Prefix,
			Reasons:  g.Verdict.Strings(),
			RoutedTo: model.MethodProportional,
		})
		for _, acct := range g.Accounts {
			base, method := e.proportionalBase(work[acct], env.refs(kinds[acct]), start, e.cfg.Horizon)
			forecasts = append(forecasts, model.Forecast{
				Account: acct,
				Kind:    kinds[acct],
				Method:  method,
				Start:   start,
				Values:  base.Forecast,
			})
			e.step(len(forecasts), total)
		}
	}

	counts := e.gather(forecasts, kinds, tdm)

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Status = model.RunStatusCompleted
	run.Accounts = len(forecasts)
	run.Rejections = len(rejections)
	for _, f := range forecasts {
		if f.Reconciled {
			run.Reconciled++
		}
	}

	slog.Info("forecast run complete",
		"run_id", run.ID,
		"accounts", run.Accounts,
		"reconciled", run.Reconciled,
		"rejections", run.Rejections,
		"elapsed", completedAt.Sub(startedAt))

	return &Result{
		Run:        run,
		Start:      start,
		Forecasts:  forecasts,
		Rejections: rejections,
		Counts:     counts,
	}, nil
}

// gather finalizes the forecast table: revenue accounts are scaled back to
// calendar months when a trading-day model was active, rows are ordered by
// account, and methods are tallied.
func (e *Engine) gather(forecasts []model.Forecast, kinds map[string]model.AccountKind, tdm *tradingday.Model) model.MethodCounts {
	counts := make(model.MethodCounts)
	for i := range forecasts {
		f := &forecasts[i]
		if tdm != nil && kinds[f.Account] == model.KindRevenue {
			f.Values = tdm.Denormalize(f.Start, f.Values)
			f.TradingDay = true
		}
		counts[f.Method]++
	}
	sort.Slice(forecasts, func(i, j int) bool {
		return forecasts[i].Account < forecasts[j].Account
	})
	return counts
}

// classifyAccounts resolves each account's forecasting kind. Accounts the
// table does not cover are dropped from the run.
func (e *Engine) classifyAccounts(accounts map[string]*series.Series) (map[string]model.AccountKind, []string) {
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	kinds := make(map[string]model.AccountKind, len(names))
	kept := make([]string, 0, len(names))
	for _, name := range names {
		kind, err := e.table.Kind(name)
		if err != nil {
			slog.Warn("account not covered by classification table, skipping", "account", name)
			continue
		}
		kinds[name] = kind
		kept = append(kept, name)
	}
	return kinds, kept
}

// revenueReference sums the revenue-classified accounts into the series the
// fallback and trading-day model scale against.
func (e *Engine) revenueReference(accounts map[string]*series.Series, kinds map[string]model.AccountKind) *series.Series {
	var members []*series.Series
	for name, kind := range kinds {
		if kind == model.KindRevenue {
			members = append(members, accounts[name])
		}
	}
	if len(members) == 0 {
		slog.Warn("no revenue accounts found, proportional fallback unavailable")
		return nil
	}
	return series.Aggregate(members...)
}

// tradingDayModel fits the business-day model when enabled and the inputs
// allow it.
func (e *Engine) tradingDayModel(activity []tradingday.Activity, revenue *series.Series) *tradingday.Model {
	if !e.cfg.TradingDay || len(activity) == 0 || revenue == nil {
		return nil
	}
	m, err := tradingday.NewModel(activity, revenue, e.cfg.Calendar)
	if err != nil {
		slog.Warn("trading-day model unavailable", "error", err)
		return nil
	}
	return m
}

// normalizedSeries returns the working series per account: revenue accounts
// divided into per-trading-day space when the model is active, everything
// else untouched. The whole revenue pipeline runs in one space so that
// reconciliation never mixes units; gather scales the results back.
func normalizedSeries(accounts map[string]*series.Series, kinds map[string]model.AccountKind, tdm *tradingday.Model) map[string]*series.Series {
	if tdm == nil {
		return accounts
	}
	work := make(map[string]*series.Series, len(accounts))
	for name, s := range accounts {
		if kinds[name] == model.KindRevenue {
			work[name] = tdm.Normalize(s)
			continue
		}
		work[name] = s
	}
	return work
}

func (e *Engine) step(done, total int) {
	if e.cfg.Progress != nil {
		e.cfg.Progress(done, total)
	}
}

// clipToCutoff truncates every series that extends past the cutoff month.
func clipToCutoff(accounts map[string]*series.Series, cutoff series.Month) map[string]*series.Series {
	clipped := make(map[string]*series.Series, len(accounts))
	for name, s := range accounts {
		if s != nil && s.Len() > 0 && s.End() > cutoff {
			s = s.Window(s.Start(), cutoff)
		}
		clipped[name] = s
	}
	return clipped
}

// latestObservation finds the most recent observed month across all series.
func latestObservation(accounts map[string]*series.Series) (series.Month, bool) {
	var latest series.Month
	found := false
	for _, s := range accounts {
		if s == nil {
			continue
		}
		if last, ok := s.LastObserved(); ok && (!found || last > latest) {
			latest = last
			found = true
		}
	}
	return latest, found
}

// carryForward repeats the last observed value across the horizon.
func carryForward(s *series.Series, horizon int) []float64 {
	last, _ := s.LastObserved()
	v := s.At(last)
	out := make([]float64, horizon)
	for i := range out {
		out[i] = v
	}
	return out
}
