package engine

import (
	"context"
	"log/slog"

	"github.com/comptaflow/ledgercast/internal/fallback"
	"github.com/comptaflow/ledgercast/internal/hierarchy"
	"github.com/comptaflow/ledgercast/internal/model"
	"github.com/comptaflow/ledgercast/internal/prophet"
	"github.com/comptaflow/ledgercast/internal/series"
)

// reasonNoCandidate marks accounts whose grid search produced no survivor,
// as opposed to accounts that never passed the eligibility gate.
const reasonNoCandidate = "no_surviving_candidate"

// reference is a revenue series and its forecast in one forecasting space.
type reference struct {
	revenue  *series.Series
	forecast []float64
}

// runEnv carries the per-run context shared by the tree workers. Revenue
// accounts work against the normalized reference, everything else against
// the raw one; the two coincide when no trading-day model is active.
type runEnv struct {
	start    series.Month
	horizon  int
	kinds    map[string]model.AccountKind
	accounts map[string]*series.Series
	raw      reference
	norm     reference
}

func (env *runEnv) refs(kind model.AccountKind) reference {
	if kind == model.KindRevenue {
		return env.norm
	}
	return env.raw
}

// routing splits the accounts by their first routing decision.
type routing struct {
	claimed []model.Forecast
	fixed   []model.Forecast
	grouped map[string]*series.Series
}

// route applies the head of the decision order to every account: a pattern
// claim is final, fixed expenses carry their last value forward, and the
// rest are grouped for hierarchical fitting.
func (e *Engine) route(work map[string]*series.Series, names []string, env *runEnv) routing {
	r := routing{grouped: make(map[string]*series.Series)}
	for _, name := range names {
		s := work[name]
		if s == nil || s.ObservedCount() == 0 {
			slog.Warn("skipping account with no observations", "account", name)
			continue
		}
		if res, ok := e.detector.Claim(s, env.start, env.horizon); ok {
			r.claimed = append(r.claimed, model.Forecast{
				Account: name,
				Kind:    env.kinds[name],
				Method:  res.Method,
				Start:   env.start,
				Values:  res.Values,
			})
			continue
		}
		if env.kinds[name] == model.KindFixedExpense {
			r.fixed = append(r.fixed, model.Forecast{
				Account: name,
				Kind:    model.KindFixedExpense,
				Method:  model.MethodCarryForward,
				Start:   env.start,
				Values:  carryForward(s, env.horizon),
			})
			continue
		}
		r.grouped[name] = s
	}
	return r
}

// modelBase produces the base forecast for one reconciliation row. An
// eligible row goes through the grid search; an ineligible row, a row whose
// search produced no survivor, and a row that was never individually gated
// (verdict nil) are tied to revenue instead. Only context cancellation is
// returned as an error.
func (e *Engine) modelBase(ctx context.Context, s *series.Series, verdict *prophet.Verdict, target, prefix string, ref reference, env *runEnv) (hierarchy.Base, *model.FitQuality, model.Method, []model.Rejection, error) {
	var rejections []model.Rejection

	switch {
	case verdict == nil:
		// Uncovered account under an ineligible aggregation; the rejection
		// was already recorded on the node.
	case verdict.Eligible:
		cand, err := prophet.Search(ctx, s, e.cfg.Prophet)
		if err == nil {
			base := hierarchy.Base{
				Forecast:  e.alignedForecast(cand.Model, env.start, env.horizon),
				Residuals: cand.Model.Residuals(),
			}
			return base, fitQuality(cand), model.MethodTrendSeasonality, nil, nil
		}
		if ctx.Err() != nil {
			return hierarchy.Base{}, nil, "", nil, ctx.Err()
		}
		slog.Debug("grid search produced no survivor", "target", target, "error", err)
		rejections = append(rejections, model.Rejection{
			Target:   target,
			Prefix:   prefix,
			Reasons:  []string{reasonNoCandidate},
			RoutedTo: model.MethodProportional,
		})
	default:
		rejections = append(rejections, model.Rejection{
			Target:   target,
			Prefix:   prefix,
			Reasons:  verdict.Strings(),
			RoutedTo: model.MethodProportional,
		})
	}

	base, method := e.proportionalBase(s, ref, env.start, env.horizon)
	return base, nil, method, rejections, nil
}

// proportionalBase ties a series to revenue. When no revenue reference
// exists at all it degrades to a flat carry of the last observation, which
// keeps the forecast table complete.
func (e *Engine) proportionalBase(s *series.Series, ref reference, start series.Month, horizon int) (hierarchy.Base, model.Method) {
	res, err := fallback.Forecast(s, ref.revenue, ref.forecast, start, horizon, e.cfg.Fallback)
	if err != nil {
		slog.Warn("proportional fallback unavailable, carrying last value", "error", err)
		return hierarchy.Base{Forecast: carryForward(s, horizon)}, model.MethodCarryForward
	}
	return hierarchy.Base{Forecast: res.Values, Residuals: res.Residuals}, model.MethodProportional
}

// revenueForecast produces the shared revenue projection the fallback scales
// against: the orchestrator's own forecast when revenue is eligible and a
// candidate survives, otherwise the yearly-trend extrapolation.
func (e *Engine) revenueForecast(ctx context.Context, revenue *series.Series, start series.Month) []float64 {
	if revenue == nil || revenue.ObservedCount() == 0 {
		return nil
	}
	if v := prophet.CheckEligibility(revenue, e.cfg.Prophet); v.Eligible {
		cand, err := prophet.Search(ctx, revenue, e.cfg.Prophet)
		if err == nil {
			return e.alignedForecast(cand.Model, start, e.cfg.Horizon)
		}
		slog.Debug("revenue reference grid search failed, extrapolating trend", "error", err)
	}
	vals, err := fallback.TrendForecast(revenue, start, e.cfg.Horizon)
	if err != nil {
		return nil
	}
	return vals
}

// alignedForecast projects the model over [start, start+horizon). A model
// whose history ends before the cutoff forecasts the intervening months too
// and drops them, so every row shares the same calendar.
func (e *Engine) alignedForecast(m *prophet.Model, start series.Month, horizon int) []float64 {
	offset := int(start - m.Start())
	if offset < 0 {
		offset = 0
	}
	var vals []float64
	if e.cfg.Prophet.Dampen {
		vals = m.ForecastDampened(offset+horizon, e.cfg.Prophet.DampenTau)
	} else {
		vals = m.Forecast(offset + horizon)
	}
	return vals[offset:]
}

// accountVerdicts indexes the eligibility verdicts of single-account nodes.
// Accounts absent from the result sit under an unrefined aggregation and
// were never individually gated.
func accountVerdicts(tree *hierarchy.Tree) map[string]*prophet.Verdict {
	out := make(map[string]*prophet.Verdict)
	for i := range tree.Nodes {
		node := &tree.Nodes[i]
		if acct, ok := node.SingleAccount(); ok {
			out[acct] = &node.Verdict
		}
	}
	return out
}

func fitQuality(c *prophet.Candidate) *model.FitQuality {
	return &model.FitQuality{
		Criterion:           c.Criterion,
		SeasonalityMode:     c.Params.Mode,
		Score:               c.Score,
		TrendFlexibility:    c.Params.Flexibility,
		ChangepointFraction: c.Params.ChangepointFraction,
		Regularization:      c.Params.Regularization,
		FourierOrder:        c.Params.FourierOrder,
		Changepoints:        c.Changepoints,
		ActiveChangepoints:  c.ActiveChangepoints,
	}
}
