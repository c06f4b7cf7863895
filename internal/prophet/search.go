package prophet

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/comptaflow/ledgercast/internal/series"
)

// ErrNoCandidate is returned when every grid candidate failed to fit or was
// filtered out by the changepoint-ratio rule. The caller routes the account
// to the statistical fallback.
var ErrNoCandidate = errors.New("no surviving trend/seasonality candidate")

// Candidate is a fitted grid entry that survived filtering.
type Candidate struct {
	Model              *Model
	Params             Params
	GridIndex          int
	Score              float64
	Criterion          string
	Changepoints       int
	ActiveChangepoints int
}

// Search fits the full hyperparameter grid against the series and returns
// the best surviving candidate. Fits run on a small worker pool, each under
// its own timeout; a timed-out or failed fit is excluded from selection and
// never blocks its siblings. Results are collected by grid index, so the
// outcome does not depend on worker scheduling.
func Search(ctx context.Context, s *series.Series, cfg Config) (*Candidate, error) {
	grid := cfg.Grid(s.ObservedCount())
	if len(grid) == 0 {
		return nil, ErrNoCandidate
	}

	type job struct {
		params Params
		idx    int
	}
	type outcome struct {
		model *Model
		err   error
		idx   int
	}

	workChan := make(chan job, len(grid))
	for i, p := range grid {
		workChan <- job{params: p, idx: i}
	}
	close(workChan)

	resultsChan := make(chan outcome, len(grid))

	workers := cfg.GridWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(grid) {
		workers = len(grid)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range workChan {
				fitCtx, cancel := context.WithTimeout(ctx, cfg.FitTimeout)
				m, err := Fit(fitCtx, s, j.params, cfg)
				cancel()
				resultsChan <- outcome{model: m, err: err, idx: j.idx}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	models := make([]*Model, len(grid))
	for res := range resultsChan {
		if res.err != nil {
			slog.Debug("grid fit excluded",
				"grid_index", res.idx,
				"error", res.err)
			continue
		}
		models[res.idx] = res.model
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return selectBest(models, grid, cfg)
}

// selectBest applies the changepoint-ratio filter, then picks the minimum
// score. Ties break on fewer active changepoints, then on the lower grid
// index; the grid enumeration order is fixed, so selection is fully
// deterministic.
func selectBest(models []*Model, grid []Params, cfg Config) (*Candidate, error) {
	var best *Candidate
	for i, m := range models {
		if m == nil {
			continue
		}
		active := m.ActiveChangepoints(cfg.ActiveChangepointTol)
		denom := filterDenominator(cfg, m)
		if denom > 0 && float64(active)/float64(denom) >= cfg.FilterRatio {
			continue
		}
		score := m.Score(cfg)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		cand := &Candidate{
			Model:              m,
			Params:             grid[i],
			GridIndex:          i,
			Score:              score,
			Criterion:          cfg.Criterion(),
			Changepoints:       m.Changepoints(),
			ActiveChangepoints: active,
		}
		if best == nil || candidateLess(cand, best) {
			best = cand
		}
	}
	if best == nil {
		return nil, ErrNoCandidate
	}
	return best, nil
}

func candidateLess(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.ActiveChangepoints != b.ActiveChangepoints {
		return a.ActiveChangepoints < b.ActiveChangepoints
	}
	return a.GridIndex < b.GridIndex
}

// filterDenominator resolves the changepoint-ratio denominator: the full
// training sample size, or only the points inside the changepoint placement
// window.
func filterDenominator(cfg Config, m *Model) int {
	if cfg.FilterDenominator == DenominatorWindow {
		return int(math.Floor(m.Params().ChangepointFraction * float64(m.TrainSize())))
	}
	return m.TrainSize()
}
