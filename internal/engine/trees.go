package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/comptaflow/ledgercast/internal/hierarchy"
	"github.com/comptaflow/ledgercast/internal/model"
)

// treeOutcome is one tree's contribution to the run, tagged with its forest
// index so collection order never depends on worker scheduling.
type treeOutcome struct {
	err        error
	forecasts  []model.Forecast
	rejections []model.Rejection
	idx        int
}

// processForest reconciles every tree on a bounded worker pool. Trees are
// independent of each other; the pool only caps peak memory and compute.
func (e *Engine) processForest(ctx context.Context, forest *hierarchy.Forest, env *runEnv, progress func(done int)) ([]model.Forecast, []model.Rejection, error) {
	if len(forest.Trees) == 0 {
		return nil, nil, nil
	}

	workChan := make(chan int, len(forest.Trees))
	for i := range forest.Trees {
		workChan <- i
	}
	close(workChan)

	resultsChan := make(chan treeOutcome, len(forest.Trees))

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(forest.Trees) {
		workers = len(forest.Trees)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range workChan {
				select {
				case <-ctx.Done():
					resultsChan <- treeOutcome{idx: idx, err: ctx.Err()}
					continue
				default:
				}
				forecasts, rejections, err := e.processTree(ctx, forest.Trees[idx], env)
				resultsChan <- treeOutcome{
					idx:        idx,
					err:        err,
					forecasts:  forecasts,
					rejections: rejections,
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	outcomes := make([]treeOutcome, 0, len(forest.Trees))
	done := 0
	for out := range resultsChan {
		if out.err == nil {
			done += len(out.forecasts)
			if progress != nil {
				progress(done)
			}
		}
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].idx < outcomes[j].idx })

	var forecasts []model.Forecast
	var rejections []model.Rejection
	for _, out := range outcomes {
		if out.err != nil {
			return nil, nil, out.err
		}
		forecasts = append(forecasts, out.forecasts...)
		rejections = append(rejections, out.rejections...)
	}
	return forecasts, rejections, nil
}

// processTree gives every reconciliation row of one tree a base forecast and
// projects them onto the coherent subspace. A weighting that cannot be
// estimated from the available residuals downgrades to ols rather than
// leaving the tree's accounts without forecasts; a structural mismatch is
// surfaced untouched.
func (e *Engine) processTree(ctx context.Context, tree *hierarchy.Tree, env *runEnv) ([]model.Forecast, []model.Rejection, error) {
	ref := env.refs(env.kinds[tree.Accounts[0]])

	bases := hierarchy.BaseSet{
		Nodes:    make(map[int]hierarchy.Base),
		Accounts: make(map[string]hierarchy.Base, len(tree.Accounts)),
	}
	var rejections []model.Rejection

	for _, id := range tree.UpperNodes() {
		node := &tree.Nodes[id]
		base, _, _, rejs, err := e.modelBase(ctx, node.Series, &node.Verdict, node.Prefix, tree.Prefix, ref, env)
		if err != nil {
			return nil, nil, err
		}
		bases.Nodes[id] = base
		rejections = append(rejections, rejs...)
	}

	verdicts := accountVerdicts(tree)
	methods := make(map[string]model.Method, len(tree.Accounts))
	quality := make(map[string]*model.FitQuality)
	for _, acct := range tree.Accounts {
		base, q, method, rejs, err := e.modelBase(ctx, env.accounts[acct], verdicts[acct], acct, tree.Prefix, ref, env)
		if err != nil {
			return nil, nil, err
		}
		bases.Accounts[acct] = base
		methods[acct] = method
		if q != nil {
			quality[acct] = q
		}
		rejections = append(rejections, rejs...)
	}

	rec, err := hierarchy.Reconcile(tree, bases, env.horizon, e.cfg.Weighting)
	if errors.Is(err, hierarchy.ErrResidualHistory) {
		slog.Warn("insufficient residual history, reconciling with ols",
			"tree", tree.Prefix,
			"weighting", e.cfg.Weighting)
		rec, err = hierarchy.Reconcile(tree, bases, env.horizon, hierarchy.WeightOLS)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reconciling tree %s: %w", tree.Prefix, err)
	}

	forecasts := make([]model.Forecast, 0, len(tree.Accounts))
	for _, acct := range tree.Accounts {
		forecasts = append(forecasts, model.Forecast{
			Account:    acct,
			Kind:       env.kinds[acct],
			Method:     methods[acct],
			Start:      env.start,
			Values:     rec.Accounts[acct],
			Reconciled: true,
			Quality:    quality[acct],
		})
	}
	return forecasts, rejections, nil
}
