package hierarchy

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/prophet"
	"github.com/comptaflow/ledgercast/internal/series"
)

func alwaysEligible(*series.Series) prophet.Verdict {
	return prophet.Verdict{Eligible: true}
}

func neverEligible(*series.Series) prophet.Verdict {
	return prophet.Verdict{Eligible: false, Reasons: []prophet.RejectionReason{prophet.ReasonMonthCoverage}}
}

func flatSeries(months int, value float64) *series.Series {
	vals := make([]float64, months)
	for i := range vals {
		vals[i] = value
	}
	return series.New(series.MonthOf(2021, time.January), vals)
}

func TestBuildGroupsByPrefix(t *testing.T) {
	accounts := map[string]*series.Series{
		"606100": flatSeries(36, 100),
		"606200": flatSeries(36, 200),
		"607100": flatSeries(36, 50),
	}

	forest := Build(accounts, DefaultConfig(), alwaysEligible)

	require.Len(t, forest.Trees, 2)
	require.Empty(t, forest.Rejected)

	first := forest.Trees[0]
	assert.Equal(t, "606", first.Prefix)
	assert.Equal(t, []string{"606100", "606200"}, first.Accounts)
	require.Len(t, first.Root().Children, 2)
	assert.Equal(t, "606100", first.Nodes[first.Root().Children[0]].Prefix)
	assert.Equal(t, "606200", first.Nodes[first.Root().Children[1]].Prefix)

	second := forest.Trees[1]
	assert.Equal(t, "607", second.Prefix)
	assert.True(t, second.Root().Leaf())
}

func TestBuildAggregatesNodeSeries(t *testing.T) {
	accounts := map[string]*series.Series{
		"606100": flatSeries(12, 100),
		"606200": flatSeries(12, 200),
	}

	forest := Build(accounts, DefaultConfig(), alwaysEligible)

	require.Len(t, forest.Trees, 1)
	root := forest.Trees[0].Root()
	assert.InDelta(t, 300, root.Series.At(series.MonthOf(2021, time.March)), 1e-9)
}

func TestBuildRejectsIneligibleRoots(t *testing.T) {
	accounts := map[string]*series.Series{
		"606100": flatSeries(12, 100),
		"701100": flatSeries(12, 500),
	}

	forest := Build(accounts, DefaultConfig(), neverEligible)

	assert.Empty(t, forest.Trees)
	require.Len(t, forest.Rejected, 2)
	assert.Equal(t, "606", forest.Rejected[0].Prefix)
	assert.Equal(t, "701", forest.Rejected[1].Prefix)
	assert.Contains(t, forest.Rejected[0].Verdict.Reasons, prophet.ReasonMonthCoverage)
}

func TestBuildKeepsIneligibleChildAsLeaf(t *testing.T) {
	// Eligibility keyed on history length: the 12-month account fails while
	// its sibling and the parent aggregation pass.
	eligible := func(s *series.Series) prophet.Verdict {
		if s.ObservedCount() >= 24 {
			return prophet.Verdict{Eligible: true}
		}
		return prophet.Verdict{Eligible: false, Reasons: []prophet.RejectionReason{prophet.ReasonMonthCoverage}}
	}
	accounts := map[string]*series.Series{
		"606100": flatSeries(36, 100),
		"606200": flatSeries(12, 40),
	}

	forest := Build(accounts, DefaultConfig(), eligible)

	require.Len(t, forest.Trees, 1)
	tree := forest.Trees[0]
	require.Len(t, tree.Root().Children, 2)

	short := tree.Nodes[tree.Root().Children[1]]
	assert.Equal(t, []string{"606200"}, short.Accounts)
	assert.False(t, short.Verdict.Eligible)
	assert.True(t, short.Leaf())
	require.NoError(t, Validate(tree))
}

func TestBuildCollapsesSingleBucketChains(t *testing.T) {
	accounts := map[string]*series.Series{
		"606110": flatSeries(36, 10),
		"606120": flatSeries(36, 20),
	}

	forest := Build(accounts, DefaultConfig(), alwaysEligible)

	require.Len(t, forest.Trees, 1)
	tree := forest.Trees[0]
	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, "606110", tree.Nodes[1].Prefix)
	assert.Equal(t, "606120", tree.Nodes[2].Prefix)
	assert.Equal(t, 0, tree.Nodes[1].Parent)
}

func TestBuildShortAccountNumbers(t *testing.T) {
	accounts := map[string]*series.Series{
		"601":    flatSeries(36, 10),
		"601100": flatSeries(36, 20),
	}

	forest := Build(accounts, DefaultConfig(), alwaysEligible)

	require.Len(t, forest.Trees, 1)
	tree := forest.Trees[0]
	require.Len(t, tree.Root().Children, 2)
	assert.Equal(t, "601", tree.Nodes[tree.Root().Children[0]].Prefix)
	assert.Equal(t, "601100", tree.Nodes[tree.Root().Children[1]].Prefix)
	require.NoError(t, Validate(tree))
}

func TestBuildDisabledMakesSingletons(t *testing.T) {
	accounts := map[string]*series.Series{
		"606100": flatSeries(36, 100),
		"606200": flatSeries(36, 200),
	}
	cfg := DefaultConfig()
	cfg.Enabled = false

	forest := Build(accounts, cfg, alwaysEligible)

	require.Len(t, forest.Trees, 2)
	for _, tree := range forest.Trees {
		assert.Len(t, tree.Nodes, 1)
		assert.True(t, tree.Root().Leaf())
		assert.Equal(t, tree.Prefix, tree.Accounts[0])
	}
}

func TestBuildDeterministic(t *testing.T) {
	accounts := map[string]*series.Series{
		"606110": flatSeries(36, 10),
		"606120": flatSeries(36, 20),
		"606210": flatSeries(36, 30),
		"607100": flatSeries(36, 40),
	}

	a := Build(accounts, DefaultConfig(), alwaysEligible)
	b := Build(accounts, DefaultConfig(), alwaysEligible)

	require.Equal(t, len(a.Trees), len(b.Trees))
	for i := range a.Trees {
		assert.True(t, reflect.DeepEqual(a.Trees[i].Accounts, b.Trees[i].Accounts))
		require.Equal(t, len(a.Trees[i].Nodes), len(b.Trees[i].Nodes))
		for j := range a.Trees[i].Nodes {
			assert.Equal(t, a.Trees[i].Nodes[j].Prefix, b.Trees[i].Nodes[j].Prefix)
			assert.Equal(t, a.Trees[i].Nodes[j].Accounts, b.Trees[i].Nodes[j].Accounts)
		}
	}
}

func TestUpperNodes(t *testing.T) {
	accounts := map[string]*series.Series{
		"606100": flatSeries(36, 100),
		"606200": flatSeries(36, 200),
	}

	forest := Build(accounts, DefaultConfig(), alwaysEligible)

	require.Len(t, forest.Trees, 1)
	assert.Equal(t, []int{0}, forest.Trees[0].UpperNodes())
}

func TestValidateDetectsCorruptedTree(t *testing.T) {
	accounts := map[string]*series.Series{
		"606100": flatSeries(36, 100),
		"606200": flatSeries(36, 200),
	}
	forest := Build(accounts, DefaultConfig(), alwaysEligible)
	require.Len(t, forest.Trees, 1)
	tree := forest.Trees[0]
	require.NoError(t, Validate(tree))

	tree.Nodes[1].Accounts = nil

	err := Validate(tree)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructuralMismatch)
}
