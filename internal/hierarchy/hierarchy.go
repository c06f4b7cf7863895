// Package hierarchy groups accounts into prefix trees, refines them as far
// as data quality allows, and reconciles base forecasts so every parent
// equals the sum of its children. Trees are stored arena-style: a flat node
// slice with parent/child indices, which keeps reconciliation passes and
// serialization free of pointer-ownership concerns.
package hierarchy

import (
	"sort"

	"github.com/comptaflow/ledgercast/internal/prophet"
	"github.com/comptaflow/ledgercast/internal/series"
)

// Config controls tree construction.
type Config struct {
	// Enabled switches hierarchical grouping on. When off, every account
	// forms its own degenerate single-node tree.
	Enabled bool
	// RootDepth is the prefix length that forms the root groups.
	RootDepth int
}

// DefaultConfig returns the standard tree construction settings.
func DefaultConfig() Config {
	return Config{Enabled: true, RootDepth: 3}
}

// Eligibility is the data-quality predicate refinement consults at every
// candidate aggregation.
type Eligibility func(*series.Series) prophet.Verdict

// Node is one aggregation in a tree: the accounts sharing a prefix, their
// summed series, and the eligibility verdict for that aggregation. An
// ineligible node is never refined further; it stays in the tree so that
// children always partition their parent and so its rejection reasons are
// kept for auditing.
type Node struct {
	Series   *series.Series
	Prefix   string
	Accounts []string
	Children []int
	ID       int
	Parent   int
	Verdict  prophet.Verdict
}

// Leaf reports whether the node has no children.
func (n *Node) Leaf() bool { return len(n.Children) == 0 }

// SingleAccount returns the account number when the node aggregates exactly
// one account.
func (n *Node) SingleAccount() (string, bool) {
	if len(n.Accounts) == 1 {
		return n.Accounts[0], true
	}
	return "", false
}

// Tree is one root group's refinement tree. Nodes[0] is the root; Accounts
// is the sorted bottom level every summing matrix is built over.
type Tree struct {
	Prefix   string
	Nodes    []Node
	Accounts []string
}

// Root returns the root node.
func (t *Tree) Root() *Node { return &t.Nodes[0] }

// UpperNodes returns the IDs of nodes aggregating two or more accounts, in
// arena order. Single-account nodes coincide with bottom rows and would
// duplicate them in the summing matrix.
func (t *Tree) UpperNodes() []int {
	var ids []int
	for i := range t.Nodes {
		if len(t.Nodes[i].Accounts) >= 2 {
			ids = append(ids, i)
		}
	}
	return ids
}

// RejectedGroup records a root group that failed eligibility outright and
// is excluded from hierarchical forecasting.
type RejectedGroup struct {
	Prefix   string
	Accounts []string
	Verdict  prophet.Verdict
}

// Forest is the outcome of tree construction over a whole account map.
type Forest struct {
	Trees    []*Tree
	Rejected []RejectedGroup
}

// Build groups accounts by the configured prefix depth and grows one
// refinement tree per eligible root group. Account order is normalized so
// construction is deterministic for a given input map.
func Build(accounts map[string]*series.Series, cfg Config, eligible Eligibility) *Forest {
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	forest := &Forest{}
	if !cfg.Enabled {
		for _, name := range names {
			s := accounts[name]
			verdict := eligible(s)
			if !verdict.Eligible {
				forest.Rejected = append(forest.Rejected, RejectedGroup{
					Prefix:   name,
					Accounts: []string{name},
					Verdict:  verdict,
				})
				continue
			}
			forest.Trees = append(forest.Trees, &Tree{
				Prefix:   name,
				Accounts: []string{name},
				Nodes: []Node{{
					Prefix:   name,
					Accounts: []string{name},
					Series:   s.Clone(),
					Parent:   -1,
					Verdict:  verdict,
				}},
			})
		}
		return forest
	}

	groups := partition(names, cfg.RootDepth)
	prefixes := make([]string, 0, len(groups))
	for p := range groups {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		members := groups[prefix]
		agg := aggregate(members, accounts)
		verdict := eligible(agg)
		if !verdict.Eligible {
			forest.Rejected = append(forest.Rejected, RejectedGroup{
				Prefix:   prefix,
				Accounts: members,
				Verdict:  verdict,
			})
			continue
		}

		tree := &Tree{
			Prefix:   prefix,
			Accounts: members,
			Nodes: []Node{{
				Prefix:   prefix,
				Accounts: members,
				Series:   agg,
				Parent:   -1,
				Verdict:  verdict,
			}},
		}
		refine(tree, 0, accounts, eligible)
		forest.Trees = append(forest.Trees, tree)
	}
	return forest
}

// refine grows children under an eligible node by extending its prefix one
// digit at a time. Every sub-aggregation becomes a child carrying its own
// verdict; only eligible children are refined further. A chain of
// single-bucket extensions is collapsed rather than materialized as a stack
// of identical nodes, and a bucket holding one account takes that account's
// full number as its prefix, like the singleton trees built when grouping
// is disabled.
func refine(t *Tree, id int, accounts map[string]*series.Series, eligible Eligibility) {
	if len(t.Nodes[id].Accounts) < 2 {
		return
	}

	prefix := t.Nodes[id].Prefix
	members := t.Nodes[id].Accounts
	var buckets map[string][]string
	for {
		buckets = partition(members, len(prefix)+1)
		if len(buckets) != 1 {
			break
		}
		for only := range buckets {
			if len(only) <= len(prefix) {
				return
			}
			prefix = only
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bucket := buckets[key]
		agg := aggregate(bucket, accounts)
		childPrefix := key
		if len(bucket) == 1 {
			childPrefix = bucket[0]
		}
		child := Node{
			ID:       len(t.Nodes),
			Prefix:   childPrefix,
			Parent:   id,
			Accounts: bucket,
			Series:   agg,
			Verdict:  eligible(agg),
		}
		t.Nodes = append(t.Nodes, child)
		t.Nodes[id].Children = append(t.Nodes[id].Children, child.ID)
		if child.Verdict.Eligible {
			refine(t, child.ID, accounts, eligible)
		}
	}
}

// partition buckets sorted account numbers by their first depth digits.
// Accounts shorter than the depth bucket under their full number.
func partition(accounts []string, depth int) map[string][]string {
	out := make(map[string][]string)
	for _, a := range accounts {
		key := a
		if len(a) > depth {
			key = a[:depth]
		}
		out[key] = append(out[key], a)
	}
	return out
}

func aggregate(members []string, accounts map[string]*series.Series) *series.Series {
	parts := make([]*series.Series, 0, len(members))
	for _, m := range members {
		parts = append(parts, accounts[m])
	}
	return series.Aggregate(parts...)
}
