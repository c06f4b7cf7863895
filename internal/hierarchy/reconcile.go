package hierarchy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Weighting selects the error-covariance estimate used by trace
// minimization. Heavier estimates need residual history for every row.
type Weighting string

const (
	// WeightOLS treats every row's base error as identically distributed.
	WeightOLS Weighting = "ols"
	// WeightStructural scales each row by the number of accounts it sums.
	WeightStructural Weighting = "structural"
	// WeightWLSV uses per-row in-sample residual variances.
	WeightWLSV Weighting = "wlsv"
	// WeightShrinkage uses the sample residual covariance shrunk toward
	// its diagonal, with the shrinkage intensity estimated from the data.
	WeightShrinkage Weighting = "shrinkage"
	// WeightSample uses the full sample residual covariance. It needs more
	// residual observations than reconciliation rows.
	WeightSample Weighting = "sample"
)

// ParseWeighting validates a weighting name from configuration.
func ParseWeighting(s string) (Weighting, error) {
	switch w := Weighting(s); w {
	case WeightOLS, WeightStructural, WeightWLSV, WeightShrinkage, WeightSample:
		return w, nil
	}
	return "", fmt.Errorf("unknown reconciliation weighting %q", s)
}

var (
	// ErrStructuralMismatch reports a tree whose children do not exactly
	// partition their parent's account set.
	ErrStructuralMismatch = errors.New("hierarchy children do not partition their parent")
	// ErrMissingBase reports a reconciliation row without a usable base
	// forecast.
	ErrMissingBase = errors.New("missing base forecast for reconciliation row")
	// ErrResidualHistory reports that a weighting cannot be estimated from
	// the residuals supplied.
	ErrResidualHistory = errors.New("insufficient residual history for weighting")
)

const varianceFloor = 1e-12

// Base carries one row's inputs: the base forecast over the horizon and,
// for residual-driven weightings, its in-sample residuals.
type Base struct {
	Forecast  []float64
	Residuals []float64
}

// BaseSet maps reconciliation rows to their inputs. Nodes is keyed by node
// ID and is consulted for multi-account nodes; Accounts is keyed by account
// number and must cover the tree's bottom level.
type BaseSet struct {
	Nodes    map[int]Base
	Accounts map[string]Base
}

// Reconciled holds coherent forecasts: per-account vectors straight from the
// projection, and per-node vectors recomposed by summing member accounts so
// that every parent exactly equals the sum of its children.
type Reconciled struct {
	Accounts map[string][]float64
	Nodes    map[int][]float64
}

// Validate checks that every non-leaf node's children exactly partition its
// account set. A violation means the tree was corrupted after construction
// and reconciliation output would be incoherent.
func Validate(tree *Tree) error {
	for i := range tree.Nodes {
		node := &tree.Nodes[i]
		if node.Leaf() {
			continue
		}
		union := make([]string, 0, len(node.Accounts))
		for _, c := range node.Children {
			union = append(union, tree.Nodes[c].Accounts...)
		}
		sort.Strings(union)
		if !equalStrings(union, node.Accounts) {
			return fmt.Errorf("node %s: %w", node.Prefix, ErrStructuralMismatch)
		}
	}
	if !equalStrings(tree.Root().Accounts, tree.Accounts) {
		return fmt.Errorf("root %s does not cover the bottom level: %w", tree.Prefix, ErrStructuralMismatch)
	}
	return nil
}

// Reconcile projects the stacked base forecasts onto the coherent subspace
// of the tree using trace minimization, then rebuilds every node vector
// bottom-up from the reconciled accounts.
func Reconcile(tree *Tree, bases BaseSet, horizon int, w Weighting) (*Reconciled, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("reconcile: horizon must be positive, got %d", horizon)
	}
	if err := Validate(tree); err != nil {
		return nil, err
	}

	upper := tree.UpperNodes()
	nb := len(tree.Accounts)
	m := len(upper) + nb

	yhat := mat.NewDense(m, horizon, nil)
	rowBases := make([]Base, m)
	rowNames := make([]string, m)
	for i, id := range upper {
		b, ok := bases.Nodes[id]
		if !ok || len(b.Forecast) != horizon {
			return nil, fmt.Errorf("node %s: %w", tree.Nodes[id].Prefix, ErrMissingBase)
		}
		rowBases[i] = b
		rowNames[i] = tree.Nodes[id].Prefix
		yhat.SetRow(i, b.Forecast)
	}
	for j, acct := range tree.Accounts {
		b, ok := bases.Accounts[acct]
		if !ok || len(b.Forecast) != horizon {
			return nil, fmt.Errorf("account %s: %w", acct, ErrMissingBase)
		}
		rowBases[len(upper)+j] = b
		rowNames[len(upper)+j] = acct
		yhat.SetRow(len(upper)+j, b.Forecast)
	}

	s := summing(tree, upper)

	var bottom *mat.Dense
	var err error
	switch w {
	case WeightOLS:
		dinv := make([]float64, m)
		for i := range dinv {
			dinv[i] = 1
		}
		bottom, err = solveDiagonal(s, yhat, dinv)
	case WeightStructural:
		dinv := make([]float64, m)
		for i, id := range upper {
			dinv[i] = 1 / float64(len(tree.Nodes[id].Accounts))
		}
		for j := 0; j < nb; j++ {
			dinv[len(upper)+j] = 1
		}
		bottom, err = solveDiagonal(s, yhat, dinv)
	case WeightWLSV:
		r, rerr := residualMatrix(rowBases, rowNames)
		if rerr != nil {
			return nil, rerr
		}
		dinv := make([]float64, m)
		col := make([]float64, rowCount(r))
		for i := 0; i < m; i++ {
			mat.Col(col, i, r)
			v := stat.Variance(col, nil)
			if v < varianceFloor {
				v = varianceFloor
			}
			dinv[i] = 1 / v
		}
		bottom, err = solveDiagonal(s, yhat, dinv)
	case WeightShrinkage:
		r, rerr := residualMatrix(rowBases, rowNames)
		if rerr != nil {
			return nil, rerr
		}
		bottom, err = solveFull(s, yhat, shrinkCovariance(r))
	case WeightSample:
		r, rerr := residualMatrix(rowBases, rowNames)
		if rerr != nil {
			return nil, rerr
		}
		if t := rowCount(r); t <= m {
			return nil, fmt.Errorf("sample weighting needs more than %d residual observations, have %d: %w", m, t, ErrResidualHistory)
		}
		bottom, err = solveFull(s, yhat, sampleCovariance(r))
	default:
		return nil, fmt.Errorf("unknown reconciliation weighting %q", w)
	}
	if err != nil {
		return nil, err
	}

	rec := &Reconciled{
		Accounts: make(map[string][]float64, nb),
		Nodes:    make(map[int][]float64, len(tree.Nodes)),
	}
	for j, acct := range tree.Accounts {
		row := make([]float64, horizon)
		mat.Row(row, j, bottom)
		rec.Accounts[acct] = row
	}
	for i := range tree.Nodes {
		node := &tree.Nodes[i]
		sum := make([]float64, horizon)
		for _, acct := range node.Accounts {
			v := rec.Accounts[acct]
			for t := range sum {
				sum[t] += v[t]
			}
		}
		rec.Nodes[node.ID] = sum
	}
	return rec, nil
}

// summing builds the aggregation matrix over the tree's bottom level: one
// row per multi-account node followed by an identity block for the accounts.
func summing(tree *Tree, upper []int) *mat.Dense {
	nb := len(tree.Accounts)
	idx := make(map[string]int, nb)
	for j, a := range tree.Accounts {
		idx[a] = j
	}
	s := mat.NewDense(len(upper)+nb, nb, nil)
	for i, id := range upper {
		for _, a := range tree.Nodes[id].Accounts {
			s.Set(i, idx[a], 1)
		}
	}
	for j := 0; j < nb; j++ {
		s.Set(len(upper)+j, j, 1)
	}
	return s
}

// solveDiagonal computes the projection for a diagonal weighting given the
// inverse diagonal entries.
func solveDiagonal(s, yhat *mat.Dense, dinv []float64) (*mat.Dense, error) {
	m, nb := s.Dims()
	_, horizon := yhat.Dims()
	ws := mat.NewDense(m, nb, nil)
	wy := mat.NewDense(m, horizon, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < nb; j++ {
			ws.Set(i, j, dinv[i]*s.At(i, j))
		}
		for t := 0; t < horizon; t++ {
			wy.Set(i, t, dinv[i]*yhat.At(i, t))
		}
	}
	var normal, rhs mat.Dense
	normal.Mul(s.T(), ws)
	rhs.Mul(s.T(), wy)
	return solveSPD(&normal, &rhs)
}

// solveFull computes the projection for a full covariance weighting.
func solveFull(s, yhat *mat.Dense, w *mat.SymDense) (*mat.Dense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(w) {
		return nil, fmt.Errorf("residual covariance is singular: %w", ErrResidualHistory)
	}
	var winvS, winvY mat.Dense
	if err := chol.SolveTo(&winvS, s); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if err := chol.SolveTo(&winvY, yhat); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	var normal, rhs mat.Dense
	normal.Mul(s.T(), &winvS)
	rhs.Mul(s.T(), &winvY)
	return solveSPD(&normal, &rhs)
}

// solveSPD solves the symmetric positive definite normal equations for the
// bottom-level matrix.
func solveSPD(normal, rhs *mat.Dense) (*mat.Dense, error) {
	n, _ := normal.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(normal.At(i, j)+normal.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, fmt.Errorf("weighted normal equations are not positive definite: %w", ErrResidualHistory)
	}
	var out mat.Dense
	if err := chol.SolveTo(&out, rhs); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return &out, nil
}

// residualMatrix stacks row residuals into a time-by-row matrix, aligned on
// the trailing window every row can cover.
func residualMatrix(rowBases []Base, rowNames []string) (*mat.Dense, error) {
	t := math.MaxInt
	for i, b := range rowBases {
		if len(b.Residuals) == 0 {
			return nil, fmt.Errorf("row %s has no residuals: %w", rowNames[i], ErrResidualHistory)
		}
		if len(b.Residuals) < t {
			t = len(b.Residuals)
		}
	}
	if t < 2 {
		return nil, fmt.Errorf("need at least 2 residual observations per row: %w", ErrResidualHistory)
	}
	m := len(rowBases)
	r := mat.NewDense(t, m, nil)
	for i, b := range rowBases {
		tail := b.Residuals[len(b.Residuals)-t:]
		for k, v := range tail {
			r.Set(k, i, v)
		}
	}
	return r, nil
}

// sampleCovariance estimates the residual covariance with the diagonal
// floored so zero-variance rows do not make it trivially singular.
func sampleCovariance(r *mat.Dense) *mat.SymDense {
	t, m := r.Dims()
	means := columnMeans(r)
	cov := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			var sum float64
			for k := 0; k < t; k++ {
				sum += (r.At(k, i) - means[i]) * (r.At(k, j) - means[j])
			}
			v := sum / float64(t-1)
			if i == j && v < varianceFloor {
				v = varianceFloor
			}
			cov.SetSym(i, j, v)
		}
	}
	return cov
}

// shrinkCovariance shrinks the sample covariance toward its diagonal. The
// intensity estimate compares the sampling variance of each correlation with
// its magnitude, so noisy small-sample correlations are damped hard while
// well-supported ones survive.
func shrinkCovariance(r *mat.Dense) *mat.SymDense {
	cov := sampleCovariance(r)
	t, m := r.Dims()
	means := columnMeans(r)

	x := mat.NewDense(t, m, nil)
	for i := 0; i < m; i++ {
		sd := math.Sqrt(cov.At(i, i))
		if sd < varianceFloor {
			sd = varianceFloor
		}
		for k := 0; k < t; k++ {
			x.Set(k, i, (r.At(k, i)-means[i])/sd)
		}
	}

	var num, den float64
	tf := float64(t)
	for i := 0; i < m; i++ {
		for j := i + 1; j < m; j++ {
			var total float64
			for k := 0; k < t; k++ {
				total += x.At(k, i) * x.At(k, j)
			}
			corr := total / (tf - 1)
			mean := total / tf
			var spread float64
			for k := 0; k < t; k++ {
				d := x.At(k, i)*x.At(k, j) - mean
				spread += d * d
			}
			num += tf / math.Pow(tf-1, 3) * spread
			den += corr * corr
		}
	}

	lambda := 1.0
	if den > 0 {
		lambda = num / den
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	out := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			if i == j {
				out.SetSym(i, j, cov.At(i, i))
				continue
			}
			out.SetSym(i, j, (1-lambda)*cov.At(i, j))
		}
	}
	return out
}

func columnMeans(r *mat.Dense) []float64 {
	t, m := r.Dims()
	means := make([]float64, m)
	for i := 0; i < m; i++ {
		var sum float64
		for k := 0; k < t; k++ {
			sum += r.At(k, i)
		}
		means[i] = sum / float64(t)
	}
	return means
}

func rowCount(r *mat.Dense) int {
	t, _ := r.Dims()
	return t
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
