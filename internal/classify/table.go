// Package classify maps general-ledger account numbers to their forecasting
// treatment using a static prefix table. The table is loaded once at startup
// and immutable afterwards; lookups walk the type groups in a fixed priority
// order so that overlapping prefixes resolve deterministically.
package classify

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/comptaflow/ledgercast/internal/model"
)

//go:embed classification.csv
var defaultCSV []byte

// ErrUnknownAccount is returned when an account matches no prefix in the
// table. It usually points at a gap in the classification file, not at bad
// ledger data.
var ErrUnknownAccount = errors.New("account matches no classification prefix")

// Table holds the prefix lists per account kind. Matching checks fixed
// expenses first, then variable expenses, then revenue, then the untyped
// remainder, mirroring the order the classification file is interpreted in.
type Table struct {
	fixed    []string
	variable []string
	revenue  []string
	untyped  []string
}

// Default returns the bundled French chart-of-accounts table.
func Default() *Table {
	t, err := Load(bytes.NewReader(defaultCSV))
	if err != nil {
		// The embedded table is validated by tests; a parse failure here is
		// a build defect.
		panic(fmt.Sprintf("embedded classification table invalid: %v", err))
	}
	return t
}

// LoadFile reads a classification table from a CSV file with name,type
// columns.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening classification file: %w", err)
	}
	defer func() { _ = f.Close() }()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading classification file %s: %w", path, err)
	}
	return t, nil
}

// Load parses a classification table. Rows carry an account prefix and one
// of the types fix, variable, revenue, or forecastable. Prefix 603 (stock
// variation) is always reclassified to fix: it moves with inventory, not
// with real spending.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading classification header: %w", err)
	}
	nameIdx, typeIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "name":
			nameIdx = i
		case "type":
			typeIdx = i
		}
	}
	if nameIdx < 0 || typeIdx < 0 {
		return nil, fmt.Errorf("classification table must have name and type columns, got %v", header)
	}

	t := &Table{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading classification row %d: %w", line, err)
		}
		prefix := strings.TrimSpace(rec[nameIdx])
		kind := strings.TrimSpace(rec[typeIdx])
		if prefix == "" {
			continue
		}
		if prefix == "603" {
			kind = "fix"
		}
		switch kind {
		case "fix":
			t.fixed = append(t.fixed, prefix)
		case "variable":
			t.variable = append(t.variable, prefix)
		case "revenue":
			t.revenue = append(t.revenue, prefix)
		case "forecastable":
			t.untyped = append(t.untyped, prefix)
		default:
			return nil, fmt.Errorf("classification row %d: unknown type %q", line, kind)
		}
	}
	if len(t.fixed)+len(t.variable)+len(t.revenue)+len(t.untyped) == 0 {
		return nil, errors.New("classification table is empty")
	}
	return t, nil
}

// Kind returns the forecasting treatment for an account number.
func (t *Table) Kind(account string) (model.AccountKind, error) {
	switch {
	case hasAnyPrefix(account, t.fixed):
		return model.KindFixedExpense, nil
	case hasAnyPrefix(account, t.variable):
		return model.KindVariableExpense, nil
	case hasAnyPrefix(account, t.revenue):
		return model.KindRevenue, nil
	case hasAnyPrefix(account, t.untyped):
		return model.KindUntyped, nil
	default:
		return "", fmt.Errorf("classifying account %s: %w", account, ErrUnknownAccount)
	}
}

// IsRevenue reports whether the account belongs to a revenue prefix.
func (t *Table) IsRevenue(account string) bool {
	return hasAnyPrefix(account, t.revenue)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
