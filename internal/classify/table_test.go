package classify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptaflow/ledgercast/internal/model"
)

func TestDefaultTableKinds(t *testing.T) {
	table := Default()

	tests := []struct {
		name    string
		account string
		want    model.AccountKind
	}{
		{name: "raw material purchases", account: "601000", want: model.KindVariableExpense},
		{name: "merchandise purchases", account: "607100", want: model.KindVariableExpense},
		{name: "utilities", account: "606400", want: model.KindFixedExpense},
		{name: "rent", account: "613200", want: model.KindFixedExpense},
		{name: "payroll", account: "641100", want: model.KindFixedExpense},
		{name: "depreciation", account: "681120", want: model.KindFixedExpense},
		{name: "financial expense", account: "661600", want: model.KindUntyped},
		{name: "sales", account: "707030", want: model.KindRevenue},
		{name: "service revenue", account: "706000", want: model.KindRevenue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Kind(tt.account)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStockVariationOverride(t *testing.T) {
	// 603 is listed as variable in the file but must always classify as
	// fixed.
	table := Default()
	kind, err := table.Kind("603700")
	require.NoError(t, err)
	assert.Equal(t, model.KindFixedExpense, kind)
}

func TestUnknownAccount(t *testing.T) {
	table := Default()
	_, err := table.Kind("512000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.Contains(t, err.Error(), "512000")
}

func TestLoadCustomTable(t *testing.T) {
	csv := "name,type\n42,fix\n43,revenue\n"
	table, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	kind, err := table.Kind("42000")
	require.NoError(t, err)
	assert.Equal(t, model.KindFixedExpense, kind)

	assert.True(t, table.IsRevenue("43999"))
	assert.False(t, table.IsRevenue("42000"))
}

func TestLoadFileReadsTableFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classification.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,type\n42,fix\n43,revenue\n"), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)

	kind, err := table.Kind("42000")
	require.NoError(t, err)
	assert.Equal(t, model.KindFixedExpense, kind)
	assert.True(t, table.IsRevenue("43100"))
}

func TestLoadFileMissingPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening classification file")
}

func TestLoadOverrideAppliesToCustomTables(t *testing.T) {
	csv := "name,type\n603,variable\n60,variable\n"
	table, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	kind, err := table.Kind("603000")
	require.NoError(t, err)
	assert.Equal(t, model.KindFixedExpense, kind)

	kind, err = table.Kind("601000")
	require.NoError(t, err)
	assert.Equal(t, model.KindVariableExpense, kind)
}

func TestLoadRejectsMalformedTables(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{name: "missing type column", csv: "name\n601\n"},
		{name: "unknown type", csv: "name,type\n601,magic\n"},
		{name: "empty", csv: "name,type\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.csv))
			assert.Error(t, err)
		})
	}
}

func TestMatchOrderPrefersFixedOverVariable(t *testing.T) {
	// 606 appears under fix while 60 would also match a variable row; the
	// fixed list wins because it is checked first.
	csv := "name,type\n606,fix\n60,variable\n"
	table, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	kind, err := table.Kind("606400")
	require.NoError(t, err)
	assert.Equal(t, model.KindFixedExpense, kind)
}
