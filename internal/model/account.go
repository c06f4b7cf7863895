// Package model defines the core domain models used throughout the
// application.
package model

// AccountKind is the forecasting treatment assigned to an account by the
// prefix classification table.
type AccountKind string

// Account kind constants.
const (
	KindFixedExpense    AccountKind = "fixed_expense"
	KindVariableExpense AccountKind = "variable_expense"
	KindRevenue         AccountKind = "revenue"
	KindUntyped         AccountKind = "untyped_forecastable"
)

// Forecastable reports whether accounts of this kind receive a forecast.
func (k AccountKind) Forecastable() bool {
	switch k {
	case KindFixedExpense, KindVariableExpense, KindRevenue, KindUntyped:
		return true
	default:
		return false
	}
}

// Account pairs a general-ledger account number with its label and assigned
// kind.
type Account struct {
	Number string
	Label  string
	Kind   AccountKind
}
