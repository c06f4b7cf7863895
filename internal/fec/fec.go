// Package fec ingests FEC files (Fichier des Écritures Comptables), the
// normalized ledger-entry export French accounting software produces, and
// turns them into the monthly per-account series and daily activity counts
// the forecasting engine consumes.
package fec

import (
	"errors"
	"time"

	"github.com/comptaflow/ledgercast/internal/series"
)

// ErrNoEntries reports that parsing produced no usable ledger entries.
var ErrNoEntries = errors.New("no ledger entries found")

// Entry is one ledger line after parsing: amounts as floats, the document
// date as the forecasting date, and the account number truncated to six
// digits.
type Entry struct {
	JournalCode string
	Account     string
	PieceDate   time.Time
	Debit       float64
	Credit      float64
}

// Solde is the entry's balance under the standard debit-minus-credit
// convention.
func (e Entry) Solde() float64 { return e.Debit - e.Credit }

// Config controls the conversion from raw entries to monthly series.
type Config struct {
	// Cutoff discards entries after this date. Zero means use the latest
	// document date present in the data.
	Cutoff time.Time
	// AccountPrefixes keeps only accounts under these prefixes.
	AccountPrefixes []string
	// ReplaceZeros treats a zero monthly balance as missing: in practice a
	// zero almost always means no bookings, not a real balance of zero.
	ReplaceZeros bool
	// ExcludeCovid blanks the COVID window so its distortions never reach
	// the models.
	ExcludeCovid bool
	CovidStart   series.Month
	CovidEnd     series.Month
	// ActiveWindowMonths drops accounts with no observation in this many
	// trailing months before the cutoff.
	ActiveWindowMonths int
}

// DefaultConfig returns the standard ingestion settings.
func DefaultConfig() Config {
	return Config{
		AccountPrefixes:    []string{"6", "7"},
		ReplaceZeros:       true,
		ExcludeCovid:       true,
		CovidStart:         series.MonthOf(2020, time.February),
		CovidEnd:           series.MonthOf(2021, time.May),
		ActiveWindowMonths: 12,
	}
}

// Ledger is the engine-facing view of one company's entries.
type Ledger struct {
	// Accounts maps account numbers to monthly series, zero-as-missing
	// applied, COVID window blanked, inactive accounts dropped. Revenue
	// accounts carry positive magnitudes.
	Accounts map[string]*series.Series
	// Daily counts ledger entries per document day, for the trading-day
	// model.
	Daily map[time.Time]int
	// Cutoff is the last month of usable history.
	Cutoff series.Month
}

// Load parses every FEC file in a directory and builds the ledger.
func Load(dir string, cfg Config) (*Ledger, error) {
	entries, err := ParseDir(dir)
	if err != nil {
		return nil, err
	}
	return FromEntries(entries, cfg)
}

// FromEntries builds the ledger from already-parsed entries.
func FromEntries(entries []Entry, cfg Config) (*Ledger, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	cutoff := cfg.Cutoff
	if cutoff.IsZero() {
		for _, e := range entries {
			if e.PieceDate.After(cutoff) {
				cutoff = e.PieceDate
			}
		}
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.PieceDate.After(cutoff) {
			continue
		}
		if !hasAnyPrefix(e.Account, cfg.AccountPrefixes) {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return nil, ErrNoEntries
	}

	cutoffMonth := series.MonthFromTime(cutoff)
	accounts := monthlySeries(kept, cutoffMonth, cfg)

	return &Ledger{
		Accounts: accounts,
		Daily:    dailyCounts(kept),
		Cutoff:   cutoffMonth,
	}, nil
}

func hasAnyPrefix(account string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if len(account) >= len(p) && account[:len(p)] == p {
			return true
		}
	}
	return false
}
