package fec

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FEC columns this loader consumes. The norm defines eighteen; the rest are
// ignored.
const (
	colJournal = "JournalCode"
	colAccount = "CompteNum"
	colPiece   = "PieceDate"
	colDebit   = "Debit"
	colCredit  = "Credit"
)

// droppedJournals are bookkeeping-management journals, not trading entries:
// AN carries opening balances, AD carries adjustments.
var droppedJournals = map[string]bool{"AN": true, "AD": true}

const accountDigits = 6

// Parse reads one tab-separated FEC stream. The first row must be the
// header; amounts use comma decimal separators and dates are YYYYMMDD.
func Parse(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("fec: reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colJournal, colAccount, colPiece, colDebit, colCredit} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("fec: missing column %s", required)
		}
	}

	var entries []Entry
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fec: line %d: %w", line, err)
		}

		journal := strings.TrimSpace(record[cols[colJournal]])
		if droppedJournals[journal] {
			continue
		}
		account := strings.TrimSpace(record[cols[colAccount]])
		if account == "" {
			continue
		}
		if len(account) > accountDigits {
			account = account[:accountDigits]
		}

		date, err := parseDate(record[cols[colPiece]])
		if err != nil {
			return nil, fmt.Errorf("fec: line %d: %w", line, err)
		}
		debit, err := parseAmount(record[cols[colDebit]])
		if err != nil {
			return nil, fmt.Errorf("fec: line %d: debit: %w", line, err)
		}
		credit, err := parseAmount(record[cols[colCredit]])
		if err != nil {
			return nil, fmt.Errorf("fec: line %d: credit: %w", line, err)
		}

		entries = append(entries, Entry{
			JournalCode: journal,
			Account:     account,
			PieceDate:   date,
			Debit:       debit,
			Credit:      credit,
		})
	}
	return entries, nil
}

// ParseFile reads one FEC file.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fec: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// ParseDir reads every .txt, .csv, and .tsv file in a directory and
// concatenates their entries.
func ParseDir(dir string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fec: %w", err)
	}

	var entries []Entry
	for _, item := range items {
		if item.IsDir() || !isFECFile(item.Name()) {
			continue
		}
		fileEntries, err := ParseFile(filepath.Join(dir, item.Name()))
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoEntries)
	}
	return entries, nil
}

func isFECFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".csv", ".tsv":
		return true
	}
	return false
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: expected YYYYMMDD", s)
	}
	return t, nil
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q", s)
	}
	return v, nil
}
