package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// OHLCVRow is one day's trading summary for a symbol.
type OHLCVRow struct {
	Date   Date            `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	// DegradedOHLC marks rows built from a single daily price point
	// (open = high = low = close), i.e. with no real intraday range.
	DegradedOHLC bool `json:"degraded_ohlc,omitempty"`
}

// Normalize returns rows sorted ascending by date with one row per date.
// When a date repeats, the row appearing later in the input wins.
func Normalize(rows []OHLCVRow) []OHLCVRow {
	if len(rows) == 0 {
		return nil
	}
	byDate := make(map[Date]int, len(rows))
	out := make([]OHLCVRow, 0, len(rows))
	for _, r := range rows {
		if r.Date.IsZero() {
			continue
		}
		if idx, ok := byDate[r.Date]; ok {
			out[idx] = r
			continue
		}
		byDate[r.Date] = len(out)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// FilterSince keeps rows dated on or after since. A zero since keeps everything.
func FilterSince(rows []OHLCVRow, since Date) []OHLCVRow {
	if since.IsZero() {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if !r.Date.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

// LastDate returns the latest date in rows, or the zero Date when rows is empty.
func LastDate(rows []OHLCVRow) Date {
	var last Date
	for _, r := range rows {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	return last
}

// Closes extracts close prices as float64 for numeric consumers.
func Closes(rows []OHLCVRow) []float64 {
	closes := make([]float64, len(rows))
	for i, r := range rows {
		closes[i] = r.Close.InexactFloat64()
	}
	return closes
}
