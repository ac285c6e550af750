package indicator

import (
	"github.com/shopspring/decimal"

	"CryptoHarvest/internal/model"
)

// YearDays is the window of a 52-week range on a calendar that trades every day.
const YearDays = 365

// Range returns the highest high and lowest low over the last days rows.
func Range(rows []model.OHLCVRow, days int) (high, low decimal.Decimal, err error) {
	if len(rows) == 0 {
		return decimal.Zero, decimal.Zero, ErrNoData
	}
	start := len(rows) - days
	if start < 0 || days <= 0 {
		start = 0
	}
	high, low = rows[start].High, rows[start].Low
	for _, r := range rows[start+1:] {
		if r.High.GreaterThan(high) {
			high = r.High
		}
		if r.Low.LessThan(low) {
			low = r.Low
		}
	}
	return high, low, nil
}

// Position places price within [low, high] as a value in 0..1, clamped.
// A flat range puts every price in the middle.
func Position(price, high, low decimal.Decimal) float64 {
	if !high.GreaterThan(low) {
		return 0.5
	}
	pos, _ := price.Sub(low).Div(high.Sub(low)).Float64()
	switch {
	case pos < 0:
		return 0
	case pos > 1:
		return 1
	}
	return pos
}
