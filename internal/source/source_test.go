package source

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"CryptoHarvest/internal/model"
)

// fastHTTP keeps retry waits short in tests.
var fastHTTP = HTTPConfig{
	Timeout:        5 * time.Second,
	RateLimitDelay: time.Millisecond,
	RetryBackoff:   time.Millisecond,
	MaxRetries:     2,
}

type fakeClient struct {
	name  string
	rows  []model.OHLCVRow
	err   error
	calls int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Fetch(_ context.Context, _ model.Symbol, w Window) ([]model.OHLCVRow, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return model.FilterSince(f.rows, w.Since), nil
}

func dailyRows(start model.Date, n int, price int64) []model.OHLCVRow {
	rows := make([]model.OHLCVRow, n)
	for i := range rows {
		p := decimal.NewFromInt(price + int64(i))
		rows[i] = model.OHLCVRow{
			Date:   start.AddDays(i),
			Open:   p,
			High:   p.Add(decimal.NewFromInt(1)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return rows
}
