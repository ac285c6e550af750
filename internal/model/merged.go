package model

// MergedRow is one (symbol, date) line of the unified dataset.
type MergedRow struct {
	Symbol string
	CoinID string
	OHLCVRow
	// OnChain holds on-chain metric values keyed by metric name; missing metrics are absent.
	OnChain map[string]float64
	// Sentiment is the daily mean news sentiment, nil when no news was scored that day.
	Sentiment *float64
}
