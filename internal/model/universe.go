package model

import "time"

// Symbol pairs a ticker with the provider-specific coin id fixed at universe-build time.
type Symbol struct {
	Ticker string `json:"symbol"`
	CoinID string `json:"coin_id"`
}

func (s Symbol) String() string {
	if s.CoinID == "" {
		return s.Ticker
	}
	return s.Ticker + " (" + s.CoinID + ")"
}

// UniverseEntry is one ranked coin tracked by the pipeline.
type UniverseEntry struct {
	Symbol        string    `json:"symbol" validate:"required"`
	CoinID        string    `json:"id" validate:"required"`
	Name          string    `json:"name"`
	MarketCapRank int       `json:"market_cap_rank" validate:"gte=1"`
	CurrentPrice  float64   `json:"current_price"`
	MarketCap     float64   `json:"market_cap"`
	TotalVolume   float64   `json:"total_volume"`
	LastUpdated   time.Time `json:"last_updated"`
	IsActive      bool      `json:"is_active"`
}

// Key returns the pipeline identity of the entry.
func (e UniverseEntry) Key() Symbol {
	return Symbol{Ticker: e.Symbol, CoinID: e.CoinID}
}
