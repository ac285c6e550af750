package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"CryptoHarvest/internal/model"
)

// CoinGeckoClient fetches daily price and volume points from the CoinGecko
// market_chart API. The API has no OHLC, so every row carries the day's price as
// open, high, low and close and is marked DegradedOHLC.
type CoinGeckoClient struct {
	baseURL string
	days    int
	req     *Requester
}

// NewCoinGeckoClient creates a CoinGecko client with a lookback of days.
func NewCoinGeckoClient(baseURL, apiKey string, days int, cfg HTTPConfig, opts ...Option) *CoinGeckoClient {
	if days <= 0 {
		days = 365
	}
	opts = append([]Option{WithHeader("x-cg-demo-api-key", apiKey)}, opts...)
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		days:    days,
		req:     NewRequester("coingecko", cfg, nil, opts...),
	}
}

func (c *CoinGeckoClient) Name() string { return "coingecko" }

// marketChart holds [timestamp_ms, value] pairs.
type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

func (c *CoinGeckoClient) Fetch(ctx context.Context, sym model.Symbol, w Window) ([]model.OHLCVRow, error) {
	if sym.CoinID == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(c.days))
	q.Set("interval", "daily")

	endpoint := fmt.Sprintf("%s/api/v3/coins/%s/market_chart", c.baseURL, url.PathEscape(sym.CoinID))
	body, err := c.req.Get(ctx, endpoint, q)
	if err != nil {
		if statusOf(err) == 404 {
			return nil, nil
		}
		return nil, err
	}

	var chart marketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, parseError(c.Name(), fmt.Errorf("decode market chart: %w", err))
	}

	volumes := make(map[model.Date]decimal.Decimal, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		volumes[msDate(v[0])] = decimal.NewFromFloat(v[1])
	}

	rows := make([]model.OHLCVRow, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		day := msDate(p[0])
		price := decimal.NewFromFloat(p[1])
		vol, ok := volumes[day]
		if !ok {
			vol = decimal.Zero
		}
		rows = append(rows, model.OHLCVRow{
			Date:         day,
			Open:         price,
			High:         price,
			Low:          price,
			Close:        price,
			Volume:       vol,
			DegradedOHLC: true,
		})
	}
	// The trailing intraday point shares a date with the day's snapshot; the later one wins.
	return model.Normalize(model.FilterSince(rows, w.Since)), nil
}

func msDate(ms float64) model.Date {
	return model.DateOf(time.UnixMilli(int64(ms)))
}
