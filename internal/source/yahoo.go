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

// YahooClient fetches SYMBOL-USD daily history from the Yahoo Finance chart API.
type YahooClient struct {
	baseURL string
	req     *Requester
	now     func() time.Time
}

// NewYahooClient creates a Yahoo Finance client.
func NewYahooClient(baseURL string, cfg HTTPConfig, opts ...Option) *YahooClient {
	return &YahooClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		req:     NewRequester("yahoo", cfg, nil, opts...),
		now:     time.Now,
	}
}

func (c *YahooClient) Name() string { return "yahoo" }

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *YahooClient) Fetch(ctx context.Context, sym model.Symbol, w Window) ([]model.OHLCVRow, error) {
	ticker := strings.ToUpper(strings.TrimSpace(sym.Ticker))
	if ticker == "" {
		return nil, nil
	}

	var period1 int64
	if !w.IsFull() {
		period1 = w.Since.Time().Unix()
	}
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", strconv.FormatInt(period1, 10))
	q.Set("period2", strconv.FormatInt(c.now().Unix(), 10))
	q.Set("events", "history")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", c.baseURL, url.PathEscape(ticker+"-USD"))
	body, err := c.req.Get(ctx, endpoint, q)
	if err != nil {
		if statusOf(err) == 404 {
			return nil, nil
		}
		return nil, err
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, parseError(c.Name(), fmt.Errorf("decode chart: %w", err))
	}
	if e := chart.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, nil
		}
		return nil, parseError(c.Name(), fmt.Errorf("api error: %s", e.Description))
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	rows := make([]model.OHLCVRow, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue // null bar
		}
		vol := decimal.Zero
		if v := at(quote.Volume, i); v != nil {
			vol = decimal.NewFromFloat(*v)
		}
		rows = append(rows, model.OHLCVRow{
			Date:   model.DateOf(time.Unix(ts, 0)),
			Open:   decimal.NewFromFloat(*o),
			High:   decimal.NewFromFloat(*h),
			Low:    decimal.NewFromFloat(*l),
			Close:  decimal.NewFromFloat(*cl),
			Volume: vol,
		})
	}
	return model.Normalize(model.FilterSince(rows, w.Since)), nil
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
