package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"CryptoHarvest/internal/model"
)

const (
	binanceKlineLimit = 1000
	dayMillis         = int64(24 * time.Hour / time.Millisecond)
)

// BinanceClient fetches SYMBOLUSDT daily klines from the Binance spot REST API.
type BinanceClient struct {
	baseURL string
	years   int
	req     *Requester
	now     func() time.Time
}

// NewBinanceClient creates a Binance spot client. Full-history fetches reach back
// the given number of years.
func NewBinanceClient(baseURL string, years int, cfg HTTPConfig, opts ...Option) *BinanceClient {
	if years <= 0 {
		years = 10
	}
	return &BinanceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		years:   years,
		// 418 is Binance's ban response after ignoring 429s.
		req: NewRequester("binance", cfg, []int{418}, opts...),
		now: time.Now,
	}
}

func (c *BinanceClient) Name() string { return "binance" }

// binanceError is the error envelope Binance returns with 4xx responses.
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Invalid symbol.
const binanceInvalidSymbol = -1121

func (c *BinanceClient) Fetch(ctx context.Context, sym model.Symbol, w Window) ([]model.OHLCVRow, error) {
	ticker := strings.ToUpper(strings.TrimSpace(sym.Ticker))
	if ticker == "" {
		return nil, nil
	}
	pair := ticker + "USDT"

	start := c.now().AddDate(-c.years, 0, 0).UnixMilli()
	if !w.IsFull() {
		start = w.Since.Time().UnixMilli()
	}
	end := c.now().UnixMilli()

	var rows []model.OHLCVRow
	for start <= end {
		q := url.Values{}
		q.Set("symbol", pair)
		q.Set("interval", "1d")
		q.Set("startTime", strconv.FormatInt(start, 10))
		q.Set("limit", strconv.Itoa(binanceKlineLimit))

		body, err := c.req.Get(ctx, c.baseURL+"/api/v3/klines", q)
		if err != nil {
			if isInvalidSymbol(err) {
				return nil, nil
			}
			return nil, err
		}

		page, lastOpen, err := parseKlines(body)
		if err != nil {
			return nil, parseError(c.Name(), err)
		}
		rows = append(rows, page...)
		if len(page) < binanceKlineLimit {
			break
		}
		start = lastOpen + dayMillis
	}
	return model.Normalize(model.FilterSince(rows, w.Since)), nil
}

func isInvalidSymbol(err error) bool {
	var fe *FetchError
	if statusOf(err) != 400 || !errors.As(err, &fe) {
		return false
	}
	var be binanceError
	if json.Unmarshal(fe.Body, &be) != nil {
		return false
	}
	return be.Code == binanceInvalidSymbol
}

// parseKlines decodes [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...].
func parseKlines(body []byte) ([]model.OHLCVRow, int64, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode klines: %w", err)
	}
	rows := make([]model.OHLCVRow, 0, len(raw))
	var lastOpen int64
	for i, k := range raw {
		if len(k) < 6 {
			return nil, 0, fmt.Errorf("kline %d: expected at least 6 fields, got %d", i, len(k))
		}
		var openTime int64
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			return nil, 0, fmt.Errorf("kline %d open time: %w", i, err)
		}
		var fields [5]decimal.Decimal
		for j := range fields {
			var s string
			if err := json.Unmarshal(k[j+1], &s); err != nil {
				return nil, 0, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, 0, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			fields[j] = d
		}
		rows = append(rows, model.OHLCVRow{
			Date:   model.DateOf(time.UnixMilli(openTime)),
			Open:   fields[0],
			High:   fields[1],
			Low:    fields[2],
			Close:  fields[3],
			Volume: fields[4],
		})
		lastOpen = openTime
	}
	return rows, lastOpen, nil
}
