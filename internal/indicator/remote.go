package indicator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"CryptoHarvest/internal/model"
)

// Remote calls an analysis service that accepts {"ohlcv": [...]} and answers
// {"data": [...]} or {"error": "..."}.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Remote{url: url, client: client}
}

// WireRow is the OHLCV shape exchanged with the analysis services.
type WireRow struct {
	Date   model.Date `json:"date"`
	Open   float64    `json:"open"`
	High   float64    `json:"high"`
	Low    float64    `json:"low"`
	Close  float64    `json:"close"`
	Volume float64    `json:"volume"`
}

// ToWire converts rows for a JSON request body.
func ToWire(rows []model.OHLCVRow) []WireRow {
	out := make([]WireRow, len(rows))
	for i, r := range rows {
		out[i] = WireRow{
			Date:   r.Date,
			Open:   r.Open.InexactFloat64(),
			High:   r.High.InexactFloat64(),
			Low:    r.Low.InexactFloat64(),
			Close:  r.Close.InexactFloat64(),
			Volume: r.Volume.InexactFloat64(),
		}
	}
	return out
}

func (c *Remote) Compute(ctx context.Context, rows []model.OHLCVRow) ([]Point, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	body, err := json.Marshal(map[string]any{"ohlcv": ToWire(rows)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indicator service: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("indicator service: read body: %w", err)
	}

	var out struct {
		Data  []Point `json:"data"`
		Error string  `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("indicator service: status %d: decode: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("indicator service: status %d: %s", resp.StatusCode, out.Error)
	}
	markDegraded(out.Data, rows)
	return out.Data, nil
}

// markDegraded flags points whose input row had no real intraday range; the
// service does not echo the flag back.
func markDegraded(points []Point, rows []model.OHLCVRow) {
	degraded := make(map[model.Date]bool)
	for _, r := range rows {
		if r.DegradedOHLC {
			degraded[r.Date] = true
		}
	}
	if len(degraded) == 0 {
		return
	}
	for i := range points {
		points[i].DegradedOHLC = degraded[points[i].Date]
	}
}
