package indicator

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CryptoHarvest/internal/model"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDeltaSlice(t, []float64{2, 3, 4}, got[2:], 1e-12)
}

func TestWMA(t *testing.T) {
	got := WMA([]float64{1, 2, 3}, 3)
	// (1*1 + 2*2 + 3*3) / 6
	assert.InDelta(t, 14.0/6.0, got[2], 1e-12)
}

func TestEMAConstantSeries(t *testing.T) {
	got := EMA([]float64{5, 5, 5, 5}, 3)
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, 5.0, got[2])
	assert.Equal(t, 5.0, got[3])
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(i)
	}
	got := RSI(rising, 14)
	assert.True(t, math.IsNaN(got[13]))
	assert.Equal(t, 100.0, got[14])

	flat := RSI(make([]float64, 20), 14)
	assert.Equal(t, 50.0, flat[19])

	assert.True(t, math.IsNaN(RSI([]float64{1, 2}, 14)[1]))
}

func TestBollingerConstantSeries(t *testing.T) {
	vals := []float64{3, 3, 3, 3}
	mid, up, low := Bollinger(vals, 2, 2)
	assert.Equal(t, 3.0, mid[3])
	assert.Equal(t, 3.0, up[3])
	assert.Equal(t, 3.0, low[3])
	assert.True(t, math.IsNaN(up[0]))
}

func TestStochastic(t *testing.T) {
	high := []float64{10, 12, 14}
	low := []float64{8, 9, 10}
	closes := []float64{9, 11, 14}
	k, d := Stochastic(high, low, closes, 3, 1)
	assert.True(t, math.IsNaN(k[1]))
	assert.InDelta(t, 100.0, k[2], 1e-12)
	assert.InDelta(t, 100.0, d[2], 1e-12)
}

func TestVWAP(t *testing.T) {
	high := []float64{3, 6}
	low := []float64{3, 6}
	closes := []float64{3, 6}
	vol := []float64{1, 3}
	got := VWAP(high, low, closes, vol, 2)
	assert.InDelta(t, (3.0+18.0)/4.0, got[1], 1e-12)
}

func series(n int) []model.OHLCVRow {
	rows := make([]model.OHLCVRow, n)
	start := model.NewDate(2024, 1, 1)
	for i := range rows {
		c := 100 + 10*math.Sin(float64(i)/3)
		rows[i] = model.OHLCVRow{
			Date:   start.AddDays(i),
			Open:   decimal.NewFromFloat(c - 1),
			High:   decimal.NewFromFloat(c + 2),
			Low:    decimal.NewFromFloat(c - 2),
			Close:  decimal.NewFromFloat(c),
			Volume: decimal.NewFromInt(int64(1000 + i)),
		}
	}
	return rows
}

func TestLocalWarmUp(t *testing.T) {
	points, err := NewLocal().Compute(context.Background(), series(60))
	require.NoError(t, err)
	require.Len(t, points, 60)

	assert.Nil(t, points[13].RSI)
	assert.NotNil(t, points[14].RSI)
	assert.Nil(t, points[18].SMA20)
	assert.NotNil(t, points[19].SMA20)
	assert.NotNil(t, points[19].BBUpper)
	assert.NotNil(t, points[19].CCI)
	assert.Nil(t, points[24].MACD)
	assert.NotNil(t, points[25].MACD)
	assert.Nil(t, points[32].MACDSignal)
	assert.NotNil(t, points[33].MACDSignal)
	assert.Nil(t, points[26].ADX)
	assert.NotNil(t, points[27].ADX)
	assert.NotNil(t, points[13].VWAP)

	last := points[59]
	assert.Equal(t, "2024-02-29", last.Date.String())
	assert.GreaterOrEqual(t, *last.RSI, 0.0)
	assert.LessOrEqual(t, *last.RSI, 100.0)
	assert.Greater(t, *last.BBUpper, *last.BBLower)
}

func TestLocalCarriesDegradedFlag(t *testing.T) {
	rows := series(20)
	rows[5].DegradedOHLC = true

	points, err := NewLocal().Compute(context.Background(), rows)
	require.NoError(t, err)
	assert.True(t, points[5].DegradedOHLC)
	assert.False(t, points[4].DegradedOHLC)
	assert.False(t, points[6].DegradedOHLC)

	raw, err := json.Marshal(points[5])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"degraded_ohlc":true`)
	raw, err = json.Marshal(points[4])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "degraded_ohlc")
}

func TestLocalEmpty(t *testing.T) {
	_, err := NewLocal().Compute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			OHLCV []WireRow `json:"ohlcv"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Len(t, req.OHLCV, 3)
		assert.Equal(t, "2024-01-01", req.OHLCV[0].Date.String())

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"date":"2024-01-01T00:00:00","rsi":null,"sma_20":null},{"date":"2024-01-02T00:00:00","rsi":55.5}]}`)
	}))
	defer srv.Close()

	points, err := NewRemote(srv.URL, srv.Client()).Compute(context.Background(), series(3))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Nil(t, points[0].RSI)
	require.NotNil(t, points[1].RSI)
	assert.Equal(t, 55.5, *points[1].RSI)
	assert.Equal(t, "2024-01-02", points[1].Date.String())
	assert.False(t, points[1].DegradedOHLC)
}

func TestRemoteMarksDegradedDays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"date":"2024-01-01","rsi":null},{"date":"2024-01-02","rsi":40}]}`)
	}))
	defer srv.Close()

	rows := series(2)
	rows[1].DegradedOHLC = true
	points, err := NewRemote(srv.URL, srv.Client()).Compute(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.False(t, points[0].DegradedOHLC)
	assert.True(t, points[1].DegradedOHLC)
}

func TestRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"No OHLCV data provided"}`)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, srv.Client()).Compute(context.Background(), series(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No OHLCV data provided")
}

func TestRange(t *testing.T) {
	d := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	rows := []model.OHLCVRow{
		{Date: model.NewDate(2024, 1, 1), High: d(50), Low: d(1)},
		{Date: model.NewDate(2024, 1, 2), High: d(12), Low: d(8)},
		{Date: model.NewDate(2024, 1, 3), High: d(15), Low: d(9)},
	}

	high, low, err := Range(rows, 2)
	require.NoError(t, err)
	assert.True(t, high.Equal(d(15)))
	assert.True(t, low.Equal(d(8)))

	high, low, err = Range(rows, YearDays)
	require.NoError(t, err)
	assert.True(t, high.Equal(d(50)))
	assert.True(t, low.Equal(d(1)))

	_, _, err = Range(nil, 10)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPosition(t *testing.T) {
	d := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	assert.InDelta(t, 0.2, Position(d(12), d(20), d(10)), 1e-9)
	assert.Equal(t, 0.0, Position(d(5), d(20), d(10)))
	assert.Equal(t, 1.0, Position(d(25), d(20), d(10)))
	assert.Equal(t, 0.5, Position(d(7), d(7), d(7)))
}
