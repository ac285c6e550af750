package forecast

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CryptoHarvest/internal/model"
)

func rows(n int) []model.OHLCVRow {
	out := make([]model.OHLCVRow, n)
	start := model.NewDate(2024, 1, 1)
	for i := range out {
		p := decimal.NewFromInt(int64(100 + i))
		out[i] = model.OHLCVRow{Date: start.AddDays(i), Open: p, High: p, Low: p, Close: p, Volume: p}
	}
	return out
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"defaults with enough rows", Request{Rows: rows(31)}.WithDefaults(), true},
		{"rows equal lookback", Request{Rows: rows(30)}.WithDefaults(), false},
		{"negative horizon", Request{Rows: rows(40), Lookback: 5, Epochs: 1, Horizon: -1}, false},
		{"zero lookback", Request{Rows: rows(40), Epochs: 1, Horizon: 1}, false},
		{"custom", Request{Rows: rows(11), Lookback: 10, Epochs: 1, Horizon: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			}
		})
	}
}

func TestRemoteForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, float64(30), req["lookback"])
		assert.Equal(t, float64(20), req["epochs"])
		assert.Equal(t, float64(7), req["horizon"])
		assert.Len(t, req["ohlcv"], 40)

		io.WriteString(w, `{
			"metrics": {"rmse": 1.5, "mape": 0.02, "r2": 0.9},
			"test_dates": ["2024-02-08", "2024-02-09"],
			"y_test": [139, 140],
			"y_pred": [138.5, 140.2],
			"future_dates": ["2024-02-10"],
			"future_preds": [141.1]
		}`)
	}))
	defer srv.Close()

	res, err := NewRemote(srv.URL, srv.Client()).Forecast(context.Background(), Request{Rows: rows(40)})
	require.NoError(t, err)
	assert.Equal(t, 1.5, res.Metrics.RMSE)
	assert.Equal(t, 0.9, res.Metrics.R2)
	require.Len(t, res.Test, 2)
	assert.Equal(t, "2024-02-09", res.Test[1].Date.String())
	assert.Equal(t, 140.2, res.Test[1].Predicted)
	require.Len(t, res.Future, 1)
	assert.Equal(t, 141.1, res.Future[0].Predicted)
}

func TestRemoteRejectsInvalidRequestWithoutCalling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, srv.Client()).Forecast(context.Background(), Request{Rows: rows(5)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, calls.Load())
}

func TestRemoteServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"service error", http.StatusInternalServerError, `{"error":"Not enough data for LSTM"}`, "Not enough data for LSTM"},
		{"length mismatch", http.StatusOK, `{"test_dates":["2024-01-01"],"y_test":[],"y_pred":[]}`, "length mismatch"},
		{"not json", http.StatusBadGateway, `<html>`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewRemote(srv.URL, srv.Client()).Forecast(context.Background(), Request{Rows: rows(40)})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
