// Package forecast is the client side of the price forecasting service.
package forecast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"CryptoHarvest/internal/indicator"
	"CryptoHarvest/internal/model"
)

const (
	DefaultLookback = 30
	DefaultEpochs   = 20
	DefaultHorizon  = 7
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid forecast request")

// Request asks for a model trained on Rows with the given window settings.
type Request struct {
	Rows     []model.OHLCVRow
	Lookback int `validate:"gt=0"`
	Epochs   int `validate:"gt=0"`
	Horizon  int `validate:"gt=0,lte=365"`
}

// WithDefaults fills unset settings.
func (r Request) WithDefaults() Request {
	if r.Lookback == 0 {
		r.Lookback = DefaultLookback
	}
	if r.Epochs == 0 {
		r.Epochs = DefaultEpochs
	}
	if r.Horizon == 0 {
		r.Horizon = DefaultHorizon
	}
	return r
}

var validate = validator.New()

// Validate checks settings and that there are more rows than the lookback window.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(r.Rows) <= r.Lookback {
		return fmt.Errorf("%w: need more than %d rows, got %d", ErrInvalidRequest, r.Lookback, len(r.Rows))
	}
	return nil
}

// Metrics scores predictions on the held-out test set.
type Metrics struct {
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
	R2   float64 `json:"r2"`
}

// TestPoint pairs an actual close with the model's prediction.
type TestPoint struct {
	Date      model.Date `json:"date"`
	Actual    float64    `json:"actual"`
	Predicted float64    `json:"predicted"`
}

// FuturePoint is a predicted close after the last known day.
type FuturePoint struct {
	Date      model.Date `json:"date"`
	Predicted float64    `json:"predicted"`
}

type Result struct {
	Metrics Metrics       `json:"metrics"`
	Test    []TestPoint   `json:"test"`
	Future  []FuturePoint `json:"future"`
}

// Forecaster produces a forecast for a series.
type Forecaster interface {
	Forecast(ctx context.Context, req Request) (*Result, error)
}

// Remote calls the forecasting service over HTTP.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a client. Training is slow, so the default timeout is long.
func NewRemote(url string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Remote{url: url, client: client}
}

type wireRequest struct {
	OHLCV    []indicator.WireRow `json:"ohlcv"`
	Lookback int                 `json:"lookback"`
	Epochs   int                 `json:"epochs"`
	Horizon  int                 `json:"horizon"`
}

type wireResponse struct {
	Metrics     Metrics      `json:"metrics"`
	TestDates   []model.Date `json:"test_dates"`
	YTest       []float64    `json:"y_test"`
	YPred       []float64    `json:"y_pred"`
	FutureDates []model.Date `json:"future_dates"`
	FuturePreds []float64    `json:"future_preds"`
	Error       string       `json:"error"`
}

func (c *Remote) Forecast(ctx context.Context, req Request) (*Result, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(wireRequest{
		OHLCV:    indicator.ToWire(req.Rows),
		Lookback: req.Lookback,
		Epochs:   req.Epochs,
		Horizon:  req.Horizon,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forecast service: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("forecast service: read body: %w", err)
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("forecast service: status %d: decode: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if wr.Error == "" {
			wr.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("forecast service: status %d: %s", resp.StatusCode, wr.Error)
	}
	return wr.result()
}

func (wr wireResponse) result() (*Result, error) {
	if len(wr.TestDates) != len(wr.YTest) || len(wr.YTest) != len(wr.YPred) {
		return nil, fmt.Errorf("forecast service: test series length mismatch (%d dates, %d actual, %d predicted)",
			len(wr.TestDates), len(wr.YTest), len(wr.YPred))
	}
	if len(wr.FutureDates) != len(wr.FuturePreds) {
		return nil, fmt.Errorf("forecast service: future series length mismatch (%d dates, %d predicted)",
			len(wr.FutureDates), len(wr.FuturePreds))
	}
	res := &Result{
		Metrics: wr.Metrics,
		Test:    make([]TestPoint, len(wr.YTest)),
		Future:  make([]FuturePoint, len(wr.FuturePreds)),
	}
	for i := range wr.YTest {
		res.Test[i] = TestPoint{Date: wr.TestDates[i], Actual: wr.YTest[i], Predicted: wr.YPred[i]}
	}
	for i := range wr.FuturePreds {
		res.Future[i] = FuturePoint{Date: wr.FutureDates[i], Predicted: wr.FuturePreds[i]}
	}
	return res, nil
}
