// Package indicator augments an OHLCV series with technical indicators, either
// computed in-process or by a remote analysis service.
package indicator

import (
	"context"
	"errors"
	"math"

	"CryptoHarvest/internal/model"
)

// ErrNoData is returned for an empty input series.
var ErrNoData = errors.New("no OHLCV data provided")

// Point holds the indicator values of one day. Nil means the indicator is still
// warming up on that day.
type Point struct {
	Date       model.Date `json:"date"`
	RSI        *float64   `json:"rsi"`
	MACD       *float64   `json:"macd"`
	MACDSignal *float64   `json:"macd_signal"`
	Stoch      *float64   `json:"stoch"`
	StochSig   *float64   `json:"stoch_signal"`
	ADX        *float64   `json:"adx"`
	CCI        *float64   `json:"cci"`
	SMA20      *float64   `json:"sma_20"`
	EMA20      *float64   `json:"ema_20"`
	WMA20      *float64   `json:"wma_20"`
	BBMid      *float64   `json:"bb_mid"`
	BBUpper    *float64   `json:"bb_upper"`
	BBLower    *float64   `json:"bb_lower"`
	VWAP       *float64   `json:"vwap"`

	// DegradedOHLC is copied from the input row. Range-based values (stochastic,
	// ADX, CCI, VWAP) are computed on a flat bar for such days.
	DegradedOHLC bool `json:"degraded_ohlc,omitempty"`
}

// Service computes indicators for a series ordered by date.
type Service interface {
	Compute(ctx context.Context, rows []model.OHLCVRow) ([]Point, error)
}

// Local computes indicators in-process.
type Local struct{}

func NewLocal() Local { return Local{} }

func (Local) Compute(_ context.Context, rows []model.OHLCVRow) ([]Point, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	n := len(rows)
	closes := model.Closes(rows)
	high, low, volume := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, r := range rows {
		high[i] = r.High.InexactFloat64()
		low[i] = r.Low.InexactFloat64()
		volume[i] = r.Volume.InexactFloat64()
	}

	rsi := RSI(closes, 14)
	macd, macdSig := MACD(closes, 12, 26, 9)
	stoch, stochSig := Stochastic(high, low, closes, 14, 3)
	adx := ADX(high, low, closes, 14)
	cci := CCI(high, low, closes, 20)
	sma, ema, wma := SMA(closes, 20), EMA(closes, 20), WMA(closes, 20)
	bbMid, bbUp, bbLow := Bollinger(closes, 20, 2)
	vwap := VWAP(high, low, closes, volume, 14)

	out := make([]Point, n)
	for i, r := range rows {
		out[i] = Point{
			Date:       r.Date,
			RSI:        opt(rsi[i]),
			MACD:       opt(macd[i]),
			MACDSignal: opt(macdSig[i]),
			Stoch:      opt(stoch[i]),
			StochSig:   opt(stochSig[i]),
			ADX:        opt(adx[i]),
			CCI:        opt(cci[i]),
			SMA20:      opt(sma[i]),
			EMA20:      opt(ema[i]),
			WMA20:      opt(wma[i]),
			BBMid:      opt(bbMid[i]),
			BBUpper:    opt(bbUp[i]),
			BBLower:    opt(bbLow[i]),
			VWAP:       opt(vwap[i]),

			DegradedOHLC: r.DegradedOHLC,
		}
	}
	return out, nil
}

func opt(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
