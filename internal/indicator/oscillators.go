package indicator

import "math"

// RSI is the Wilder-smoothed relative strength index. The first value appears at
// index period.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD returns the fast-minus-slow EMA line and its signal EMA.
func MACD(closes []float64, fast, slow, signal int) (line, sig []float64) {
	f, s := EMA(closes, fast), EMA(closes, slow)
	line = nanSeries(len(closes))
	for i := range closes {
		if !math.IsNaN(f[i]) && !math.IsNaN(s[i]) {
			line[i] = f[i] - s[i]
		}
	}
	return line, EMA(line, signal)
}

// Stochastic returns %K over period and its smooth-period SMA (%D).
func Stochastic(high, low, closes []float64, period, smooth int) (k, d []float64) {
	k = nanSeries(len(closes))
	for i := period - 1; i >= 0 && i < len(closes); i++ {
		hh, ll := math.Inf(-1), math.Inf(1)
		for j := i - period + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = (closes[i] - ll) / (hh - ll) * 100
	}
	d = nanSeries(len(closes))
	for i := period + smooth - 2; i >= 0 && i < len(closes); i++ {
		sum := 0.0
		for j := i - smooth + 1; j <= i; j++ {
			sum += k[j]
		}
		d[i] = sum / float64(smooth)
	}
	return k, d
}

// CCI is the commodity channel index over the typical price.
func CCI(high, low, closes []float64, period int) []float64 {
	tp := typical(high, low, closes)
	mean := SMA(tp, period)
	out := nanSeries(len(closes))
	for i := period - 1; i >= 0 && i < len(closes); i++ {
		dev := 0.0
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - mean[i])
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (tp[i] - mean[i]) / (0.015 * dev)
	}
	return out
}

// ADX is Wilder's average directional index. The first value appears at index
// 2*period-1.
func ADX(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < 2*period {
		return out
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
		up, down := high[i]-high[i-1], low[i-1]-low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}
	dx := func() float64 {
		if sTR == 0 {
			return 0
		}
		pdi, mdi := 100*sPlus/sTR, 100*sMinus/sTR
		if pdi+mdi == 0 {
			return 0
		}
		return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}

	p := float64(period)
	dxSum := dx()
	for i := period + 1; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		v := dx()
		switch {
		case i < 2*period-1:
			dxSum += v
		case i == 2*period-1:
			dxSum += v
			out[i] = dxSum / p
		default:
			out[i] = (out[i-1]*(p-1) + v) / p
		}
	}
	return out
}

// VWAP is the rolling volume-weighted typical price over period.
func VWAP(high, low, closes, volume []float64, period int) []float64 {
	tp := typical(high, low, closes)
	out := nanSeries(len(closes))
	for i := period - 1; i >= 0 && i < len(closes); i++ {
		var pv, v float64
		for j := i - period + 1; j <= i; j++ {
			pv += tp[j] * volume[j]
			v += volume[j]
		}
		if v > 0 {
			out[i] = pv / v
		}
	}
	return out
}

func typical(high, low, closes []float64) []float64 {
	tp := make([]float64, len(closes))
	for i := range closes {
		tp[i] = (high[i] + low[i] + closes[i]) / 3
	}
	return tp
}
