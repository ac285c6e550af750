package indicator

import "math"

// Series functions return one value per input; warm-up positions hold NaN.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over period.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average with alpha 2/(period+1), seeded with the
// first value and reported once period values have been seen. NaN inputs are
// skipped until the first real value.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	ema, seen := 0.0, 0
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if seen == 0 {
			ema = v
		} else {
			ema = alpha*v + (1-alpha)*ema
		}
		seen++
		if seen >= period {
			out[i] = ema
		}
	}
	return out
}

// WMA is the linearly weighted moving average; the newest value weighs period.
func WMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// Bollinger returns the middle, upper and lower bands using the population
// standard deviation.
func Bollinger(values []float64, period int, k float64) (mid, upper, lower []float64) {
	mid = SMA(values, period)
	upper, lower = nanSeries(len(values)), nanSeries(len(values))
	for i := period - 1; i >= 0 && i < len(values); i++ {
		m := mid[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - m
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = m + k*sd
		lower[i] = m - k*sd
	}
	return mid, upper, lower
}
