package strategy

import "math"

// SMA of the last n values; NaN when fewer are available.
func SMA(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// StdDev is the sample standard deviation of the last n values.
func StdDev(values []float64, n int) float64 {
	if n <= 1 || len(values) < n {
		return math.NaN()
	}
	mean := SMA(values, n)
	acc := 0.0
	for _, v := range values[len(values)-n:] {
		acc += (v - mean) * (v - mean)
	}
	return math.Sqrt(acc / float64(n-1))
}

// RSI over the last period price changes using simple averages of gains and
// losses. A window without losses reads 100.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return math.NaN()
	}
	window := values[len(values)-period-1:]
	gain, loss := 0.0, 0.0
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - 100/(1+rs)
}

// Returns are the simple returns of the last n+1 values.
func Returns(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n+1 {
		return nil
	}
	window := values[len(values)-n-1:]
	out := make([]float64, 0, n)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, window[i]/window[i-1]-1)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
