package calculator

import "errors"

// CalculateSMA computes the simple moving average of the given prices over the specified period.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// EMASeries returns the exponential moving average for every bar from index
// period-1 onwards. The first value is the SMA of the first period prices and
// the smoothing factor is 2/(period+1).
func EMASeries(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if len(prices) < period {
		return nil, ErrInsufficientData
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(prices)-period+1)
	ema := seed / float64(period)
	out = append(out, ema)
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*k + ema
		out = append(out, ema)
	}
	return out, nil
}
