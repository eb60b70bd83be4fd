package calculator

import "errors"

// MACDResult holds the last two values of the MACD and signal lines.
type MACDResult struct {
	MACD       float64
	MACDPrev   float64
	Signal     float64
	SignalPrev float64
}

// CalculateMACD computes the MACD line (fast EMA minus slow EMA) and its
// signal line. At least slow+signal prices are needed so that both lines have
// a previous value.
func CalculateMACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDResult{}, errors.New("periods must be positive")
	}
	if fast >= slow {
		return MACDResult{}, errors.New("fast period must be shorter than slow period")
	}
	if len(closes) < slow+signal {
		return MACDResult{}, ErrInsufficientData
	}

	fastEMA, err := EMASeries(closes, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMASeries(closes, slow)
	if err != nil {
		return MACDResult{}, err
	}

	// Both series end on the last bar; fastEMA starts slow-fast bars earlier.
	offset := slow - fast
	macd := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macd[i] = fastEMA[i+offset] - slowEMA[i]
	}

	sig, err := EMASeries(macd, signal)
	if err != nil {
		return MACDResult{}, err
	}

	n, m := len(macd), len(sig)
	return MACDResult{
		MACD:       macd[n-1],
		MACDPrev:   macd[n-2],
		Signal:     sig[m-1],
		SignalPrev: sig[m-2],
	}, nil
}
