package calculator

import (
	"errors"
	"fmt"

	"TradeSentinel/internal/model"
)

// ErrInsufficientData is returned when the bar window is too short for the
// requested periods.
var ErrInsufficientData = errors.New("insufficient data")

// Periods are the indicator lookbacks used by Compute.
type Periods struct {
	RSI       int `yaml:"rsi"`
	FastEMA   int `yaml:"fast_ema"`
	SlowEMA   int `yaml:"slow_ema"`
	SignalEMA int `yaml:"signal_ema"`
	SMA       int `yaml:"sma"`
}

// DefaultPeriods returns RSI(14), MACD(12,26,9) and SMA(50).
func DefaultPeriods() Periods {
	return Periods{RSI: 14, FastEMA: 12, SlowEMA: 26, SignalEMA: 9, SMA: 50}
}

// MinBars is the shortest window Compute accepts.
func (p Periods) MinBars() int {
	longest := p.RSI
	for _, v := range []int{p.FastEMA, p.SlowEMA, p.SignalEMA, p.SMA} {
		if v > longest {
			longest = v
		}
	}
	need := longest + 1
	if p.SlowEMA+p.SignalEMA > need {
		need = p.SlowEMA + p.SignalEMA
	}
	return need
}

// Compute derives an IndicatorSnapshot from a bar window ordered oldest first.
// It never returns a partial snapshot.
func Compute(bars []model.OHLCV, p Periods) (*model.IndicatorSnapshot, error) {
	if p.RSI <= 0 || p.FastEMA <= 0 || p.SlowEMA <= 0 || p.SignalEMA <= 0 || p.SMA <= 0 {
		return nil, errors.New("periods must be positive")
	}
	if len(bars) < p.MinBars() {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientData, len(bars), p.MinBars())
	}

	closes := extractCloses(bars)

	rsi, err := CalculateRSI(closes, p.RSI)
	if err != nil {
		return nil, fmt.Errorf("rsi: %w", err)
	}
	macd, err := CalculateMACD(closes, p.FastEMA, p.SlowEMA, p.SignalEMA)
	if err != nil {
		return nil, fmt.Errorf("macd: %w", err)
	}
	sma, err := CalculateSMA(closes, p.SMA)
	if err != nil {
		return nil, fmt.Errorf("sma: %w", err)
	}

	return &model.IndicatorSnapshot{
		RSI:        rsi,
		MACD:       macd.MACD,
		MACDPrev:   macd.MACDPrev,
		Signal:     macd.Signal,
		SignalPrev: macd.SignalPrev,
		SMA:        sma,
		LastPrice:  closes[len(closes)-1],
	}, nil
}

func extractCloses(bars []model.OHLCV) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
