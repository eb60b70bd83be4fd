package strategy

import (
	"testing"

	"TradeSentinel/internal/calculator"
	"TradeSentinel/internal/model"
)

func bullish() *model.IndicatorSnapshot {
	return &model.IndicatorSnapshot{
		RSI:        35,
		MACD:       0.0002,
		MACDPrev:   -0.0001,
		Signal:     0.0001,
		SignalPrev: 0.0000,
		SMA:        1.0950,
		LastPrice:  1.1000,
	}
}

func bearish() *model.IndicatorSnapshot {
	return &model.IndicatorSnapshot{
		RSI:        75,
		MACD:       -0.0002,
		MACDPrev:   0.0001,
		Signal:     -0.0001,
		SignalPrev: 0.0000,
		SMA:        1.1050,
		LastPrice:  1.1000,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		mutate func() *model.IndicatorSnapshot
		want   model.Signal
	}{
		{"bullish crossover", bullish, model.Buy},
		{"bearish crossover", bearish, model.Sell},
		{"bullish rsi at threshold", func() *model.IndicatorSnapshot {
			s := bullish()
			s.RSI = 40
			return s
		}, model.Hold},
		{"bullish no fresh cross", func() *model.IndicatorSnapshot {
			s := bullish()
			s.MACDPrev = 0.00015
			s.SignalPrev = 0.0001
			return s
		}, model.Hold},
		{"bullish cross from equality", func() *model.IndicatorSnapshot {
			s := bullish()
			s.MACDPrev = s.SignalPrev
			return s
		}, model.Buy},
		{"bullish below sma", func() *model.IndicatorSnapshot {
			s := bullish()
			s.LastPrice = s.SMA
			return s
		}, model.Hold},
		{"bearish rsi at 70", func() *model.IndicatorSnapshot {
			s := bearish()
			s.RSI = 70
			return s
		}, model.Hold},
		{"bearish no fresh cross", func() *model.IndicatorSnapshot {
			s := bearish()
			s.MACDPrev = -0.0003
			s.SignalPrev = -0.0002
			return s
		}, model.Hold},
		{"bearish above sma", func() *model.IndicatorSnapshot {
			s := bearish()
			s.LastPrice = 1.2
			return s
		}, model.Hold},
		{"nil snapshot", func() *model.IndicatorSnapshot { return nil }, model.Hold},
	}
	for _, tt := range tests {
		if got := Classify(tt.mutate(), DefaultBuyThreshold); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	s := bullish()
	first := Classify(s, 40)
	second := Classify(s, 40)
	if first != second {
		t.Errorf("classifier not idempotent: %v then %v", first, second)
	}
	if *s != *bullish() {
		t.Error("classifier mutated the snapshot")
	}
}

func TestThresholds_For(t *testing.T) {
	th := Thresholds{Default: 40, Overrides: map[string]float64{"BTCUSD": 30}}
	if got := th.For("BTCUSD"); got != 30 {
		t.Errorf("override: expected 30, got %v", got)
	}
	if got := th.For("EURUSD"); got != 40 {
		t.Errorf("default: expected 40, got %v", got)
	}
	if got := (Thresholds{}).For("EURUSD"); got != DefaultBuyThreshold {
		t.Errorf("zero value: expected %v, got %v", DefaultBuyThreshold, got)
	}
}

// crossoverCloses rallies, drops, then recovers so the MACD crosses above its
// signal line exactly on the final (100th) bar with RSI near 36.
func crossoverCloses() []float64 {
	closes := make([]float64, 0, 101)
	p := 1000.0
	for i := 0; i < 85; i++ {
		p += 10
		closes = append(closes, p)
	}
	for i := 0; i < 6; i++ {
		p -= 60
		closes = append(closes, p)
	}
	for i := 0; i < 8; i++ {
		p += 20
		closes = append(closes, p)
	}
	return append(closes, p+10)
}

func TestClassify_EdgeTriggered(t *testing.T) {
	closes := crossoverCloses()
	closes = append(closes, closes[len(closes)-1]+20) // bar k+1
	periods := calculator.DefaultPeriods()

	var buys []int
	for n := periods.MinBars(); n <= len(closes); n++ {
		bars := make([]model.OHLCV, n)
		for i := 0; i < n; i++ {
			bars[i] = model.OHLCV{Close: closes[i]}
		}
		snap, err := calculator.Compute(bars, periods)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if Classify(snap, DefaultBuyThreshold) == model.Buy {
			buys = append(buys, n)
		}
	}
	if len(buys) != 1 || buys[0] != 100 {
		t.Errorf("expected a single buy on bar 100, got buys on %v", buys)
	}
}
