package strategy

import "TradeSentinel/internal/model"

const (
	// Tag identifies this strategy in trade records.
	Tag = "rsi_macd_sma"

	// DefaultBuyThreshold is the RSI cutoff for symbols without an override.
	DefaultBuyThreshold = 40.0

	// OverboughtRSI is the RSI level a sell signal must exceed.
	OverboughtRSI = 70.0
)

// Thresholds maps symbols to their RSI buy cutoff.
type Thresholds struct {
	Default   float64
	Overrides map[string]float64
}

// For returns the override for symbol, or the default when none is set.
func (t Thresholds) For(symbol string) float64 {
	if v, ok := t.Overrides[symbol]; ok {
		return v
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultBuyThreshold
}

// Classify maps a snapshot to a trading signal. Both directions require a
// fresh MACD/signal crossover on the last bar, so a trend that persists does
// not re-fire.
func Classify(snap *model.IndicatorSnapshot, threshold float64) model.Signal {
	if snap == nil {
		return model.Hold
	}
	if snap.RSI < threshold && bullishCross(snap) && snap.LastPrice > snap.SMA {
		return model.Buy
	}
	if snap.RSI > OverboughtRSI && bearishCross(snap) && snap.LastPrice < snap.SMA {
		return model.Sell
	}
	return model.Hold
}

func bullishCross(s *model.IndicatorSnapshot) bool {
	return s.MACD > s.Signal && s.MACDPrev <= s.SignalPrev
}

func bearishCross(s *model.IndicatorSnapshot) bool {
	return s.MACD < s.Signal && s.MACDPrev >= s.SignalPrev
}
