package model

// IndicatorSnapshot holds the indicators computed from one bar window.
// Prev fields refer to the bar before the last one and drive crossover detection.
type IndicatorSnapshot struct {
	Symbol     string
	RSI        float64
	MACD       float64
	MACDPrev   float64
	Signal     float64
	SignalPrev float64
	SMA        float64
	LastPrice  float64
}
