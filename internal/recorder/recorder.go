package recorder

import "TradeSentinel/internal/model"

// Recorder persists the outcome of each decision. Implementations append
// only; history is never rewritten.
type Recorder interface {
	RecordTrade(rec *model.TradeRecord) error
	RecordSkipped(s *model.SkippedSignal) error
	Close() error
}

// TradeReader returns the most recent trades in insertion order.
type TradeReader interface {
	LastTrades(n int) ([]model.TradeRecord, error)
}
