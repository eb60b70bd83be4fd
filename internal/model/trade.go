package model

import "time"

// Exit reasons written to the trade log.
const (
	ExitTrailing         = "trailing"
	ExitObserved         = "observed"
	ExitQuoteUnavailable = "quote_unavailable"
)

// TradeRecord is one row of the append-only trade log.
type TradeRecord struct {
	ID             string    `json:"trade_id"`
	Timestamp      time.Time `json:"timestamp"`
	CloseTime      time.Time `json:"close_time"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Volume         float64   `json:"volume"`
	Price          float64   `json:"price"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	PnL            float64   `json:"pnl"`
	HoldingSeconds float64   `json:"holding_seconds"`
	Comment        string    `json:"comment"`
	StrategyTag    string    `json:"strategy_tag"`
	ExitReason     string    `json:"exit_reason"`
	TrailingHit    bool      `json:"trailing_hit"`
	AdjustedStop   float64   `json:"adjusted_stop"`
	Ticket         uint64    `json:"ticket"`
}

// SkippedSignal records a signal that was gated or failed to execute.
type SkippedSignal struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Reason    string    `json:"reason"`
}
