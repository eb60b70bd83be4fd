package model

import "time"

// OrderStatus is the broker's verdict on a submitted order.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
)

// Order is a market order built right before submission.
type Order struct {
	ID          string
	Symbol      string
	Side        Signal
	Volume      float64
	Price       float64
	StopLoss    float64
	TakeProfit  float64
	Deviation   int
	Magic       int
	Comment     string
	StrategyTag string
}

// OrderResult is the broker acknowledgement for an Order.
type OrderResult struct {
	Status  OrderStatus
	Code    int
	Price   float64 // fill price, zero when rejected
	Ticket  uint64
	Message string
	Time    time.Time
}

// TrailingState is the outcome of the single post-fill trailing check.
type TrailingState struct {
	Triggered    bool
	AdjustedStop float64
}
