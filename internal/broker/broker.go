// Package broker defines the market/broker capability consumed by the trading
// loop and its implementations.
package broker

import (
	"context"
	"errors"

	"TradeSentinel/internal/model"
)

// ErrUnavailable marks a failed market data read. It is transient: the symbol
// is skipped for the current cycle.
var ErrUnavailable = errors.New("market data unavailable")

// MarketData fetches bars and quotes.
type MarketData interface {
	FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]model.OHLCV, error)
	FetchQuote(ctx context.Context, symbol string) (model.Quote, error)
}

// Broker is the full terminal capability.
type Broker interface {
	MarketData
	SubmitOrder(ctx context.Context, order *model.Order) (*model.OrderResult, error)
	Name() string
}

// Pinger is implemented by brokers that can verify their session at startup.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AccountReader is implemented by brokers that report account equity.
type AccountReader interface {
	Equity(ctx context.Context) (float64, error)
}
