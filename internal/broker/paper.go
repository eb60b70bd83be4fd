package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"TradeSentinel/internal/model"
)

// PaperBroker fills every order against the live quote of its feed without
// touching a real account.
type PaperBroker struct {
	Feed   MarketData
	ticket atomic.Uint64
}

// NewPaperBroker creates a paper broker over the given market data feed.
func NewPaperBroker(feed MarketData) *PaperBroker {
	return &PaperBroker{Feed: feed}
}

func (p *PaperBroker) Name() string { return "paper" }

func (p *PaperBroker) FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]model.OHLCV, error) {
	return p.Feed.FetchBars(ctx, symbol, timeframe, count)
}

func (p *PaperBroker) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	return p.Feed.FetchQuote(ctx, symbol)
}

// SubmitOrder fills at the current ask (buy) or bid (sell). Orders with a
// non-positive volume are rejected with code 10014, like the terminal does.
func (p *PaperBroker) SubmitOrder(ctx context.Context, order *model.Order) (*model.OrderResult, error) {
	if order.Volume <= 0 {
		return &model.OrderResult{Status: model.OrderRejected, Code: 10014, Message: "invalid volume", Time: time.Now()}, nil
	}
	q, err := p.Feed.FetchQuote(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("paper fill quote: %w", err)
	}
	price := q.Ask
	if order.Side == model.Sell {
		price = q.Bid
	}
	return &model.OrderResult{
		Status:  model.OrderFilled,
		Code:    RetcodeDone,
		Price:   price,
		Ticket:  p.ticket.Add(1),
		Message: "paper fill",
		Time:    time.Now(),
	}, nil
}
