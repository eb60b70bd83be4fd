package collector

import (
	"context"
	"fmt"
	"time"

	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/calculator"
	"TradeSentinel/internal/model"
)

// Collector fetches a bar window for a symbol and computes its indicators.
type Collector struct {
	Market    broker.MarketData
	Timeframe string
	Lookback  int
	Periods   calculator.Periods
	Timeout   time.Duration
}

// NewCollector creates a new Collector.
func NewCollector(market broker.MarketData, timeframe string, lookback int, periods calculator.Periods, timeout time.Duration) *Collector {
	return &Collector{
		Market:    market,
		Timeframe: timeframe,
		Lookback:  lookback,
		Periods:   periods,
		Timeout:   timeout,
	}
}

// Collect fetches the latest bars and computes the indicator snapshot.
// Errors wrap broker.ErrUnavailable or calculator.ErrInsufficientData.
func (c *Collector) Collect(ctx context.Context, symbol string) (*model.IndicatorSnapshot, error) {
	fetchCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	bars, err := c.Market.FetchBars(fetchCtx, symbol, c.Timeframe, c.Lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}

	snap, err := calculator.Compute(bars, c.Periods)
	if err != nil {
		return nil, fmt.Errorf("compute indicators: %w", err)
	}
	snap.Symbol = symbol
	return snap, nil
}
