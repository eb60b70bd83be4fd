package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/model"
	"TradeSentinel/internal/strategy"
)

// Failure is a broker rejection. It is not fatal: the cycle moves on to the
// next symbol.
type Failure struct {
	Symbol  string
	Code    int
	Message string
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("order for %s rejected: code %d (%s)", f.Symbol, f.Code, f.Message)
	}
	return fmt.Sprintf("order for %s rejected: code %d", f.Symbol, f.Code)
}

// Params are the order and trailing-stop settings.
type Params struct {
	Volume           float64
	SLPips           float64
	TPPips           float64
	TrailTriggerPips float64
	TrailOffsetPips  float64
	ContractSize     float64
	Deviation        int
	Magic            int
	Observe          time.Duration // post-fill observation delay
	Timeout          time.Duration // per broker call
}

// Cooldowns is notified when a fill is confirmed.
type Cooldowns interface {
	MarkTraded(symbol string, at time.Time)
}

// Manager submits orders and turns fills into trade records.
type Manager struct {
	Broker      broker.Broker
	Params      Params
	Instruments Instruments
	Cooldowns   Cooldowns

	Now  func() time.Time
	Wait func(ctx context.Context, d time.Duration)

	logger zerolog.Logger
}

// NewManager creates an execution Manager.
func NewManager(b broker.Broker, params Params, instruments Instruments, cooldowns Cooldowns) *Manager {
	if params.ContractSize == 0 {
		params.ContractSize = 100000
	}
	if params.Timeout == 0 {
		params.Timeout = 10 * time.Second
	}
	return &Manager{
		Broker:      b,
		Params:      params,
		Instruments: instruments,
		Cooldowns:   cooldowns,
		Now:         time.Now,
		Wait:        sleepContext,
		logger:      log.With().Str("component", "execution").Logger(),
	}
}

// BuildOrder prices a market order off the quote: ask for buys, bid for sells,
// with stop-loss and take-profit at fixed pip offsets.
func (m *Manager) BuildOrder(symbol string, side model.Signal, quote model.Quote) *model.Order {
	inst := m.Instruments.Lookup(symbol)
	pip := decimal.NewFromFloat(inst.PipSize)
	sl := pip.Mul(decimal.NewFromFloat(m.Params.SLPips))
	tp := pip.Mul(decimal.NewFromFloat(m.Params.TPPips))

	entry := decimal.NewFromFloat(quote.Ask)
	if side == model.Sell {
		entry = decimal.NewFromFloat(quote.Bid)
		sl, tp = sl.Neg(), tp.Neg()
	}

	return &model.Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Volume:      m.Params.Volume,
		Price:       toFloat(entry, inst.Digits),
		StopLoss:    toFloat(entry.Sub(sl), inst.Digits),
		TakeProfit:  toFloat(entry.Add(tp), inst.Digits),
		Deviation:   m.Params.Deviation,
		Magic:       m.Params.Magic,
		Comment:     "RSI/MACD/SMA " + side.String(),
		StrategyTag: strategy.Tag,
	}
}

// Execute submits one order and, on fill, performs the single trailing-stop
// check. Exactly one TradeRecord is returned per fill. Rejections return a
// *Failure.
//
// The submission and the quote re-read run on a context detached from ctx so
// that an operator stop never abandons an order half way; a cancelled ctx
// only cuts the observation delay short.
func (m *Manager) Execute(ctx context.Context, symbol string, side model.Signal, quote model.Quote) (*model.TradeRecord, error) {
	if side != model.Buy && side != model.Sell {
		return nil, errors.New("execute: signal is not actionable")
	}
	order := m.BuildOrder(symbol, side, quote)
	detached := context.WithoutCancel(ctx)

	submitCtx, cancel := context.WithTimeout(detached, m.Params.Timeout)
	res, err := m.Broker.SubmitOrder(submitCtx, order)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("submit order %s: %w", order.ID, err)
	}
	if res.Status != model.OrderFilled {
		return nil, &Failure{Symbol: symbol, Code: res.Code, Message: res.Message}
	}

	entryTime := m.Now()
	if m.Cooldowns != nil {
		m.Cooldowns.MarkTraded(symbol, entryTime)
	}
	entryPrice := res.Price
	if entryPrice == 0 {
		entryPrice = order.Price
	}
	m.logger.Info().Str("symbol", symbol).Str("side", side.String()).
		Float64("price", entryPrice).Uint64("ticket", res.Ticket).Msg("order filled")

	rec := &model.TradeRecord{
		ID:           order.ID,
		Timestamp:    entryTime,
		Symbol:       symbol,
		Side:         side.String(),
		Volume:       order.Volume,
		Price:        entryPrice,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		Comment:      order.Comment,
		StrategyTag:  order.StrategyTag,
		AdjustedStop: order.StopLoss,
		Ticket:       res.Ticket,
	}

	m.Wait(ctx, m.Params.Observe)

	quoteCtx, cancel := context.WithTimeout(detached, m.Params.Timeout)
	after, err := m.Broker.FetchQuote(quoteCtx, symbol)
	cancel()
	rec.CloseTime = m.Now()
	rec.HoldingSeconds = rec.CloseTime.Sub(entryTime).Seconds()
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("post-fill quote unavailable, trailing check skipped")
		rec.ExitReason = model.ExitQuoteUnavailable
		return rec, nil
	}

	exit := after.Bid
	if side == model.Sell {
		exit = after.Ask
	}
	trail := m.Trail(symbol, side, entryPrice, exit, order.StopLoss)
	rec.TrailingHit = trail.Triggered
	rec.AdjustedStop = trail.AdjustedStop
	rec.PnL = m.PnL(side, entryPrice, exit, order.Volume)
	rec.ExitReason = model.ExitObserved
	if trail.Triggered {
		rec.ExitReason = model.ExitTrailing
	}
	return rec, nil
}

// Trail computes the one-shot trailing adjustment. When the favorable move
// reaches the trigger distance the stop moves to entry ± (move − offset).
func (m *Manager) Trail(symbol string, side model.Signal, entry, exit, stop float64) model.TrailingState {
	inst := m.Instruments.Lookup(symbol)
	pip := decimal.NewFromFloat(inst.PipSize)
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == model.Sell {
		move = move.Neg()
	}
	movePips := move.Div(pip)
	if movePips.LessThan(decimal.NewFromFloat(m.Params.TrailTriggerPips)) {
		return model.TrailingState{AdjustedStop: stop}
	}

	shift := movePips.Sub(decimal.NewFromFloat(m.Params.TrailOffsetPips)).Mul(pip)
	if side == model.Sell {
		shift = shift.Neg()
	}
	adjusted := decimal.NewFromFloat(entry).Add(shift)
	return model.TrailingState{Triggered: true, AdjustedStop: toFloat(adjusted, inst.Digits)}
}

// PnL marks the position to exit, in account currency rounded to cents.
func (m *Manager) PnL(side model.Signal, entry, exit, volume float64) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == model.Sell {
		diff = diff.Neg()
	}
	pnl := diff.Mul(decimal.NewFromFloat(m.Params.ContractSize)).Mul(decimal.NewFromFloat(volume))
	return toFloat(pnl, 2)
}

func toFloat(d decimal.Decimal, digits int32) float64 {
	f, _ := d.Round(digits).Float64()
	return f
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
