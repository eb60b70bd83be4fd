package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/model"
	"TradeSentinel/internal/strategy"
)

// fakeBroker fills or rejects according to result and serves quotes in order.
type fakeBroker struct {
	result       *model.OrderResult
	err          error
	quotes       []model.Quote
	quoteErr     error
	orders       []*model.Order
	submitCtxErr error
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) FetchBars(context.Context, string, string, int) ([]model.OHLCV, error) {
	return nil, broker.ErrUnavailable
}

func (f *fakeBroker) FetchQuote(_ context.Context, _ string) (model.Quote, error) {
	if f.quoteErr != nil {
		return model.Quote{}, f.quoteErr
	}
	q := f.quotes[0]
	if len(f.quotes) > 1 {
		f.quotes = f.quotes[1:]
	}
	return q, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, o *model.Order) (*model.OrderResult, error) {
	f.orders = append(f.orders, o)
	f.submitCtxErr = ctx.Err()
	return f.result, f.err
}

type cooldownSpy struct {
	marked map[string]time.Time
}

func (c *cooldownSpy) MarkTraded(symbol string, at time.Time) {
	if c.marked == nil {
		c.marked = make(map[string]time.Time)
	}
	c.marked[symbol] = at
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestManager(b *fakeBroker, spy *cooldownSpy) *Manager {
	m := NewManager(b, Params{
		Volume:           0.1,
		SLPips:           10,
		TPPips:           10,
		TrailTriggerPips: 5,
		TrailOffsetPips:  3,
		ContractSize:     100000,
		Deviation:        10,
		Magic:            123456,
		Observe:          5 * time.Second,
	}, Instruments{"USDJPY": {PipSize: 0.01, Digits: digits(3)}}, spy)
	now := t0
	m.Now = func() time.Time {
		cur := now
		now = now.Add(5 * time.Second)
		return cur
	}
	m.Wait = func(context.Context, time.Duration) {}
	return m
}

func TestBuildOrder(t *testing.T) {
	m := newTestManager(&fakeBroker{}, &cooldownSpy{})
	q := model.Quote{Bid: 1.10000, Ask: 1.10020}

	buy := m.BuildOrder("EURUSD", model.Buy, q)
	if buy.Price != 1.1002 || buy.StopLoss != 1.0992 || buy.TakeProfit != 1.1012 {
		t.Errorf("unexpected buy levels %+v", buy)
	}
	if buy.StrategyTag != strategy.Tag || buy.ID == "" || buy.Magic != 123456 {
		t.Errorf("unexpected buy metadata %+v", buy)
	}

	sell := m.BuildOrder("EURUSD", model.Sell, q)
	if sell.Price != 1.1 || sell.StopLoss != 1.101 || sell.TakeProfit != 1.099 {
		t.Errorf("unexpected sell levels %+v", sell)
	}

	jpy := m.BuildOrder("USDJPY", model.Buy, model.Quote{Bid: 150.000, Ask: 150.020})
	if jpy.StopLoss != 149.92 || jpy.TakeProfit != 150.12 {
		t.Errorf("unexpected JPY levels %+v", jpy)
	}
}

func TestExecute_TrailingHit(t *testing.T) {
	b := &fakeBroker{
		result: &model.OrderResult{Status: model.OrderFilled, Code: broker.RetcodeDone, Price: 1.1002, Ticket: 7},
		quotes: []model.Quote{{Bid: 1.1010, Ask: 1.1012}},
	}
	spy := &cooldownSpy{}
	m := newTestManager(b, spy)

	rec, err := m.Execute(context.Background(), "EURUSD", model.Buy, model.Quote{Bid: 1.1000, Ask: 1.1002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.TrailingHit || rec.AdjustedStop != 1.1007 || rec.ExitReason != model.ExitTrailing {
		t.Errorf("expected trailing stop at 1.1007, got %+v", rec)
	}
	if rec.PnL != 8 {
		t.Errorf("expected pnl 8, got %v", rec.PnL)
	}
	if rec.StrategyTag != "rsi_macd_sma" || rec.Side != "buy" || rec.Ticket != 7 {
		t.Errorf("unexpected record metadata %+v", rec)
	}
	if rec.HoldingSeconds != 5 || !rec.Timestamp.Equal(t0) {
		t.Errorf("unexpected timing: ts=%v hold=%v", rec.Timestamp, rec.HoldingSeconds)
	}
	if !spy.marked["EURUSD"].Equal(t0) {
		t.Errorf("expected cooldown started at fill time, got %v", spy.marked)
	}
	if len(b.orders) != 1 {
		t.Errorf("expected one submission, got %d", len(b.orders))
	}
}

func TestExecute_NoFavorableMove(t *testing.T) {
	b := &fakeBroker{
		result: &model.OrderResult{Status: model.OrderFilled, Code: broker.RetcodeDone, Price: 1.1002},
		quotes: []model.Quote{{Bid: 1.0998, Ask: 1.1000}},
	}
	m := newTestManager(b, &cooldownSpy{})

	rec, err := m.Execute(context.Background(), "EURUSD", model.Buy, model.Quote{Bid: 1.1000, Ask: 1.1002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.TrailingHit || rec.AdjustedStop != rec.StopLoss || rec.ExitReason != model.ExitObserved {
		t.Errorf("expected untouched stop, got %+v", rec)
	}
	if rec.PnL != -4 {
		t.Errorf("expected pnl -4, got %v", rec.PnL)
	}
}

func TestExecute_SellTrailing(t *testing.T) {
	b := &fakeBroker{
		result: &model.OrderResult{Status: model.OrderFilled, Code: broker.RetcodeDone, Price: 1.1000},
		quotes: []model.Quote{{Bid: 1.0988, Ask: 1.0990}},
	}
	m := newTestManager(b, &cooldownSpy{})

	rec, err := m.Execute(context.Background(), "EURUSD", model.Sell, model.Quote{Bid: 1.1000, Ask: 1.1002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10 pips in favor: stop to 1.1000 - 7 pips.
	if !rec.TrailingHit || rec.AdjustedStop != 1.0993 {
		t.Errorf("expected sell trailing stop at 1.0993, got %+v", rec)
	}
	if rec.PnL != 10 {
		t.Errorf("expected pnl 10, got %v", rec.PnL)
	}
}

func TestExecute_Rejected(t *testing.T) {
	b := &fakeBroker{result: &model.OrderResult{Status: model.OrderRejected, Code: 10019, Message: "no money"}}
	spy := &cooldownSpy{}
	m := newTestManager(b, spy)

	rec, err := m.Execute(context.Background(), "EURUSD", model.Buy, model.Quote{Bid: 1.1, Ask: 1.1002})
	var fail *Failure
	if !errors.As(err, &fail) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if fail.Code != 10019 || rec != nil {
		t.Errorf("unexpected failure %+v, record %+v", fail, rec)
	}
	if len(spy.marked) != 0 {
		t.Error("rejected order must not start a cooldown")
	}
}

func TestExecute_QuoteUnavailableStillRecords(t *testing.T) {
	b := &fakeBroker{
		result:   &model.OrderResult{Status: model.OrderFilled, Code: broker.RetcodeDone, Price: 1.1002},
		quoteErr: broker.ErrUnavailable,
	}
	m := newTestManager(b, &cooldownSpy{})

	rec, err := m.Execute(context.Background(), "EURUSD", model.Buy, model.Quote{Bid: 1.1, Ask: 1.1002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ExitReason != model.ExitQuoteUnavailable || rec.TrailingHit || rec.AdjustedStop != rec.StopLoss {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestExecute_CancelledContextStillSubmits(t *testing.T) {
	b := &fakeBroker{
		result: &model.OrderResult{Status: model.OrderFilled, Code: broker.RetcodeDone, Price: 1.1002},
		quotes: []model.Quote{{Bid: 1.1003, Ask: 1.1005}},
	}
	m := newTestManager(b, &cooldownSpy{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := m.Execute(ctx, "EURUSD", model.Buy, model.Quote{Bid: 1.1, Ask: 1.1002})
	if err != nil || rec == nil {
		t.Fatalf("expected record despite cancellation, got %v", err)
	}
	if b.submitCtxErr != nil {
		t.Errorf("submission context must be detached, got %v", b.submitCtxErr)
	}
}

func TestExecute_HoldIsError(t *testing.T) {
	m := newTestManager(&fakeBroker{}, &cooldownSpy{})
	if _, err := m.Execute(context.Background(), "EURUSD", model.Hold, model.Quote{}); err == nil {
		t.Error("expected error for hold")
	}
}

func digits(n int32) *int32 { return &n }

func TestInstruments_Lookup(t *testing.T) {
	in := Instruments{
		"USDJPY": {PipSize: 0.01, Digits: digits(3)},
		"BTCUSD": {PipSize: 1},
		"US30":   {PipSize: 1, Digits: digits(0)},
	}
	tests := []struct {
		symbol string
		want   Instrument
	}{
		{"EURUSD", DefaultInstrument},
		{"USDJPY", Instrument{PipSize: 0.01, Digits: 3}},
		{"BTCUSD", Instrument{PipSize: 1, Digits: DefaultInstrument.Digits}},
		{"US30", Instrument{PipSize: 1, Digits: 0}},
	}
	for _, tt := range tests {
		if got := in.Lookup(tt.symbol); got != tt.want {
			t.Errorf("Lookup(%s) = %+v, want %+v", tt.symbol, got, tt.want)
		}
	}
}

func TestBuildOrder_WholeUnitInstrument(t *testing.T) {
	m := newTestManager(&fakeBroker{}, &cooldownSpy{})
	m.Instruments = Instruments{"US30": {PipSize: 1, Digits: digits(0)}}

	o := m.BuildOrder("US30", model.Buy, model.Quote{Bid: 39000.4, Ask: 39001.6})
	if o.Price != 39002 || o.StopLoss != 38992 || o.TakeProfit != 39012 {
		t.Errorf("expected whole-unit prices 39002/38992/39012, got %v/%v/%v", o.Price, o.StopLoss, o.TakeProfit)
	}
}
