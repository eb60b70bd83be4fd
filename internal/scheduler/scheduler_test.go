package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/calculator"
	"TradeSentinel/internal/collector"
	"TradeSentinel/internal/execution"
	"TradeSentinel/internal/model"
	"TradeSentinel/internal/notifier"
	"TradeSentinel/internal/recorder"
	"TradeSentinel/internal/risk"
	"TradeSentinel/internal/strategy"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// crossoverBars rallies, drops, then recovers so that the MACD crosses its
// signal line on the last bar with RSI near 36 and price above the SMA.
func crossoverBars() []model.OHLCV {
	closes := make([]float64, 0, 100)
	p := 1000.0
	for i := 0; i < 85; i++ {
		p += 10
		closes = append(closes, p)
	}
	for i := 0; i < 6; i++ {
		p -= 60
		closes = append(closes, p)
	}
	for i := 0; i < 8; i++ {
		p += 20
		closes = append(closes, p)
	}
	closes = append(closes, p+10)

	bars := make([]model.OHLCV, len(closes))
	for i, c := range closes {
		c /= 1000
		bars[i] = model.OHLCV{
			Time:  t0.Add(time.Duration(i-len(closes)) * 5 * time.Minute),
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	return bars
}

type fakeBroker struct {
	mu        sync.Mutex
	bars      map[string][]model.OHLCV
	pre, post model.Quote
	reject    int
	submitErr error
	filled    bool
	fetches   int
	orders    []*model.Order
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) FetchBars(_ context.Context, symbol, _ string, count int) ([]model.OHLCV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, broker.ErrUnavailable)
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (f *fakeBroker) FetchQuote(_ context.Context, symbol string) (model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filled {
		f.filled = false
		return f.post, nil
	}
	return f.pre, nil
}

func (f *fakeBroker) SubmitOrder(_ context.Context, o *model.Order) (*model.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.reject != 0 {
		return &model.OrderResult{Status: model.OrderRejected, Code: f.reject, Message: "not enough money"}, nil
	}
	f.filled = true
	return &model.OrderResult{Status: model.OrderFilled, Code: broker.RetcodeDone, Price: o.Price, Ticket: uint64(len(f.orders))}, nil
}

func (f *fakeBroker) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// equityBroker also reports account equity.
type equityBroker struct {
	*fakeBroker
	equity float64
}

func (e *equityBroker) Equity(context.Context) (float64, error) { return e.equity, nil }

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

type recordingCommitter struct{ messages []string }

func (r *recordingCommitter) Commit(_ context.Context, msg string) error {
	r.messages = append(r.messages, msg)
	return nil
}

type harness struct {
	sched     *Scheduler
	broker    *fakeBroker
	store     *recorder.CSVStore
	guard     *risk.Guard
	notes     *recordingNotifier
	committer *recordingCommitter
	now       time.Time
}

func newHarness(t *testing.T, b broker.Broker, fb *fakeBroker, policy risk.BreachPolicy, symbols ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := recorder.NewCSVStore(filepath.Join(dir, "trades.csv"), filepath.Join(dir, "skipped.csv"))
	if err != nil {
		t.Fatal(err)
	}
	guard, err := risk.NewGuard(risk.Options{
		CooldownMinutes: 30,
		MaxDrawdownPct:  0.10,
		StartingEquity:  10000,
		Policy:          policy,
	})
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{broker: fb, store: store, guard: guard, notes: &recordingNotifier{}, committer: &recordingCommitter{}, now: t0}
	clock := func() time.Time { return h.now }

	exec := execution.NewManager(b, execution.Params{
		Volume: 0.1, SLPips: 10, TPPips: 10,
		TrailTriggerPips: 5, TrailOffsetPips: 3,
		Observe: time.Minute,
	}, nil, guard)
	exec.Now = clock
	exec.Wait = func(context.Context, time.Duration) {}

	h.sched = NewScheduler(context.Background(), Deps{
		Broker:    b,
		Collector: collector.NewCollector(b, "M5", 100, calculator.DefaultPeriods(), time.Second),
		Guard:     guard,
		Executor:  exec,
		Recorder:  store,
		Trades:    store,
		Notifier:  h.notes,
		Committer: h.committer,
	}, Options{
		Symbols:    symbols,
		Thresholds: strategy.Thresholds{Default: strategy.DefaultBuyThreshold},
		Interval:   time.Minute,
	})
	h.sched.Now = clock
	return h
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		bars: map[string][]model.OHLCV{
			"EURUSD": crossoverBars(),
			"GBPUSD": crossoverBars()[:20],
		},
		pre:  model.Quote{Symbol: "EURUSD", Bid: 1.6600, Ask: 1.6602},
		post: model.Quote{Symbol: "EURUSD", Bid: 1.6610, Ask: 1.6612},
	}
}

func TestRunCycle_EndToEnd(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD", "GBPUSD", "USDCHF")

	h.sched.RunCycle()

	if fb.orderCount() != 1 {
		t.Fatalf("expected one order, got %d", fb.orderCount())
	}
	order := fb.orders[0]
	if order.Side != model.Buy || order.Symbol != "EURUSD" || order.Price != 1.6602 {
		t.Errorf("unexpected order %+v", order)
	}

	trades, err := h.store.ReadTrades()
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected one trade record, got %d", len(trades))
	}
	rec := trades[0]
	if rec.StrategyTag != "rsi_macd_sma" || rec.Side != "buy" || rec.Symbol != "EURUSD" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.TrailingHit || rec.AdjustedStop != 1.6607 || rec.PnL != 8 {
		t.Errorf("expected trailing stop at 1.6607 and pnl 8, got %+v", rec)
	}

	rep := h.sched.Report()
	if rep.Evaluated != 1 || rep.Trades != 1 || rep.Errors != 2 || rep.Skipped != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if rep.Risk.CurrentEquity != 10008 {
		t.Errorf("expected equity 10008 after settle, got %v", rep.Risk.CurrentEquity)
	}
	if len(h.notes.subjects) != 1 || h.notes.subjects[0] != "BUY EURUSD filled" {
		t.Errorf("unexpected notifications %v", h.notes.subjects)
	}
	if len(h.committer.messages) != 1 {
		t.Errorf("expected one log commit, got %v", h.committer.messages)
	}
}

func TestRunCycle_Cooldown(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD")

	h.sched.RunCycle()
	h.now = t0.Add(15 * time.Minute)
	h.sched.RunCycle()

	if fb.orderCount() != 1 {
		t.Fatalf("cooldown should block the second order, got %d orders", fb.orderCount())
	}
	skipped, err := h.store.ReadSkipped()
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 1 || skipped[0].Reason != risk.ReasonCooldown || skipped[0].Side != "buy" {
		t.Errorf("unexpected skipped log %+v", skipped)
	}

	h.now = t0.Add(31 * time.Minute)
	h.sched.RunCycle()
	if fb.orderCount() != 2 {
		t.Errorf("expected a new order after cooldown, got %d", fb.orderCount())
	}
}

func TestRunCycle_Rejection(t *testing.T) {
	fb := newFakeBroker()
	fb.reject = 10019
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD")

	h.sched.RunCycle()

	trades, _ := h.store.ReadTrades()
	if len(trades) != 0 {
		t.Errorf("rejection must not produce a trade record, got %d", len(trades))
	}
	skipped, _ := h.store.ReadSkipped()
	if len(skipped) != 1 || skipped[0].Reason != "order rejected (code 10019)" {
		t.Errorf("unexpected skipped log %+v", skipped)
	}
	if len(h.notes.subjects) != 1 || h.notes.subjects[0] != "BUY EURUSD rejected" {
		t.Errorf("unexpected notifications %v", h.notes.subjects)
	}
	if _, ok := h.guard.State().LastTradeTime["EURUSD"]; ok {
		t.Error("rejection must not start a cooldown")
	}
	if len(h.committer.messages) != 0 {
		t.Error("nothing to commit after a rejection")
	}
}

func breachAlerts(subjects []string) int {
	n := 0
	for _, s := range subjects {
		if strings.Contains(s, "circuit breaker") {
			n++
		}
	}
	return n
}

func TestRunCycle_DrawdownBreach(t *testing.T) {
	tests := []struct {
		name        string
		policy      risk.BreachPolicy
		wantOrders  int
		wantSkipped int
	}{
		{"alert keeps trading", risk.PolicyAlert, 3, 0},
		{"halt blocks orders", risk.PolicyHalt, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBroker()
			// Account smaller than the configured starting equity of 10000.
			eb := &equityBroker{fakeBroker: fb, equity: 5000}
			h := newHarness(t, eb, fb, tt.policy, "EURUSD")

			h.sched.RunCycle()
			if n := breachAlerts(h.notes.subjects); n != 0 {
				t.Fatalf("flat account must not trip the breaker, got %v", h.notes.subjects)
			}
			if st := h.guard.State(); st.Equity != 5000 || st.Breached {
				t.Fatalf("expected reference equity from the account, got %+v", st)
			}

			eb.equity = 4000
			h.now = t0.Add(time.Hour)
			h.sched.RunCycle()
			h.now = t0.Add(2 * time.Hour)
			h.sched.RunCycle()

			if n := breachAlerts(h.notes.subjects); n != 1 {
				t.Errorf("expected exactly one breach alert, got %v", h.notes.subjects)
			}
			if fb.orderCount() != tt.wantOrders {
				t.Errorf("expected %d orders, got %d", tt.wantOrders, fb.orderCount())
			}
			skipped, _ := h.store.ReadSkipped()
			if len(skipped) != tt.wantSkipped {
				t.Fatalf("expected %d skipped records, got %+v", tt.wantSkipped, skipped)
			}
			for _, sk := range skipped {
				if sk.Reason != risk.ReasonBreaker {
					t.Errorf("unexpected skip reason %q", sk.Reason)
				}
			}
		})
	}
}

func TestRunCycle_ResetBreakerCommand(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyHalt, "EURUSD")
	h.guard.Settle(-1100)

	h.sched.RunCycle()
	if fb.orderCount() != 0 {
		t.Fatalf("halted breaker should block orders, got %d", fb.orderCount())
	}

	if reply := h.sched.HandleCommand("/resetbreaker"); !strings.Contains(reply, "next cycle") {
		t.Errorf("unexpected reply %q", reply)
	}
	if !h.guard.State().Breached {
		t.Error("reset must wait for the next cycle")
	}

	h.sched.RunCycle()
	if fb.orderCount() != 1 {
		t.Errorf("expected trading to resume after reset, got %d orders", fb.orderCount())
	}
	if st := h.guard.State(); st.Breached || st.Equity != 8908 {
		t.Errorf("expected tracking restarted from 8900 plus the new fill, got %+v", st)
	}
}

func TestRunCycle_SubmitFailure(t *testing.T) {
	fb := newFakeBroker()
	fb.submitErr = fmt.Errorf("bridge: %w", context.DeadlineExceeded)
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD")

	h.sched.RunCycle()

	skipped, err := h.store.ReadSkipped()
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 1 || skipped[0].Reason != ReasonSubmitFailed || skipped[0].Side != "buy" {
		t.Errorf("unexpected skipped log %+v", skipped)
	}
	if trades, _ := h.store.ReadTrades(); len(trades) != 0 {
		t.Errorf("no trade record expected, got %d", len(trades))
	}
	if rep := h.sched.Report(); rep.Errors != 1 || rep.Trades != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if len(h.notes.subjects) != 1 || h.notes.subjects[0] != "buy order for EURUSD failed" {
		t.Errorf("unexpected notifications %v", h.notes.subjects)
	}
}

func TestRunCycle_StopsBetweenSymbols(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD", "GBPUSD")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.sched.Ctx = ctx

	h.sched.RunCycle()
	if fb.fetches != 0 {
		t.Errorf("expected no symbol evaluated after cancellation, got %d fetches", fb.fetches)
	}
}

func TestHandleCommand(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD")

	if got := h.sched.HandleCommand("/status"); !strings.Contains(got, "not run yet") || !strings.Contains(got, "Broker: fake") {
		t.Errorf("unexpected status before first cycle:\n%s", got)
	}
	if got := h.sched.HandleCommand("/trades"); got != "No trades recorded yet." {
		t.Errorf("unexpected trades reply %q", got)
	}

	h.sched.RunCycle()

	status := h.sched.HandleCommand("/status")
	for _, want := range []string{"trades 1", "Equity: 10008.00", "EURUSD 2026-03-02 10:00"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
	if got := h.sched.HandleCommand("/trades"); !strings.Contains(got, "EURUSD @ 1.6602 pnl +8.00 trail") {
		t.Errorf("unexpected trades reply %q", got)
	}
	if got := h.sched.HandleCommand("/help"); got != notifier.HelpText {
		t.Errorf("unexpected help %q", got)
	}
}

func TestStartStop_RunsImmediately(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD")
	h.sched.opts.Interval = time.Hour
	if err := h.sched.Register(); err != nil {
		t.Fatal(err)
	}

	h.sched.Start(true)
	select {
	case <-h.sched.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not wait for the running cycle")
	}
	if rep := h.sched.Report(); rep.Evaluated != 1 {
		t.Errorf("expected the immediate cycle to complete, got %+v", rep)
	}
}

func TestRegister_RejectsSubSecondInterval(t *testing.T) {
	fb := newFakeBroker()
	h := newHarness(t, fb, fb, risk.PolicyAlert, "EURUSD")
	h.sched.opts.Interval = 500 * time.Millisecond
	if err := h.sched.Register(); err == nil {
		t.Error("expected error for sub-second interval")
	}
}
