package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/calculator"
	"TradeSentinel/internal/collector"
	"TradeSentinel/internal/execution"
	"TradeSentinel/internal/gitsync"
	"TradeSentinel/internal/model"
	"TradeSentinel/internal/notifier"
	"TradeSentinel/internal/recorder"
	"TradeSentinel/internal/risk"
	"TradeSentinel/internal/strategy"
)

const notifyTimeout = 30 * time.Second

// ReasonSubmitFailed is logged when an order never got a broker answer.
const ReasonSubmitFailed = "order submission failed"

// Executor turns an approved signal into a trade record.
type Executor interface {
	Execute(ctx context.Context, symbol string, side model.Signal, quote model.Quote) (*model.TradeRecord, error)
}

// Deps are the collaborators of the trading loop.
type Deps struct {
	Broker    broker.Broker
	Collector *collector.Collector
	Guard     *risk.Guard
	Executor  Executor
	Recorder  recorder.Recorder
	Trades    recorder.TradeReader // optional, serves /trades
	Notifier  notifier.Notifier
	Committer gitsync.Committer
}

// Options tune the loop.
type Options struct {
	Symbols      []string
	Thresholds   strategy.Thresholds
	Interval     time.Duration
	QuoteTimeout time.Duration
}

// CycleReport summarizes the last completed cycle.
type CycleReport struct {
	Started   time.Time
	Duration  time.Duration
	Evaluated int
	Trades    int
	Skipped   int
	Errors    int
	Risk      model.RiskState
}

// Scheduler runs the trading cycle on a fixed interval. Cycles never overlap
// and symbols are processed sequentially.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context
	Now  func() time.Time

	deps Deps
	opts Options
	job  cron.Job
	wg   sync.WaitGroup

	mu     sync.Mutex
	report CycleReport

	resetBreaker atomic.Bool

	logger zerolog.Logger
}

// NewScheduler creates a Scheduler. ctx bounds every cycle; cancelling it
// stops the loop between symbols.
func NewScheduler(ctx context.Context, deps Deps, opts Options) *Scheduler {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewFanout()
	}
	if deps.Committer == nil {
		deps.Committer = gitsync.Noop{}
	}
	if opts.QuoteTimeout == 0 {
		opts.QuoteTimeout = 10 * time.Second
	}

	logger := log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{l: logger}
	s := &Scheduler{
		Cron:   cron.New(cron.WithLogger(cl)),
		Ctx:    ctx,
		Now:    time.Now,
		deps:   deps,
		opts:   opts,
		logger: logger,
	}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.RunCycle))
	s.report.Risk = deps.Guard.State()
	return s
}

// Register schedules the cycle every Interval.
func (s *Scheduler) Register() error {
	if s.opts.Interval < time.Second {
		return fmt.Errorf("interval %v is below one second", s.opts.Interval)
	}
	s.Cron.Schedule(cron.Every(s.opts.Interval), s.job)
	return nil
}

// Start starts the cron scheduler, optionally running a cycle right away.
func (s *Scheduler) Start(runNow bool) {
	s.Cron.Start()
	s.logger.Info().Strs("symbols", s.opts.Symbols).Dur("interval", s.opts.Interval).Msg("scheduler started")
	if runNow {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.job.Run()
		}()
	}
}

// Stop stops scheduling new cycles. The returned context is done once the
// running cycle, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	cronCtx := s.Cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	s.logger.Info().Msg("scheduler stopping")
	return ctx
}

// Report returns the summary of the last completed cycle.
func (s *Scheduler) Report() CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// RunCycle evaluates every symbol once.
func (s *Scheduler) RunCycle() {
	ctx := s.Ctx
	rep := CycleReport{Started: s.Now()}
	s.logger.Debug().Msg("cycle started")

	s.refreshEquity(ctx)
	if s.resetBreaker.Swap(false) {
		s.deps.Guard.ResetBreaker()
	}
	for _, symbol := range s.opts.Symbols {
		if ctx.Err() != nil {
			s.logger.Info().Msg("shutdown requested, cycle interrupted")
			break
		}
		s.evaluate(ctx, symbol, &rep)
	}

	rep.Duration = s.Now().Sub(rep.Started)
	rep.Risk = s.deps.Guard.State()
	s.mu.Lock()
	s.report = rep
	s.mu.Unlock()

	s.logger.Info().
		Int("evaluated", rep.Evaluated).Int("trades", rep.Trades).
		Int("skipped", rep.Skipped).Int("errors", rep.Errors).
		Float64("equity", rep.Risk.CurrentEquity).
		Dur("took", rep.Duration).Msg("cycle complete")
}

func (s *Scheduler) evaluate(ctx context.Context, symbol string, rep *CycleReport) {
	l := s.logger.With().Str("symbol", symbol).Logger()

	snap, err := s.deps.Collector.Collect(ctx, symbol)
	if err != nil {
		rep.Errors++
		switch {
		case errors.Is(err, calculator.ErrInsufficientData):
			l.Warn().Err(err).Msg("not enough bars, symbol skipped")
		case errors.Is(err, broker.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
			l.Warn().Err(err).Msg("market data unavailable, symbol skipped")
		default:
			l.Error().Err(err).Msg("collect failed")
		}
		return
	}
	rep.Evaluated++

	side := strategy.Classify(snap, s.opts.Thresholds.For(symbol))
	l.Debug().Float64("rsi", snap.RSI).Float64("macd", snap.MACD).Float64("signal", snap.Signal).
		Float64("sma", snap.SMA).Float64("price", snap.LastPrice).Str("action", side.String()).Msg("evaluated")
	if side == model.Hold {
		return
	}

	now := s.Now()
	if ok, reason := s.deps.Guard.Gate(symbol, now); !ok {
		l.Info().Str("action", side.String()).Str("reason", reason).Msg("signal skipped")
		s.skip(symbol, side, reason, now)
		rep.Skipped++
		return
	}

	quoteCtx, cancel := context.WithTimeout(ctx, s.opts.QuoteTimeout)
	quote, err := s.deps.Broker.FetchQuote(quoteCtx, symbol)
	cancel()
	if err != nil {
		l.Warn().Err(err).Msg("quote unavailable, order not sent")
		rep.Errors++
		return
	}

	rec, err := s.deps.Executor.Execute(ctx, symbol, side, quote)
	var fail *execution.Failure
	switch {
	case errors.As(err, &fail):
		l.Warn().Int("code", fail.Code).Str("message", fail.Message).Msg("order rejected")
		s.skip(symbol, side, fmt.Sprintf("order rejected (code %d)", fail.Code), now)
		rep.Skipped++
		subject, body := notifier.FormatRejection(symbol, side.String(), fail.Code, fail.Message)
		s.notify(ctx, subject, body)
		s.settle(ctx, 0)
		return
	case err != nil:
		l.Error().Err(err).Msg("order submission failed")
		rep.Errors++
		s.skip(symbol, side, ReasonSubmitFailed, now)
		s.notify(ctx, fmt.Sprintf("%s order for %s failed", side, symbol), err.Error())
		s.settle(ctx, 0)
		return
	}

	rep.Trades++
	if err := s.deps.Recorder.RecordTrade(rec); err != nil {
		l.Error().Err(err).Str("trade_id", rec.ID).Msg("record trade")
	}
	subject, body := notifier.FormatTrade(rec)
	s.notify(ctx, subject, body)
	s.settle(ctx, rec.PnL)

	msg := fmt.Sprintf("Auto: update trade log (%s %s)", rec.Side, rec.Symbol)
	if err := s.deps.Committer.Commit(context.WithoutCancel(ctx), msg); err != nil {
		l.Warn().Err(err).Msg("trade log sync failed")
	}
}

func (s *Scheduler) skip(symbol string, side model.Signal, reason string, at time.Time) {
	sk := &model.SkippedSignal{Timestamp: at, Symbol: symbol, Side: side.String(), Reason: reason}
	if err := s.deps.Recorder.RecordSkipped(sk); err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("record skipped signal")
	}
}

// settle updates drawdown tracking after a trade attempt. Brokers that report
// equity are trusted over the locally accumulated PnL.
func (s *Scheduler) settle(ctx context.Context, pnl float64) {
	if eq, ok := s.accountEquity(ctx); ok {
		s.observeEquity(ctx, eq)
		return
	}
	s.checkDrawdown(ctx, s.deps.Guard.Settle(pnl))
}

func (s *Scheduler) refreshEquity(ctx context.Context) {
	if eq, ok := s.accountEquity(ctx); ok {
		s.observeEquity(ctx, eq)
	}
}

// observeEquity feeds an account reading to the guard. The first reading
// becomes the drawdown reference.
func (s *Scheduler) observeEquity(ctx context.Context, eq float64) {
	if s.deps.Guard.SeedEquity(eq) {
		s.logger.Info().Float64("equity", eq).Msg("drawdown reference taken from account equity")
		return
	}
	s.checkDrawdown(ctx, s.deps.Guard.SetEquity(eq))
}

func (s *Scheduler) accountEquity(ctx context.Context) (float64, bool) {
	acct, ok := s.deps.Broker.(broker.AccountReader)
	if !ok {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.QuoteTimeout)
	defer cancel()
	eq, err := acct.Equity(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("account equity unavailable")
		return 0, false
	}
	return eq, true
}

func (s *Scheduler) checkDrawdown(ctx context.Context, check risk.DrawdownCheck) {
	if !check.Tripped {
		return
	}
	st := s.deps.Guard.State()
	halted := s.deps.Guard.Policy() == risk.PolicyHalt
	s.logger.Warn().Float64("drawdown", check.Drawdown).Float64("limit", st.MaxDrawdownPct).
		Bool("halted", halted).Msg("drawdown circuit breaker tripped")
	subject, body := notifier.FormatBreach(check.Drawdown, st.MaxDrawdownPct, st.Equity, st.CurrentEquity, halted)
	s.notify(ctx, subject, body)
}

// notify is best-effort and survives shutdown so that fills are still
// reported.
func (s *Scheduler) notify(ctx context.Context, subject, body string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.deps.Notifier.Notify(ctx, subject, body); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("send notification")
	}
}

// HandleCommand processes a bot command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		rep := s.Report()
		return notifier.FormatStatus(notifier.StatusView{
			Broker:      s.deps.Broker.Name(),
			Symbols:     s.opts.Symbols,
			LastCycle:   rep.Started,
			Duration:    rep.Duration,
			Evaluated:   rep.Evaluated,
			Trades:      rep.Trades,
			Skipped:     rep.Skipped,
			Errors:      rep.Errors,
			Equity:      rep.Risk.Equity,
			Current:     rep.Risk.CurrentEquity,
			Drawdown:    risk.Drawdown(rep.Risk.Equity, rep.Risk.LowestEquitySeen),
			MaxDrawdown: rep.Risk.MaxDrawdownPct,
			Breached:    rep.Risk.Breached,
			Policy:      string(s.deps.Guard.Policy()),
			Cooldowns:   rep.Risk.LastTradeTime,
		})
	case "/trades":
		if s.deps.Trades == nil {
			return "Trade history is not available."
		}
		recs, err := s.deps.Trades.LastTrades(10)
		if err != nil {
			return "Failed to read trades: " + err.Error()
		}
		return notifier.FormatTrades(recs)
	case "/resetbreaker":
		s.resetBreaker.Store(true)
		return "Drawdown breaker will be reset at the start of the next cycle."
	default:
		return notifier.HelpText
	}
}
