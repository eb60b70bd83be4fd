package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"TradeSentinel/internal/model"
)

// Gate rejection reasons.
const (
	ReasonCooldown = "cooldown active"
	ReasonBreaker  = "drawdown circuit breaker open"
)

// BreachPolicy decides what happens while the drawdown breaker is open.
type BreachPolicy string

const (
	// PolicyAlert only notifies; trading continues.
	PolicyAlert BreachPolicy = "alert"
	// PolicyHalt rejects new orders until a new equity peak or an operator
	// reset closes the breaker.
	PolicyHalt BreachPolicy = "halt"
)

// ParsePolicy validates a policy name. Empty means PolicyAlert.
func ParsePolicy(s string) (BreachPolicy, error) {
	switch BreachPolicy(s) {
	case "", PolicyAlert:
		return PolicyAlert, nil
	case PolicyHalt:
		return PolicyHalt, nil
	default:
		return "", fmt.Errorf("unknown breach policy %q", s)
	}
}

// Options configure a Guard.
type Options struct {
	CooldownMinutes int
	MaxDrawdownPct  float64
	StartingEquity  float64
	Policy          BreachPolicy
	StateFile       string // empty keeps state in memory only
}

// DrawdownCheck is the result of settling one trade attempt.
type DrawdownCheck struct {
	Drawdown float64
	Breached bool
	// Tripped is set only on the transition into breach.
	Tripped bool
}

// Guard owns the RiskState. It is driven by a single loop goroutine and does
// no locking of its own.
type Guard struct {
	state    *model.RiskState
	policy   BreachPolicy
	filePath string
	logger   zerolog.Logger
}

// NewGuard creates a Guard, restoring cooldowns and equity from the state file when present.
func NewGuard(opts Options) (*Guard, error) {
	state := &model.RiskState{LastTradeTime: make(map[string]time.Time)}
	if opts.StateFile != "" {
		loaded, err := LoadState(opts.StateFile)
		if err != nil {
			return nil, fmt.Errorf("load risk state: %w", err)
		}
		if loaded != nil {
			state = loaded
		}
	}

	// Configuration always wins over the snapshot for limits.
	state.CooldownMinutes = opts.CooldownMinutes
	state.MaxDrawdownPct = opts.MaxDrawdownPct
	if state.Equity == 0 {
		state.Equity = opts.StartingEquity
		state.CurrentEquity = opts.StartingEquity
		state.LowestEquitySeen = opts.StartingEquity
	}

	policy := opts.Policy
	if policy == "" {
		policy = PolicyAlert
	}
	return &Guard{
		state:    state,
		policy:   policy,
		filePath: opts.StateFile,
		logger:   log.With().Str("component", "risk").Logger(),
	}, nil
}

// Gate reports whether a signal for symbol may execute at now.
func (g *Guard) Gate(symbol string, now time.Time) (bool, string) {
	if last, ok := g.state.LastTradeTime[symbol]; ok {
		cooldown := time.Duration(g.state.CooldownMinutes) * time.Minute
		if now.Sub(last) < cooldown {
			return false, ReasonCooldown
		}
	}
	if g.policy == PolicyHalt && g.state.Breached {
		return false, ReasonBreaker
	}
	return true, ""
}

// MarkTraded starts the cooldown for symbol. Call only on a confirmed fill.
func (g *Guard) MarkTraded(symbol string, at time.Time) {
	g.state.LastTradeTime[symbol] = at
	g.save()
}

// Settle applies the PnL of a trade attempt to the current equity and
// re-evaluates the drawdown breaker. Failed attempts settle with zero.
func (g *Guard) Settle(pnl float64) DrawdownCheck {
	return g.SetEquity(g.state.CurrentEquity + pnl)
}

// SetEquity records an observed account equity and re-evaluates the breaker.
func (g *Guard) SetEquity(current float64) DrawdownCheck {
	s := g.state
	s.CurrentEquity = current
	if current > s.Equity {
		// New peak: drawdown is measured from here on.
		s.Equity = current
		s.LowestEquitySeen = current
	}
	if current < s.LowestEquitySeen {
		s.LowestEquitySeen = current
	}

	dd := Drawdown(s.Equity, s.LowestEquitySeen)
	breached := dd > s.MaxDrawdownPct
	check := DrawdownCheck{Drawdown: dd, Breached: breached, Tripped: breached && !s.Breached}
	if s.Breached && !breached {
		g.logger.Info().Float64("drawdown", dd).Msg("drawdown back within limit, breaker re-armed")
	}
	s.Breached = breached
	g.save()
	return check
}

// SeedEquity adopts the first account equity reading as the drawdown
// reference without evaluating the breaker, replacing the configured starting
// equity. It reports whether the state was seeded; once seeded, including
// from a restored snapshot, it does nothing.
func (g *Guard) SeedEquity(current float64) bool {
	s := g.state
	if s.Seeded {
		return false
	}
	s.Equity = current
	s.CurrentEquity = current
	s.LowestEquitySeen = current
	s.Breached = false
	s.Seeded = true
	g.save()
	return true
}

// ResetBreaker closes the breaker and restarts drawdown tracking from the
// current equity.
func (g *Guard) ResetBreaker() {
	s := g.state
	s.Equity = s.CurrentEquity
	s.LowestEquitySeen = s.CurrentEquity
	s.Breached = false
	g.save()
	g.logger.Info().Float64("equity", s.CurrentEquity).Msg("drawdown breaker reset by operator")
}

// State returns a copy of the current risk state.
func (g *Guard) State() model.RiskState {
	cp := *g.state
	cp.LastTradeTime = make(map[string]time.Time, len(g.state.LastTradeTime))
	for k, v := range g.state.LastTradeTime {
		cp.LastTradeTime[k] = v
	}
	return cp
}

// Policy returns the configured breach policy.
func (g *Guard) Policy() BreachPolicy { return g.policy }

// Drawdown returns 1 - lowest/equity, or 0 when equity is zero.
func Drawdown(equity, lowest float64) float64 {
	if equity == 0 {
		return 0
	}
	return 1 - lowest/equity
}

func (g *Guard) save() {
	if g.filePath == "" {
		return
	}
	if err := SaveState(g.filePath, g.state); err != nil {
		g.logger.Error().Err(err).Msg("failed to save risk state")
	}
}
