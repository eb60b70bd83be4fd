package notifier

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"TradeSentinel/internal/model"
)

// HelpText lists the supported bot commands.
const HelpText = `Commands:
/status       - loop, equity and drawdown
/trades       - last recorded trades
/resetbreaker - close the drawdown breaker
/help         - this message`

// FormatTrade renders a filled order.
func FormatTrade(rec *model.TradeRecord) (subject, body string) {
	subject = fmt.Sprintf("%s %s filled", strings.ToUpper(rec.Side), rec.Symbol)

	var b strings.Builder
	fmt.Fprintf(&b, "Price: %g (volume %g)\n", rec.Price, rec.Volume)
	fmt.Fprintf(&b, "SL: %g | TP: %g\n", rec.StopLoss, rec.TakeProfit)
	if rec.TrailingHit {
		fmt.Fprintf(&b, "Trailing stop moved to %g\n", rec.AdjustedStop)
	}
	fmt.Fprintf(&b, "PnL: %+.2f after %.0fs (%s)\n", rec.PnL, rec.HoldingSeconds, rec.ExitReason)
	fmt.Fprintf(&b, "Ticket: %d | %s", rec.Ticket, rec.StrategyTag)
	return subject, b.String()
}

// FormatRejection renders a broker rejection.
func FormatRejection(symbol, side string, code int, message string) (subject, body string) {
	subject = fmt.Sprintf("%s %s rejected", strings.ToUpper(side), symbol)
	body = fmt.Sprintf("Broker return code %d", code)
	if message != "" {
		body += ": " + message
	}
	return subject, body
}

// FormatBreach renders a drawdown circuit-breaker trip.
func FormatBreach(drawdown, limit, equity, current float64, halted bool) (subject, body string) {
	subject = "Drawdown circuit breaker tripped"
	action := "Trading continues (alert policy)."
	if halted {
		action = "New trades are halted until equity makes a new peak or /resetbreaker is sent."
	}
	body = fmt.Sprintf("Drawdown %.2f%% exceeds limit %.2f%%\nPeak equity: %.2f | Current: %.2f\n%s",
		drawdown*100, limit*100, equity, current, action)
	return subject, body
}

// StatusView is the data shown by /status.
type StatusView struct {
	Broker      string
	Symbols     []string
	LastCycle   time.Time
	Duration    time.Duration
	Evaluated   int
	Trades      int
	Skipped     int
	Errors      int
	Equity      float64
	Current     float64
	Drawdown    float64
	MaxDrawdown float64
	Breached    bool
	Policy      string
	Cooldowns   map[string]time.Time
}

// FormatStatus renders the loop status for display.
func FormatStatus(v StatusView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broker: %s\n", v.Broker)
	fmt.Fprintf(&b, "Symbols: %s\n", strings.Join(v.Symbols, ", "))
	if v.LastCycle.IsZero() {
		b.WriteString("Last cycle: not run yet\n")
	} else {
		fmt.Fprintf(&b, "Last cycle: %s (%s)\n", v.LastCycle.Format("2006-01-02 15:04:05"), v.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "  evaluated %d | trades %d | skipped %d | errors %d\n", v.Evaluated, v.Trades, v.Skipped, v.Errors)
	}
	fmt.Fprintf(&b, "Equity: %.2f (peak %.2f)\n", v.Current, v.Equity)
	fmt.Fprintf(&b, "Drawdown: %.2f%% / %.2f%%", v.Drawdown*100, v.MaxDrawdown*100)
	if v.Breached {
		fmt.Fprintf(&b, " BREACHED (%s)", v.Policy)
	}
	b.WriteString("\n")

	if len(v.Cooldowns) > 0 {
		b.WriteString("Last trades:\n")
		symbols := make([]string, 0, len(v.Cooldowns))
		for s := range v.Cooldowns {
			symbols = append(symbols, s)
		}
		slices.Sort(symbols)
		for _, s := range symbols {
			fmt.Fprintf(&b, "  %s %s\n", s, v.Cooldowns[s].Format("2006-01-02 15:04"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatTrades renders recent trades, oldest first.
func FormatTrades(recs []model.TradeRecord) string {
	if len(recs) == 0 {
		return "No trades recorded yet."
	}
	var b strings.Builder
	for _, r := range recs {
		trail := ""
		if r.TrailingHit {
			trail = " trail"
		}
		fmt.Fprintf(&b, "%s %-4s %s @ %g pnl %+.2f%s\n",
			r.Timestamp.Format("01-02 15:04"), r.Side, r.Symbol, r.Price, r.PnL, trail)
	}
	return strings.TrimRight(b.String(), "\n")
}
