package model

import "time"

// RiskState tracks cooldowns and the drawdown circuit breaker.
type RiskState struct {
	LastTradeTime    map[string]time.Time `json:"last_trade_time"`
	CooldownMinutes  int                  `json:"cooldown_minutes"`
	Equity           float64              `json:"equity"` // reference (peak) equity
	CurrentEquity    float64              `json:"current_equity"`
	LowestEquitySeen float64              `json:"lowest_equity_seen"`
	MaxDrawdownPct   float64              `json:"max_drawdown_pct"`
	Breached         bool                 `json:"breached"`
	Seeded           bool                 `json:"seeded"` // reference equity came from the account
	UpdatedAt        time.Time            `json:"updated_at"`
}
