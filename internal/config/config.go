package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"TradeSentinel/internal/calculator"
	"TradeSentinel/internal/execution"
	"TradeSentinel/internal/risk"
	"TradeSentinel/internal/strategy"
)

// Config holds all application configuration.
type Config struct {
	Symbols  []string `yaml:"symbols"`
	Strategy struct {
		DefaultThreshold float64            `yaml:"default_threshold"`
		RSIThresholds    map[string]float64 `yaml:"rsi_thresholds"`
		Periods          calculator.Periods `yaml:"periods"`
		Lookback         int                `yaml:"lookback"`
		Timeframe        string             `yaml:"timeframe"`
	} `yaml:"strategy"`
	Trading struct {
		Volume           float64               `yaml:"volume"`
		SLPips           float64               `yaml:"sl_pips"`
		TPPips           float64               `yaml:"tp_pips"`
		TrailTriggerPips float64               `yaml:"trail_trigger_pips"`
		TrailOffsetPips  float64               `yaml:"trail_offset_pips"`
		ObserveSeconds   int                   `yaml:"observe_seconds"`
		ContractSize     float64               `yaml:"contract_size"`
		Deviation        int                   `yaml:"deviation"`
		Magic            int                   `yaml:"magic"`
		Instruments      execution.Instruments `yaml:"instruments"`
	} `yaml:"trading"`
	Risk struct {
		CooldownMinutes int     `yaml:"cooldown_minutes"`
		MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`
		StartingEquity  float64 `yaml:"starting_equity"`
		BreachPolicy    string  `yaml:"breach_policy"`
		StateFile       string  `yaml:"state_file"`
	} `yaml:"risk"`
	Schedule struct {
		IntervalSeconds int  `yaml:"interval_seconds"`
		RunOnStart      bool `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Broker struct {
		Kind           string  `yaml:"kind"` // "bridge" or "paper"
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RequestsPerSec int     `yaml:"requests_per_sec"`
		PaperSpread    float64 `yaml:"paper_spread"`
	} `yaml:"broker"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
		Commands bool   `yaml:"commands"`
	} `yaml:"telegram"`
	Email struct {
		Host     string   `yaml:"host"`
		Port     int      `yaml:"port"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		From     string   `yaml:"from"`
		To       []string `yaml:"to"`
	} `yaml:"email"`
	Storage struct {
		TradeLog    string `yaml:"trade_log"`
		SkippedLog  string `yaml:"skipped_log"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	Telemetry struct {
		Addr string `yaml:"addr"`
	} `yaml:"telemetry"`
	GitSync struct {
		Enabled  bool   `yaml:"enabled"`
		RepoPath string `yaml:"repo_path"`
		Push     bool   `yaml:"push"`
	} `yaml:"git_sync"`
	LogLevel string `yaml:"log_level"`
	Proxy    string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	// Later entries win, so TELEGRAM_BOT_TOKEN overrides TELEGRAM_TOKEN.
	overrides := []struct {
		key string
		dst *string
	}{
		{"TELEGRAM_TOKEN", &c.Telegram.BotToken},
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &c.Telegram.ChatID},
		{"EMAIL_SENDER", &c.Email.Username},
		{"EMAIL_PASSWORD", &c.Email.Password},
		{"SMTP_HOST", &c.Email.Host},
		{"GIT_REPO_PATH", &c.GitSync.RepoPath},
		{"BROKER_KIND", &c.Broker.Kind},
		{"BRIDGE_BASE_URL", &c.Broker.BaseURL},
		{"BRIDGE_API_KEY", &c.Broker.APIKey},
		{"SQLITE_PATH", &c.Storage.SQLitePath},
		{"POSTGRES_DSN", &c.Storage.PostgresDSN},
		{"TELEMETRY_ADDR", &c.Telemetry.Addr},
		{"BREACH_POLICY", &c.Risk.BreachPolicy},
		{"LOG_LEVEL", &c.LogLevel},
		{"HTTPS_PROXY", &c.Proxy},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Symbols = append(c.Symbols, strings.ToUpper(s))
			}
		}
	}
	if v := os.Getenv("INTERVAL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INTERVAL_SECONDS: %w", err)
		}
		c.Schedule.IntervalSeconds = n
	}
	if v := os.Getenv("STARTING_EQUITY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STARTING_EQUITY: %w", err)
		}
		c.Risk.StartingEquity = f
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RUN_ON_START: %w", err)
		}
		c.Schedule.RunOnStart = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"EURUSD", "GBPUSD", "BTCUSD"}
	}

	def := calculator.DefaultPeriods()
	p := &c.Strategy.Periods
	if p.RSI == 0 {
		p.RSI = def.RSI
	}
	if p.FastEMA == 0 {
		p.FastEMA = def.FastEMA
	}
	if p.SlowEMA == 0 {
		p.SlowEMA = def.SlowEMA
	}
	if p.SignalEMA == 0 {
		p.SignalEMA = def.SignalEMA
	}
	if p.SMA == 0 {
		p.SMA = def.SMA
	}
	if c.Strategy.DefaultThreshold == 0 {
		c.Strategy.DefaultThreshold = 40
	}
	if c.Strategy.Lookback == 0 {
		c.Strategy.Lookback = 100
	}
	if c.Strategy.Timeframe == "" {
		c.Strategy.Timeframe = "M5"
	}

	t := &c.Trading
	if t.Volume == 0 {
		t.Volume = 0.1
	}
	if t.SLPips == 0 {
		t.SLPips = 10
	}
	if t.TPPips == 0 {
		t.TPPips = 10
	}
	if t.TrailTriggerPips == 0 {
		t.TrailTriggerPips = 5
	}
	if t.TrailOffsetPips == 0 {
		t.TrailOffsetPips = 3
	}
	if t.ObserveSeconds == 0 {
		t.ObserveSeconds = 5
	}
	if t.ContractSize == 0 {
		t.ContractSize = 100000
	}
	if t.Deviation == 0 {
		t.Deviation = 10
	}
	if t.Magic == 0 {
		t.Magic = 123456
	}

	if c.Risk.CooldownMinutes == 0 {
		c.Risk.CooldownMinutes = 30
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = 0.10
	}
	if c.Risk.StartingEquity == 0 {
		c.Risk.StartingEquity = 10000
	}
	if c.Risk.StateFile == "" {
		c.Risk.StateFile = "trade_logs/risk_state.json"
	}

	if c.Schedule.IntervalSeconds == 0 {
		c.Schedule.IntervalSeconds = 600
	}

	if c.Broker.Kind == "" {
		c.Broker.Kind = "bridge"
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Broker.RequestsPerSec == 0 {
		c.Broker.RequestsPerSec = 5
	}
	if c.Broker.PaperSpread == 0 {
		c.Broker.PaperSpread = 0.0002
	}

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Storage.TradeLog == "" {
		c.Storage.TradeLog = "trade_logs/trade_log.csv"
	}
	if c.Storage.SkippedLog == "" {
		c.Storage.SkippedLog = "trade_logs/skipped_signals.csv"
	}
	if c.GitSync.RepoPath == "" {
		c.GitSync.RepoPath = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Thresholds returns the RSI buy thresholds with per-symbol overrides.
func (c *Config) Thresholds() strategy.Thresholds {
	return strategy.Thresholds{Default: c.Strategy.DefaultThreshold, Overrides: c.Strategy.RSIThresholds}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	p := c.Strategy.Periods
	if p.FastEMA >= p.SlowEMA {
		return fmt.Errorf("strategy.periods: fast_ema (%d) must be below slow_ema (%d)", p.FastEMA, p.SlowEMA)
	}
	if p.RSI < 1 || p.SignalEMA < 1 || p.SMA < 1 || p.FastEMA < 1 {
		return fmt.Errorf("strategy.periods must be positive")
	}
	if c.Strategy.Lookback < p.MinBars() {
		return fmt.Errorf("strategy.lookback %d is below the %d bars the indicators need", c.Strategy.Lookback, p.MinBars())
	}
	if c.Trading.Volume <= 0 {
		return fmt.Errorf("trading.volume must be positive")
	}
	if c.Trading.TrailOffsetPips > c.Trading.TrailTriggerPips {
		return fmt.Errorf("trading.trail_offset_pips must not exceed trail_trigger_pips")
	}
	for sym, inst := range c.Trading.Instruments {
		if inst.PipSize < 0 || (inst.Digits != nil && *inst.Digits < 0) {
			return fmt.Errorf("trading.instruments.%s: pip_size and digits must not be negative", sym)
		}
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1)")
	}
	if c.Risk.CooldownMinutes < 0 {
		return fmt.Errorf("risk.cooldown_minutes must not be negative")
	}
	if _, err := risk.ParsePolicy(c.Risk.BreachPolicy); err != nil {
		return fmt.Errorf("risk.breach_policy: %w", err)
	}
	if c.Schedule.IntervalSeconds < 1 {
		return fmt.Errorf("schedule.interval_seconds must be at least 1")
	}
	switch c.Broker.Kind {
	case "bridge":
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required for the bridge broker")
		}
	case "paper":
	default:
		return fmt.Errorf("broker.kind must be \"bridge\" or \"paper\", got %q", c.Broker.Kind)
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.Email.Host != "" && c.Email.Username == "" && c.Email.From == "" {
		return fmt.Errorf("email.from or email.username is required when email.host is set")
	}
	if c.Storage.TradeLog == "" || c.Storage.SkippedLog == "" {
		return fmt.Errorf("storage.trade_log and storage.skipped_log are required")
	}
	return nil
}
