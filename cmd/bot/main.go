package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/collector"
	"TradeSentinel/internal/config"
	"TradeSentinel/internal/execution"
	"TradeSentinel/internal/gitsync"
	"TradeSentinel/internal/notifier"
	"TradeSentinel/internal/recorder"
	"TradeSentinel/internal/risk"
	"TradeSentinel/internal/scheduler"
	"TradeSentinel/internal/telemetry"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg(".env file not found, relying on actual environment variables")
	}

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(lvl)
	log.Info().Strs("symbols", cfg.Symbols).Msg("TradeSentinel starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerTimeout := time.Duration(cfg.Broker.TimeoutSeconds) * time.Second
	b := newBroker(cfg, brokerTimeout)
	if p, ok := b.(broker.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, brokerTimeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("broker", b.Name()).Msg("broker health check failed")
		}
	}
	log.Info().Str("broker", b.Name()).Msg("broker ready")

	// Stores
	csvStore, err := recorder.NewCSVStore(cfg.Storage.TradeLog, cfg.Storage.SkippedLog)
	if err != nil {
		log.Fatal().Err(err).Msg("open trade log")
	}
	sinks := recorder.Multi{csvStore}
	var trades recorder.TradeReader = csvStore
	if cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			log.Fatal().Err(err).Msg("create sqlite dir")
		}
		sq, err := recorder.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Msg("open sqlite store")
		}
		sinks = append(sinks, sq)
		trades = sq
	}
	if cfg.Storage.PostgresDSN != "" {
		pg, err := recorder.OpenPostgres(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres store")
		}
		sinks = append(sinks, pg)
	}
	if cfg.Telemetry.Addr != "" {
		hub := telemetry.NewHub()
		sinks = append(sinks, hub)
		go func() {
			if err := hub.Serve(ctx, cfg.Telemetry.Addr); err != nil {
				log.Error().Err(err).Msg("telemetry server stopped")
			}
		}()
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Error().Err(err).Msg("close stores")
		}
	}()

	// Notifiers
	var targets []notifier.Notifier
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn, err = notifier.NewTelegramNotifier(notifier.TelegramOptions{
			Token:      cfg.Telegram.BotToken,
			ChatID:     cfg.Telegram.ChatID,
			Proxy:      cfg.Proxy,
			MaxRetries: 3,
		})
		if err != nil {
			log.Error().Err(err).Msg("telegram disabled")
		} else {
			targets = append(targets, tn)
		}
	}
	if cfg.Email.Host != "" {
		targets = append(targets, notifier.NewEmailNotifier(cfg.Email.Host, cfg.Email.Port,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.From, cfg.Email.To))
	}
	notes := notifier.NewFanout(targets...)
	if notes.Len() == 0 {
		log.Warn().Msg("no notification targets configured, alerts go to the log only")
	} else {
		log.Info().Int("targets", notes.Len()).Msg("notifications enabled")
	}

	var committer gitsync.Committer = gitsync.Noop{}
	if cfg.GitSync.Enabled {
		rel, err := filepath.Rel(cfg.GitSync.RepoPath, cfg.Storage.TradeLog)
		if err != nil {
			log.Fatal().Err(err).Msg("trade log must be inside git_sync.repo_path")
		}
		committer = gitsync.New(cfg.GitSync.RepoPath, []string{rel}, cfg.GitSync.Push)
	}

	// Risk and execution
	policy, _ := risk.ParsePolicy(cfg.Risk.BreachPolicy)
	guard, err := risk.NewGuard(risk.Options{
		CooldownMinutes: cfg.Risk.CooldownMinutes,
		MaxDrawdownPct:  cfg.Risk.MaxDrawdownPct,
		StartingEquity:  cfg.Risk.StartingEquity,
		Policy:          policy,
		StateFile:       cfg.Risk.StateFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init risk guard")
	}
	exec := execution.NewManager(b, execution.Params{
		Volume:           cfg.Trading.Volume,
		SLPips:           cfg.Trading.SLPips,
		TPPips:           cfg.Trading.TPPips,
		TrailTriggerPips: cfg.Trading.TrailTriggerPips,
		TrailOffsetPips:  cfg.Trading.TrailOffsetPips,
		ContractSize:     cfg.Trading.ContractSize,
		Deviation:        cfg.Trading.Deviation,
		Magic:            cfg.Trading.Magic,
		Observe:          time.Duration(cfg.Trading.ObserveSeconds) * time.Second,
		Timeout:          brokerTimeout,
	}, cfg.Trading.Instruments, guard)

	col := collector.NewCollector(b, cfg.Strategy.Timeframe, cfg.Strategy.Lookback, cfg.Strategy.Periods, brokerTimeout)

	sched := scheduler.NewScheduler(ctx, scheduler.Deps{
		Broker:    b,
		Collector: col,
		Guard:     guard,
		Executor:  exec,
		Recorder:  sinks,
		Trades:    trades,
		Notifier:  notes,
		Committer: committer,
	}, scheduler.Options{
		Symbols:      cfg.Symbols,
		Thresholds:   cfg.Thresholds(),
		Interval:     time.Duration(cfg.Schedule.IntervalSeconds) * time.Second,
		QuoteTimeout: brokerTimeout,
	})
	if err := sched.Register(); err != nil {
		log.Fatal().Err(err).Msg("register trading cycle")
	}
	sched.Start(cfg.Schedule.RunOnStart)

	if tn != nil && cfg.Telegram.Commands {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	log.Info().Msg("TradeSentinel is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, waiting for the running cycle")
	<-sched.Stop().Done()
	log.Info().Msg("TradeSentinel stopped")
}

func newBroker(cfg *config.Config, timeout time.Duration) broker.Broker {
	if cfg.Broker.Kind == "paper" {
		log.Warn().Msg("paper trading: orders are simulated against Yahoo Finance prices")
		return broker.NewPaperBroker(broker.NewYahooFeed(cfg.Proxy, cfg.Broker.PaperSpread))
	}
	return broker.NewBridgeBroker(broker.BridgeOptions{
		BaseURL:        cfg.Broker.BaseURL,
		APIKey:         cfg.Broker.APIKey,
		Proxy:          cfg.Proxy,
		Timeout:        timeout,
		RequestsPerSec: cfg.Broker.RequestsPerSec,
	})
}
