package recorder

import (
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"TradeSentinel/internal/model"
)

// Dialect selects placeholder and DDL syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore persists trades and skipped signals to SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
	logger  zerolog.Logger
}

// OpenSQLite opens (or creates) the SQLite database in WAL mode and runs
// migrations.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Dashboards read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return newSQLStore(db, SQLite, path)
}

// OpenPostgres connects to dsn and runs migrations.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, Postgres, "postgres")
}

func newSQLStore(db *sql.DB, d Dialect, name string) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  log.With().Str("component", d.String()).Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.logger.Info().Str("db", name).Msg("sql store opened")
	return s, nil
}

func (s *SQLStore) migrate() error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	num := "REAL"
	if s.dialect == Postgres {
		id = "BIGSERIAL PRIMARY KEY"
		num = "DOUBLE PRECISION"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id              ` + id + `,
			trade_id        TEXT NOT NULL,
			timestamp       BIGINT NOT NULL,
			close_time      BIGINT,
			symbol          TEXT NOT NULL,
			side            TEXT NOT NULL,
			volume          ` + num + `,
			price           ` + num + `,
			stop_loss       ` + num + `,
			take_profit     ` + num + `,
			pnl             ` + num + `,
			holding_seconds ` + num + `,
			comment         TEXT,
			strategy_tag    TEXT,
			exit_reason     TEXT,
			trailing_hit    BOOLEAN,
			adjusted_stop   ` + num + `,
			ticket          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS skipped_signals (
			id        ` + id + `,
			timestamp BIGINT NOT NULL,
			symbol    TEXT NOT NULL,
			side      TEXT,
			reason    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_skipped_ts ON skipped_signals(timestamp)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) RecordTrade(r *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(s.rebind(`INSERT INTO trades
		(trade_id, timestamp, close_time, symbol, side, volume, price,
		 stop_loss, take_profit, pnl, holding_seconds, comment, strategy_tag,
		 exit_reason, trailing_hit, adjusted_stop, ticket)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		r.ID, unixNano(r.Timestamp), unixNano(r.CloseTime), r.Symbol, r.Side,
		r.Volume, r.Price, r.StopLoss, r.TakeProfit, r.PnL, r.HoldingSeconds,
		r.Comment, r.StrategyTag, r.ExitReason, r.TrailingHit, r.AdjustedStop,
		strconv.FormatUint(r.Ticket, 10),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLStore) RecordSkipped(sk *model.SkippedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(s.rebind(`INSERT INTO skipped_signals
		(timestamp, symbol, side, reason) VALUES (?,?,?,?)`),
		unixNano(sk.Timestamp), sk.Symbol, sk.Side, sk.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert skipped %s: %w", sk.Symbol, err)
	}
	return nil
}

// LastTrades returns up to n of the most recent trades, oldest first.
func (s *SQLStore) LastTrades(n int) ([]model.TradeRecord, error) {
	rows, err := s.db.Query(s.rebind(`SELECT
		trade_id, timestamp, close_time, symbol, side, volume, price,
		stop_loss, take_profit, pnl, holding_seconds, comment, strategy_tag,
		exit_reason, trailing_hit, adjusted_stop, ticket
		FROM trades ORDER BY id DESC LIMIT ?`), n)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			r          model.TradeRecord
			ts, closed int64
			ticket     string
		)
		if err := rows.Scan(&r.ID, &ts, &closed, &r.Symbol, &r.Side, &r.Volume,
			&r.Price, &r.StopLoss, &r.TakeProfit, &r.PnL, &r.HoldingSeconds,
			&r.Comment, &r.StrategyTag, &r.ExitReason, &r.TrailingHit,
			&r.AdjustedStop, &ticket); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		r.Timestamp = fromUnixNano(ts)
		r.CloseTime = fromUnixNano(closed)
		r.Ticket, err = strconv.ParseUint(ticket, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("trade %s ticket: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *SQLStore) Close() error {
	s.logger.Info().Msg("closing sql store")
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
