package recorder

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"TradeSentinel/internal/model"
)

// TradeHeader is the fixed column layout of the trade log.
var TradeHeader = []string{
	"timestamp", "close_time", "symbol", "side", "volume", "price",
	"stop_loss", "take_profit", "pnl", "holding_seconds", "comment",
	"strategy_tag", "exit_reason", "trailing_hit", "adjusted_stop",
	"trade_id", "ticket",
}

// SkippedHeader is the fixed column layout of the skipped-signal log.
var SkippedHeader = []string{"timestamp", "symbol", "reason", "side"}

// CSVStore appends to two CSV files. Each append rewrites the file through a
// temporary sibling and an atomic rename, so a reader loading the whole file
// sees either the old or the new version.
type CSVStore struct {
	TradesPath  string
	SkippedPath string

	mu     sync.Mutex
	logger zerolog.Logger
}

// NewCSVStore creates both files with their headers if they do not exist and
// checks the header of files that do.
func NewCSVStore(tradesPath, skippedPath string) (*CSVStore, error) {
	s := &CSVStore{
		TradesPath:  tradesPath,
		SkippedPath: skippedPath,
		logger:      log.With().Str("component", "csv").Logger(),
	}
	for _, f := range []struct {
		path   string
		header []string
	}{{tradesPath, TradeHeader}, {skippedPath, SkippedHeader}} {
		if err := ensureFile(f.path, f.header); err != nil {
			return nil, err
		}
	}
	s.logger.Info().Str("trades", tradesPath).Str("skipped", skippedPath).Msg("csv store opened")
	return s, nil
}

func ensureFile(path string, header []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return replaceFile(path, nil, header)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	got, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return replaceFile(path, nil, header)
	}
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	if !slices.Equal(got, header) {
		return fmt.Errorf("%s: unexpected header %v", path, got)
	}
	return nil
}

func (s *CSVStore) RecordTrade(rec *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendRow(s.TradesPath, tradeRow(rec)); err != nil {
		return fmt.Errorf("append trade %s: %w", rec.ID, err)
	}
	return nil
}

func (s *CSVStore) RecordSkipped(sk *model.SkippedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := []string{formatTime(sk.Timestamp), sk.Symbol, sk.Reason, sk.Side}
	if err := appendRow(s.SkippedPath, row); err != nil {
		return fmt.Errorf("append skipped %s: %w", sk.Symbol, err)
	}
	return nil
}

func (s *CSVStore) Close() error { return nil }

// ReadTrades loads every trade in insertion order.
func (s *CSVStore) ReadTrades() ([]model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readRows(s.TradesPath)
	if err != nil {
		return nil, err
	}
	out := make([]model.TradeRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseTradeRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.TradesPath, i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadSkipped loads every skipped signal in insertion order.
func (s *CSVStore) ReadSkipped() ([]model.SkippedSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readRows(s.SkippedPath)
	if err != nil {
		return nil, err
	}
	out := make([]model.SkippedSignal, 0, len(rows))
	for i, row := range rows {
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.SkippedPath, i+2, err)
		}
		out = append(out, model.SkippedSignal{Timestamp: ts, Symbol: row[1], Reason: row[2], Side: row[3]})
	}
	return out, nil
}

// LastTrades returns up to n of the most recent trades.
func (s *CSVStore) LastTrades(n int) ([]model.TradeRecord, error) {
	all, err := s.ReadTrades()
	if err != nil {
		return nil, err
	}
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all, nil
}

func appendRow(path string, row []string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return replaceFile(path, existing, row)
}

// replaceFile writes prefix followed by row to a temp file and renames it
// over path.
func replaceFile(path string, prefix []byte, row []string) error {
	var buf bytes.Buffer
	buf.Write(prefix)
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}

func tradeRow(r *model.TradeRecord) []string {
	return []string{
		formatTime(r.Timestamp),
		formatTime(r.CloseTime),
		r.Symbol,
		r.Side,
		formatFloat(r.Volume),
		formatFloat(r.Price),
		formatFloat(r.StopLoss),
		formatFloat(r.TakeProfit),
		formatFloat(r.PnL),
		formatFloat(r.HoldingSeconds),
		r.Comment,
		r.StrategyTag,
		r.ExitReason,
		strconv.FormatBool(r.TrailingHit),
		formatFloat(r.AdjustedStop),
		r.ID,
		strconv.FormatUint(r.Ticket, 10),
	}
}

func parseTradeRow(row []string) (model.TradeRecord, error) {
	var (
		rec model.TradeRecord
		err error
	)
	if len(row) != len(TradeHeader) {
		return rec, fmt.Errorf("expected %d columns, got %d", len(TradeHeader), len(row))
	}
	p := fieldParser{row: row}
	rec.Timestamp = p.time(0)
	rec.CloseTime = p.time(1)
	rec.Symbol = row[2]
	rec.Side = row[3]
	rec.Volume = p.float(4)
	rec.Price = p.float(5)
	rec.StopLoss = p.float(6)
	rec.TakeProfit = p.float(7)
	rec.PnL = p.float(8)
	rec.HoldingSeconds = p.float(9)
	rec.Comment = row[10]
	rec.StrategyTag = row[11]
	rec.ExitReason = row[12]
	rec.TrailingHit, err = strconv.ParseBool(row[13])
	if err != nil {
		return rec, fmt.Errorf("trailing_hit: %w", err)
	}
	rec.AdjustedStop = p.float(14)
	rec.ID = row[15]
	rec.Ticket, err = strconv.ParseUint(row[16], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("ticket: %w", err)
	}
	return rec, p.err
}

// fieldParser keeps the first conversion error.
type fieldParser struct {
	row []string
	err error
}

func (p *fieldParser) float(i int) float64 {
	v, err := strconv.ParseFloat(p.row[i], 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", TradeHeader[i], err)
	}
	return v
}

func (p *fieldParser) time(i int) time.Time {
	if p.row[i] == "" {
		return time.Time{}
	}
	v, err := time.Parse(time.RFC3339Nano, p.row[i])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", TradeHeader[i], err)
	}
	return v
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
