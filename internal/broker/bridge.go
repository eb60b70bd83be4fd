package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"TradeSentinel/internal/model"
)

// RetcodeDone is the terminal's return code for an executed deal.
const RetcodeDone = 10009

// BridgeOptions configure a BridgeBroker.
type BridgeOptions struct {
	BaseURL        string
	APIKey         string
	Proxy          string
	Timeout        time.Duration
	RequestsPerSec int
	MaxRetryTime   time.Duration
}

// BridgeBroker talks to a terminal gateway over its REST API.
type BridgeBroker struct {
	BaseURL      string
	APIKey       string
	Client       *http.Client
	Limiter      *rate.Limiter
	MaxRetryTime time.Duration
	logger       zerolog.Logger
}

// NewBridgeBroker creates a bridge client with optional proxy support.
func NewBridgeBroker(opts BridgeOptions) *BridgeBroker {
	transport := &http.Transport{}
	if opts.Proxy != "" {
		if u, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetryTime == 0 {
		opts.MaxRetryTime = 15 * time.Second
	}
	return &BridgeBroker{
		BaseURL: opts.BaseURL,
		APIKey:  opts.APIKey,
		Client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		Limiter:      rate.NewLimiter(rate.Every(time.Second/time.Duration(opts.RequestsPerSec)), opts.RequestsPerSec),
		MaxRetryTime: opts.MaxRetryTime,
		logger:       log.With().Str("component", "bridge").Logger(),
	}
}

func (b *BridgeBroker) Name() string { return "bridge" }

// bridgeBar is the JSON shape of one bar from the gateway.
type bridgeBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"tick_volume"`
}

type bridgeTick struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"`
}

type bridgeOrderRequest struct {
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	Volume      float64 `json:"volume"`
	Type        string  `json:"type"`
	Price       float64 `json:"price"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Deviation   int     `json:"deviation"`
	Magic       int     `json:"magic"`
	Comment     string  `json:"comment"`
	TypeTime    string  `json:"type_time"`
	TypeFilling string  `json:"type_filling"`
	ClientID    string  `json:"client_id"`
}

type bridgeOrderResult struct {
	Retcode int     `json:"retcode"`
	Order   uint64  `json:"order"`
	Price   float64 `json:"price"`
	Comment string  `json:"comment"`
}

// Ping checks that the gateway is up and logged into the terminal.
func (b *BridgeBroker) Ping(ctx context.Context) error {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := b.getJSON(ctx, b.BaseURL+"/api/v1/health", &out); err != nil {
		return fmt.Errorf("bridge health: %w", err)
	}
	if !out.Connected {
		return fmt.Errorf("bridge health: terminal not connected")
	}
	return nil
}

func (b *BridgeBroker) FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]model.OHLCV, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("count", fmt.Sprint(count))
	var raw []bridgeBar
	if err := b.getJSON(ctx, b.BaseURL+"/api/v1/rates?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("%w: bars %s: %v", ErrUnavailable, symbol, err)
	}
	bars := make([]model.OHLCV, len(raw))
	for i, r := range raw {
		bars[i] = model.OHLCV{
			Time:   time.Unix(r.Time, 0),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	// Ensure chronological order
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func (b *BridgeBroker) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var tick bridgeTick
	if err := b.getJSON(ctx, b.BaseURL+"/api/v1/tick?symbol="+url.QueryEscape(symbol), &tick); err != nil {
		return model.Quote{}, fmt.Errorf("%w: quote %s: %v", ErrUnavailable, symbol, err)
	}
	if tick.Bid <= 0 || tick.Ask <= 0 {
		return model.Quote{}, fmt.Errorf("%w: quote %s: empty tick", ErrUnavailable, symbol)
	}
	return model.Quote{Symbol: symbol, Bid: tick.Bid, Ask: tick.Ask, Time: time.Unix(tick.Time, 0)}, nil
}

// Equity returns the account equity reported by the terminal.
func (b *BridgeBroker) Equity(ctx context.Context) (float64, error) {
	var acc struct {
		Equity float64 `json:"equity"`
	}
	if err := b.getJSON(ctx, b.BaseURL+"/api/v1/account", &acc); err != nil {
		return 0, fmt.Errorf("%w: account: %v", ErrUnavailable, err)
	}
	return acc.Equity, nil
}

// SubmitOrder sends a market deal. It is never retried: a lost response could
// otherwise open a second position.
func (b *BridgeBroker) SubmitOrder(ctx context.Context, order *model.Order) (*model.OrderResult, error) {
	if err := b.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	side := "buy"
	if order.Side == model.Sell {
		side = "sell"
	}
	payload, err := json.Marshal(bridgeOrderRequest{
		Action:      "deal",
		Symbol:      order.Symbol,
		Volume:      order.Volume,
		Type:        side,
		Price:       order.Price,
		SL:          order.StopLoss,
		TP:          order.TakeProfit,
		Deviation:   order.Deviation,
		Magic:       order.Magic,
		Comment:     order.Comment,
		TypeTime:    "gtc",
		TypeFilling: "ioc",
		ClientID:    order.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/api/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("submit order: status %d, body: %s", resp.StatusCode, string(body))
	}
	var res bridgeOrderResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode order result: %w", err)
	}

	out := &model.OrderResult{
		Status:  model.OrderRejected,
		Code:    res.Retcode,
		Price:   res.Price,
		Ticket:  res.Order,
		Message: res.Comment,
		Time:    time.Now(),
	}
	if res.Retcode == RetcodeDone {
		out.Status = model.OrderFilled
		if out.Price == 0 {
			out.Price = order.Price
		}
	}
	return out, nil
}

// getJSON performs a rate-limited GET with exponential backoff and decodes the body.
func (b *BridgeBroker) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := b.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		b.authorize(req)
		resp, err := b.Client.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body)))
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = b.MaxRetryTime
	notify := func(err error, wait time.Duration) {
		b.logger.Warn().Err(err).Dur("retry_in", wait).Str("url", endpoint).Msg("bridge request failed")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (b *BridgeBroker) authorize(req *http.Request) {
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
}
