package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"TradeSentinel/internal/model"
)

// YahooFeed implements MarketData using the Yahoo Finance chart API. It has no
// real order book, so quotes are the last close widened by a fixed spread.
type YahooFeed struct {
	Client    *http.Client
	BaseURL   string
	Limiter   *rate.Limiter
	SymbolMap map[string]string // maps terminal symbol to Yahoo ticker
	Spread    float64
}

// NewYahooFeed creates a new Yahoo Finance feed.
func NewYahooFeed(proxyURL string, spread float64) *YahooFeed {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &YahooFeed{
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		BaseURL: "https://query1.finance.yahoo.com",
		Limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		SymbolMap: map[string]string{
			"BTCUSD": "BTC-USD",
			"ETHUSD": "ETH-USD",
			"XAUUSD": "GC=F",
		},
		Spread: spread,
	}
}

func (f *YahooFeed) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	// Six-letter FX pairs use the =X suffix.
	if len(symbol) == 6 && strings.ToUpper(symbol) == symbol {
		return symbol + "=X"
	}
	return symbol
}

// yahooInterval maps terminal timeframes to Yahoo chart intervals and ranges.
func yahooInterval(timeframe string) (interval, rng string, err error) {
	switch strings.ToUpper(timeframe) {
	case "M1":
		return "1m", "5d", nil
	case "M5":
		return "5m", "5d", nil
	case "M15":
		return "15m", "1mo", nil
	case "M30":
		return "30m", "1mo", nil
	case "H1":
		return "60m", "3mo", nil
	case "D1":
		return "1d", "2y", nil
	default:
		return "", "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func deref(v []*float64, i int) float64 {
	if i >= len(v) || v[i] == nil {
		return 0
	}
	return *v[i]
}

func (f *YahooFeed) fetchChart(ctx context.Context, symbol, interval, rng string) ([]model.OHLCV, error) {
	if err := f.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), interval, rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no data returned")
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.OHLCV, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		c := deref(quote.Close, i)
		if c == 0 {
			continue // skip null bars (market closed)
		}
		bars = append(bars, model.OHLCV{
			Time:   time.Unix(ts, 0),
			Open:   deref(quote.Open, i),
			High:   deref(quote.High, i),
			Low:    deref(quote.Low, i),
			Close:  c,
			Volume: deref(quote.Volume, i),
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func (f *YahooFeed) FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]model.OHLCV, error) {
	interval, rng, err := yahooInterval(timeframe)
	if err != nil {
		return nil, err
	}
	bars, err := f.fetchChart(ctx, symbol, interval, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Trim to requested count
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (f *YahooFeed) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	bars, err := f.fetchChart(ctx, symbol, "1m", "1d")
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(bars) == 0 {
		return model.Quote{}, fmt.Errorf("%w: yahoo: no price data", ErrUnavailable)
	}
	last := bars[len(bars)-1]
	return model.Quote{
		Symbol: symbol,
		Bid:    last.Close - f.Spread/2,
		Ask:    last.Close + f.Spread/2,
		Time:   last.Time,
	}, nil
}
