package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptobars/internal/util"
)

// Compile-time interface check.
var _ Source = (*BinanceClient)(nil)

// BinanceOptions configures a BinanceClient.
type BinanceOptions struct {
	BaseURL          string
	ExchangeInfoPath string
	Ticker24hPath    string
	KlinesPath       string
	Timeout          time.Duration
	HTTPClient       *http.Client // optional; overrides Timeout
}

// BinanceClient reads spot metadata, 24h tickers, and daily klines from a
// Binance-compatible REST API.
type BinanceClient struct {
	opts   BinanceOptions
	client *http.Client
	log    *slog.Logger
}

// NewBinanceClient creates a BinanceClient. Empty endpoint paths fall back
// to the public Binance v3 paths.
func NewBinanceClient(opts BinanceOptions) *BinanceClient {
	if opts.ExchangeInfoPath == "" {
		opts.ExchangeInfoPath = "/api/v3/exchangeInfo"
	}
	if opts.Ticker24hPath == "" {
		opts.Ticker24hPath = "/api/v3/ticker/24hr"
	}
	if opts.KlinesPath == "" {
		opts.KlinesPath = "/api/v3/klines"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &BinanceClient{
		opts:   opts,
		client: client,
		log:    slog.Default().With("source", "binance"),
	}
}

// Name returns the provider identifier.
func (c *BinanceClient) Name() string { return "binance" }

// binanceExchangeInfo is the subset of /exchangeInfo the selector consumes.
type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol               string `json:"symbol"`
		Status               string `json:"status"`
		BaseAsset            string `json:"baseAsset"`
		QuoteAsset           string `json:"quoteAsset"`
		IsSpotTradingAllowed *bool  `json:"isSpotTradingAllowed"`
	} `json:"symbols"`
}

type binanceTicker struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// Instruments calls the exchange-info endpoint restricted to SPOT pairs.
func (c *BinanceClient) Instruments(ctx context.Context) ([]Instrument, error) {
	var info binanceExchangeInfo
	q := url.Values{"permissions": {"SPOT"}}
	if err := c.getJSON(ctx, c.opts.ExchangeInfoPath, q, &info); err != nil {
		return nil, err
	}

	out := make([]Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		// A missing flag means the endpoint was already filtered to SPOT.
		spot := s.IsSpotTradingAllowed == nil || *s.IsSpotTradingAllowed
		out = append(out, Instrument{
			Symbol:      s.Symbol,
			BaseAsset:   s.BaseAsset,
			QuoteAsset:  s.QuoteAsset,
			Status:      s.Status,
			SpotAllowed: spot,
		})
	}
	return out, nil
}

// Tickers24h calls the 24h statistics endpoint for all pairs.
func (c *BinanceClient) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	var raw []binanceTicker
	if err := c.getJSON(ctx, c.opts.Ticker24hPath, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]Ticker24h, 0, len(raw))
	for _, t := range raw {
		out = append(out, Ticker24h{Symbol: t.Symbol, QuoteVolume: ParseFloat(t.QuoteVolume)})
	}
	return out, nil
}

// DailyCandles calls the klines endpoint with interval=1d. start and end are
// sent as UTC-midnight millisecond timestamps.
func (c *BinanceClient) DailyCandles(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Candle, error) {
	q := url.Values{
		"symbol":    {symbol},
		"interval":  {"1d"},
		"startTime": {strconv.FormatInt(util.DayToMillis(start), 10)},
		"endTime":   {strconv.FormatInt(util.DayToMillis(end), 10)},
		"limit":     {strconv.Itoa(limit)},
	}

	var rows [][]json.RawMessage
	if err := c.getJSON(ctx, c.opts.KlinesPath, q, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		candle, ok := decodeKline(row)
		if !ok {
			c.log.Warn("dropping malformed kline", "symbol", symbol, "index", i)
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// decodeKline reads [openTimeMs, open, high, low, close, volume, ...].
// Only the first six fields are consumed.
func decodeKline(row []json.RawMessage) (Candle, bool) {
	if len(row) < 6 {
		return Candle{}, false
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Candle{}, false
	}

	var vals [5]float64
	for i := range vals {
		v, ok := rawFloat(row[i+1])
		if !ok {
			return Candle{}, false
		}
		vals[i] = v
	}

	return Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, true
}

// rawFloat accepts either a JSON string ("1.23") or a JSON number.
func rawFloat(msg json.RawMessage) (float64, bool) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return v, err == nil
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f, true
	}
	return 0, false
}

func (c *BinanceClient) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	u := c.opts.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request %s: %w", path, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NetworkError{Op: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &NetworkError{Op: path, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
