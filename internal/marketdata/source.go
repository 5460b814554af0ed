// Package marketdata maps external spot-market APIs into strongly typed
// instrument, ticker, and candle records.
package marketdata

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Instrument is exchange metadata for one spot pair.
type Instrument struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	Status      string // StatusTrading when the pair is open
	SpotAllowed bool
}

// StatusTrading is the normalized status of a tradeable instrument.
const StatusTrading = "TRADING"

// Tradeable reports whether the instrument is open for spot trading.
func (i Instrument) Tradeable() bool {
	return i.Status == StatusTrading && i.SpotAllowed
}

// Ticker24h carries the trailing 24h traded quote volume of a pair.
type Ticker24h struct {
	Symbol      string
	QuoteVolume float64
}

// Candle is one daily OHLCV candle. OpenTime is the candle's open instant
// in UTC.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Source is a read-only market-data provider.
type Source interface {
	// Name returns the provider identifier.
	Name() string

	// Instruments returns metadata for every listed spot pair.
	Instruments(ctx context.Context) ([]Instrument, error)

	// Tickers24h returns trailing 24h statistics for every pair.
	Tickers24h(ctx context.Context) ([]Ticker24h, error)

	// DailyCandles returns up to limit daily candles for symbol whose open
	// time falls in [start, end], ordered by open time.
	DailyCandles(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Candle, error)
}

// ParseFloat parses a string-encoded numeric field. Empty or malformed input
// yields 0, never an error.
func ParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
