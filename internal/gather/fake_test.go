package gather

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cryptobars/internal/marketdata"
	"cryptobars/internal/store"
)

// fakeSource serves canned market data. Candle calls beyond failAfter fail
// with candleErr when it is set.
type fakeSource struct {
	instruments []marketdata.Instrument
	tickers     []marketdata.Ticker24h
	instErr     error
	tickErr     error

	candles   map[string][]marketdata.Candle
	candleErr error
	failAfter int64
	calls     atomic.Int64
}

var _ marketdata.Source = (*fakeSource)(nil)

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Instruments(context.Context) ([]marketdata.Instrument, error) {
	return f.instruments, f.instErr
}

func (f *fakeSource) Tickers24h(context.Context) ([]marketdata.Ticker24h, error) {
	return f.tickers, f.tickErr
}

func (f *fakeSource) DailyCandles(_ context.Context, symbol string, start, end time.Time, limit int) ([]marketdata.Candle, error) {
	n := f.calls.Add(1)
	if f.candleErr != nil && n > f.failAfter {
		return nil, f.candleErr
	}
	var out []marketdata.Candle
	for _, c := range f.candles[symbol] {
		if c.OpenTime.Before(start) || c.OpenTime.After(end) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func spot(symbol, base, quote string) marketdata.Instrument {
	return marketdata.Instrument{
		Symbol:      symbol,
		BaseAsset:   base,
		QuoteAsset:  quote,
		Status:      marketdata.StatusTrading,
		SpotAllowed: true,
	}
}

func candle(d time.Time, open, high, low, close, volume float64) marketdata.Candle {
	return marketdata.Candle{OpenTime: d, Open: open, High: high, Low: low, Close: close, Volume: volume}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "crypto.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var stableQuotes = map[string]struct{}{"USDT": {}, "USDC": {}}
