package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	amd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"cryptobars/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// AlpacaSource reads crypto pairs and daily crypto bars through the Alpaca
// trading and market-data APIs.
type AlpacaSource struct {
	trading *alpaca.Client
	data    *amd.Client
	log     *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials. The
// trading API (baseURL) lists assets; the data API (dataURL) serves bars.
func NewAlpacaSource(apiKey, apiSecret, baseURL, dataURL string) *AlpacaSource {
	opts := amd.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaSource{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: amd.NewClient(opts),
		log:  slog.Default().With("source", "alpaca"),
	}
}

// Name returns the provider identifier.
func (s *AlpacaSource) Name() string { return "alpaca" }

// Instruments lists active crypto assets. Alpaca crypto symbols are
// "BASE/QUOTE" pairs and every listed pair is spot-only.
func (s *AlpacaSource) Instruments(ctx context.Context) ([]Instrument, error) {
	assets, err := s.cryptoAssets(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Instrument, 0, len(assets))
	for _, a := range assets {
		base, quote, ok := strings.Cut(a.Symbol, "/")
		if !ok {
			continue
		}
		status := strings.ToUpper(string(a.Status))
		if status == "ACTIVE" {
			status = StatusTrading
		}
		out = append(out, Instrument{
			Symbol:      a.Symbol,
			BaseAsset:   base,
			QuoteAsset:  quote,
			Status:      status,
			SpotAllowed: a.Tradable,
		})
	}
	return out, nil
}

// Tickers24h derives the trailing quote volume from each pair's latest daily
// bar (volume × VWAP, falling back to close when VWAP is absent).
func (s *AlpacaSource) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	assets, err := s.cryptoAssets(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a.Symbol)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	now := time.Now().UTC()
	multi, err := s.data.GetCryptoMultiBars(symbols, amd.GetCryptoBarsRequest{
		TimeFrame: amd.OneDay,
		Start:     now.Add(-48 * time.Hour),
		End:       now,
	})
	if err != nil {
		return nil, &NetworkError{Op: "GetCryptoMultiBars", Err: err}
	}

	out := make([]Ticker24h, 0, len(multi))
	for sym, bars := range multi {
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		price := last.VWAP
		if price == 0 {
			price = last.Close
		}
		out = append(out, Ticker24h{Symbol: sym, QuoteVolume: last.Volume * price})
	}
	return out, nil
}

// DailyCandles fetches daily crypto bars for symbol. Alpaca stamps crypto
// daily bars after UTC midnight, so the window extends to the end of the
// end day.
func (s *AlpacaSource) DailyCandles(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Candle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	bars, err := s.data.GetCryptoBars(symbol, amd.GetCryptoBarsRequest{
		TimeFrame:  amd.OneDay,
		Start:      util.Day(start),
		End:        util.AddDays(end, 1).Add(-time.Millisecond),
		TotalLimit: limit,
	})
	if err != nil {
		return nil, &NetworkError{Op: "GetCryptoBars", Err: err}
	}

	candles := make([]Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, Candle{
			OpenTime: b.Timestamp.UTC(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		})
	}
	return candles, nil
}

func (s *AlpacaSource) cryptoAssets(ctx context.Context) ([]alpaca.Asset, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	assets, err := s.trading.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "crypto",
	})
	if err != nil {
		return nil, &NetworkError{Op: "GetAssets", Err: err}
	}
	s.log.Debug("listed crypto assets", "count", len(assets))
	return assets, nil
}
