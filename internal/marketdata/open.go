package marketdata

import (
	"fmt"

	"cryptobars/internal/config"
)

// Open builds the provider selected by cfg.Provider and wraps it in a Gate
// configured from the same section.
func Open(cfg config.MarketData) (*Gate, error) {
	var src Source
	switch cfg.Provider {
	case "binance", "":
		src = NewBinanceClient(BinanceOptions{
			BaseURL:          cfg.Binance.BaseURL,
			ExchangeInfoPath: cfg.Binance.ExchangeInfoPath,
			Ticker24hPath:    cfg.Binance.Ticker24hPath,
			KlinesPath:       cfg.Binance.KlinesPath,
			Timeout:          cfg.RequestTimeout,
		})
	case "alpaca":
		src = NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL)
	default:
		return nil, fmt.Errorf("%w: unknown market-data provider %q", config.ErrConfiguration, cfg.Provider)
	}

	return NewGate(src, GateOptions{
		RateLimitPerMin: cfg.RateLimitPerMin,
		Burst:           cfg.Burst,
		CallTimeout:     cfg.RequestTimeout,
		MaxAttempts:     cfg.MaxRetries + 1,
		RetryBaseDelay:  cfg.RetryBaseDelay,
	}), nil
}
