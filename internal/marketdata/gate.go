package marketdata

import (
	"context"
	"log/slog"
	"time"

	"cryptobars/internal/util"
)

// Compile-time interface check.
var _ Source = (*Gate)(nil)

// GateOptions configures a Gate.
type GateOptions struct {
	RateLimitPerMin int           // shared across all callers; <= 0 disables
	Burst           int           // tokens available at once
	CallTimeout     time.Duration // per-attempt deadline; 0 disables
	MaxAttempts     int           // total attempts per call, at least 1
	RetryBaseDelay  time.Duration
}

// Gate wraps a Source with a single admission gate shared by every caller, a
// per-call deadline, and bounded retry of transient failures.
type Gate struct {
	src     Source
	limiter *util.RateLimiter
	opts    GateOptions
	log     *slog.Logger
}

// NewGate wraps src. The returned Gate is safe for concurrent use.
func NewGate(src Source, opts GateOptions) *Gate {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Gate{
		src:     src,
		limiter: util.NewBurstRateLimiter(opts.RateLimitPerMin, opts.Burst),
		opts:    opts,
		log:     slog.Default().With("source", src.Name()),
	}
}

// Name returns the wrapped provider's identifier.
func (g *Gate) Name() string { return g.src.Name() }

// Instruments forwards to the wrapped Source through the gate.
func (g *Gate) Instruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	err := g.do(ctx, "instruments", func(ctx context.Context) error {
		var err error
		out, err = g.src.Instruments(ctx)
		return err
	})
	return out, err
}

// Tickers24h forwards to the wrapped Source through the gate.
func (g *Gate) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	var out []Ticker24h
	err := g.do(ctx, "tickers24h", func(ctx context.Context) error {
		var err error
		out, err = g.src.Tickers24h(ctx)
		return err
	})
	return out, err
}

// DailyCandles forwards to the wrapped Source through the gate.
func (g *Gate) DailyCandles(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Candle, error) {
	var out []Candle
	err := g.do(ctx, "candles", func(ctx context.Context) error {
		var err error
		out, err = g.src.DailyCandles(ctx, symbol, start, end, limit)
		return err
	})
	return out, err
}

func (g *Gate) do(ctx context.Context, op string, call func(context.Context) error) error {
	attempt := 0
	return util.RetryIf(ctx, g.opts.MaxAttempts, g.opts.RetryBaseDelay, IsRetryable, func() error {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx := ctx
		if g.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
			defer cancel()
		}

		err := call(callCtx)
		if err != nil && attempt < g.opts.MaxAttempts && IsRetryable(err) {
			g.log.Warn("market-data call failed, retrying", "op", op, "attempt", attempt, "err", err)
		}
		return err
	})
}
