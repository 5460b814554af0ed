package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"cryptobars/internal/domain"
	"cryptobars/internal/marketdata"
	"cryptobars/internal/store"
)

// Selector ranks eligible spot pairs by trailing 24h quote volume, replaces
// the stored active set with the top of the ranking, and emits the result.
type Selector struct {
	src          marketdata.Source
	store        store.SymbolStore
	stableQuotes map[string]struct{}
	queueSize    int
	log          *slog.Logger
}

// NewSelector creates a Selector admitting only pairs quoted in one of
// stableQuotes. queueSize bounds the output channel.
func NewSelector(src marketdata.Source, st store.SymbolStore, stableQuotes map[string]struct{}, queueSize int) *Selector {
	return &Selector{
		src:          src,
		store:        st,
		stableQuotes: stableQuotes,
		queueSize:    max(queueSize, 0),
		log:          slog.Default().With("stage", "select"),
	}
}

// Select fetches instrument metadata and 24h statistics, ranks the eligible
// pairs, and atomically replaces the active set with the best maxSymbols of
// them. Any upstream or storage failure is returned before anything is
// emitted. When no pair survives filtering the stored active set is left
// untouched and the returned channel is closed immediately.
//
// The returned channel yields symbols with their storage identity set, in
// rank order, and is closed when all are sent or ctx is done.
func (s *Selector) Select(ctx context.Context, maxSymbols int) (<-chan domain.Symbol, error) {
	instruments, err := s.src.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching instruments: %w", err)
	}
	tickers, err := s.src.Tickers24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching 24h tickers: %w", err)
	}

	ranked := rankCandidates(instruments, tickers, s.stableQuotes, maxSymbols)
	s.log.Info("ranked candidates",
		"instruments", len(instruments),
		"tickers", len(tickers),
		"selected", len(ranked),
		"budget", maxSymbols,
	)

	out := make(chan domain.Symbol, s.queueSize)
	if len(ranked) == 0 {
		s.log.Warn("no eligible symbols, keeping previous active set")
		close(out)
		return out, nil
	}

	resolved, err := s.store.ReplaceActiveSet(ctx, ranked)
	if err != nil {
		return nil, fmt.Errorf("replacing active set: %w", err)
	}

	go func() {
		defer close(out)
		for _, sym := range resolved {
			select {
			case out <- sym:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// rankCandidates filters instruments down to tradeable spot pairs quoted in
// stableQuotes with positive liquidity, orders them by liquidity descending
// then ticker ascending, and truncates to maxSymbols.
func rankCandidates(instruments []marketdata.Instrument, tickers []marketdata.Ticker24h, stableQuotes map[string]struct{}, maxSymbols int) []domain.Symbol {
	liquidity := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		liquidity[t.Symbol] = t.QuoteVolume
	}

	var candidates []domain.Symbol
	seen := make(map[string]struct{}, len(instruments))
	for _, inst := range instruments {
		if !inst.Tradeable() {
			continue
		}
		if _, dup := seen[inst.Symbol]; dup {
			continue
		}
		if _, ok := stableQuotes[strings.ToUpper(inst.QuoteAsset)]; !ok {
			continue
		}
		liq := liquidity[inst.Symbol]
		if !(liq > 0) {
			continue
		}
		seen[inst.Symbol] = struct{}{}
		candidates = append(candidates, domain.Symbol{
			Ticker:     inst.Symbol,
			BaseAsset:  inst.BaseAsset,
			QuoteAsset: inst.QuoteAsset,
			Liquidity:  liq,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Liquidity != candidates[j].Liquidity {
			return candidates[i].Liquidity > candidates[j].Liquidity
		}
		return candidates[i].Ticker < candidates[j].Ticker
	})

	if maxSymbols < 0 {
		maxSymbols = 0
	}
	if len(candidates) > maxSymbols {
		candidates = candidates[:maxSymbols]
	}
	return candidates
}
