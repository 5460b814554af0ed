package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"cryptobars/internal/domain"
	"cryptobars/internal/store"
	"cryptobars/internal/util"
)

// Detector turns symbols into fetch tasks covering the dates storage is
// still missing. It only reads from storage.
type Detector struct {
	store       store.BarStore
	historyDays int
	queueSize   int
	now         func() time.Time
	failed      atomic.Int64
	log         *slog.Logger
}

// NewDetector creates a Detector that backfills historyDays of history for
// symbols with no stored bars.
func NewDetector(st store.BarStore, historyDays, queueSize int) *Detector {
	return &Detector{
		store:       st,
		historyDays: historyDays,
		queueSize:   max(queueSize, 0),
		now:         time.Now,
		log:         slog.Default().With("stage", "detect"),
	}
}

// Detect computes the missing range for sym. ok is false when the symbol is
// already current as of today.
//
//   - no stored bars:     [today - historyDays, today]
//   - last stored date d: [d + 1, today]
func (d *Detector) Detect(ctx context.Context, sym domain.Symbol) (task domain.FetchTask, ok bool, err error) {
	if !sym.HasID() {
		return task, false, fmt.Errorf("%w: symbol %s has no storage identity", ErrDataIntegrity, sym.Ticker)
	}

	last, found, err := d.store.LastBarDate(ctx, sym.ID)
	if errors.Is(err, store.ErrNotFound) {
		return task, false, fmt.Errorf("%w: symbol %s (id %d) missing from storage", ErrDataIntegrity, sym.Ticker, sym.ID)
	}
	if err != nil {
		return task, false, fmt.Errorf("last bar date for %s: %w", sym.Ticker, err)
	}

	end := util.Day(d.now())
	start := util.AddDays(end, -d.historyDays)
	if found {
		start = util.AddDays(last, 1)
	}
	if start.After(end) {
		return task, false, nil
	}

	return domain.FetchTask{
		SymbolID: sym.ID,
		Ticker:   sym.Ticker,
		Start:    start,
		End:      end,
	}, true, nil
}

// Run consumes symbols from in and emits a task for every symbol with a gap.
// Per-symbol failures are logged and counted, never fatal. The returned
// channel is closed once in is drained or ctx is done.
func (d *Detector) Run(ctx context.Context, in <-chan domain.Symbol) <-chan domain.FetchTask {
	out := make(chan domain.FetchTask, d.queueSize)
	go func() {
		defer close(out)
		for sym := range in {
			task, ok, err := d.Detect(ctx, sym)
			if err != nil {
				d.failed.Add(1)
				d.log.Error("gap detection failed", "symbol", sym.Ticker, "error", err)
				continue
			}
			if !ok {
				d.log.Debug("symbol is current", "symbol", sym.Ticker)
				continue
			}
			select {
			case out <- task:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Failed returns the number of symbols Run has skipped because of errors.
func (d *Detector) Failed() int { return int(d.failed.Load()) }
