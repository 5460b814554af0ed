package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptobars/internal/domain"
	"cryptobars/internal/marketdata"
	"cryptobars/internal/store"
	"cryptobars/internal/util"
)

// Filler downloads, normalizes, gap-fills, and persists the bars a fetch
// task asks for.
type Filler struct {
	src        marketdata.Source
	store      store.BarStore
	archive    *store.ParquetArchive // optional mirror
	pageSize   int
	maxWorkers int
	log        *slog.Logger
}

// NewFiller creates a Filler that pages through src pageSize candles at a
// time and runs at most maxWorkers tasks concurrently.
func NewFiller(src marketdata.Source, st store.BarStore, pageSize, maxWorkers int) *Filler {
	return &Filler{
		src:        src,
		store:      st,
		pageSize:   pageSize,
		maxWorkers: max(maxWorkers, 1),
		log:        slog.Default().With("stage", "fill"),
	}
}

// WithArchive mirrors every persisted batch into a.
func (f *Filler) WithArchive(a *store.ParquetArchive) *Filler {
	f.archive = a
	return f
}

// FillResult is the outcome of a Run.
type FillResult struct {
	Tasks  int
	Rows   int
	Failed int
}

// Run drains tasks through a bounded worker pool. A failed task is logged,
// counted, and left for the next run; it never stops the others. Run returns
// an error only when ctx is cancelled.
func (f *Filler) Run(ctx context.Context, tasks <-chan domain.FetchTask) (FillResult, error) {
	var (
		total  atomic.Int64
		rows   atomic.Int64
		failed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxWorkers)

	for task := range tasks {
		if gctx.Err() != nil {
			break
		}
		total.Add(1)
		g.Go(func() error {
			n, err := f.Fill(gctx, task)
			if err != nil {
				failed.Add(1)
				f.log.Error("task failed",
					"symbol", task.Ticker,
					"start", util.FormatDay(task.Start),
					"end", util.FormatDay(task.End),
					"error", err,
				)
				return nil
			}
			rows.Add(int64(n))
			return nil
		})
	}

	_ = g.Wait()
	res := FillResult{
		Tasks:  int(total.Load()),
		Rows:   int(rows.Load()),
		Failed: int(failed.Load()),
	}
	return res, ctx.Err()
}

// Fill executes one task: every page is fetched before anything is
// written, so a failed task leaves storage as it was. On success every
// date in [task.Start, task.End] from the first known close onward has
// exactly one stored bar. It returns the number of bars upserted.
func (f *Filler) Fill(ctx context.Context, task domain.FetchTask) (int, error) {
	if task.SymbolID <= 0 {
		return 0, fmt.Errorf("%w: task for %s has no storage identity", ErrDataIntegrity, task.Ticker)
	}

	began := time.Now()
	candles, err := FetchAll(ctx, f.src, task.Ticker, task.Start, task.End, f.pageSize)
	if err != nil {
		return 0, err
	}

	bars := FillGaps(task.SymbolID, task.Start, task.End, NormalizeCandles(task.SymbolID, candles))
	if len(bars) == 0 {
		f.log.Info("no data for range",
			"symbol", task.Ticker,
			"start", util.FormatDay(task.Start),
			"end", util.FormatDay(task.End),
		)
		return 0, nil
	}

	n, err := f.store.UpsertBars(ctx, bars)
	if err != nil {
		return 0, fmt.Errorf("persisting %s: %w", task.Ticker, err)
	}

	if f.archive != nil {
		if err := f.archive.WriteBars(task.Ticker, bars); err != nil {
			f.log.Warn("archive write failed", "symbol", task.Ticker, "error", err)
		}
	}

	f.log.Info("filled",
		"symbol", task.Ticker,
		"start", util.FormatDay(task.Start),
		"end", util.FormatDay(task.End),
		"candles", len(candles),
		"rows", n,
		"elapsed", time.Since(began).Round(time.Millisecond),
	)
	return n, nil
}

// FetchAll pages through daily candles for ticker covering [start, end].
// Each page starts the day after the last candle of the previous one. The
// loop ends on an empty page or once the cursor passes end; a page that
// does not move the cursor forward yields ErrPaginationStall.
func FetchAll(ctx context.Context, src marketdata.Source, ticker string, start, end time.Time, pageSize int) ([]marketdata.Candle, error) {
	var all []marketdata.Candle
	cursor := util.Day(start)
	end = util.Day(end)

	for !cursor.After(end) {
		page, err := src.DailyCandles(ctx, ticker, cursor, end, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching %s candles from %s: %w", ticker, util.FormatDay(cursor), err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)

		next := util.AddDays(util.Day(page[len(page)-1].OpenTime), 1)
		if !next.After(cursor) {
			return nil, fmt.Errorf("%w: %s cursor stuck at %s", ErrPaginationStall, ticker, util.FormatDay(cursor))
		}
		cursor = next
	}
	return all, nil
}

// NormalizeCandles maps candles to bars keyed by UTC calendar date. The
// close doubles as the 24h last price and the raw OHLCV as the 24h window,
// since candles are already daily. Later candles for the same date win.
func NormalizeCandles(symbolID int64, candles []marketdata.Candle) map[time.Time]domain.DailyBar {
	out := make(map[time.Time]domain.DailyBar, len(candles))
	for _, c := range candles {
		d := util.Day(c.OpenTime)
		out[d] = domain.DailyBar{
			SymbolID:     symbolID,
			Date:         d,
			Open:         c.Open,
			High:         c.High,
			Low:          c.Low,
			Close:        c.Close,
			Volume:       c.Volume,
			LastPrice24h: c.Close,
			Volume24h:    c.Volume,
			High24h:      c.High,
			Low24h:       c.Low,
			Liquidity:    c.Volume,
		}
	}
	return out
}

// FillGaps walks every date in [start, end] and returns one bar per date in
// order. Dates without a real bar get a flat zero-volume bar at the
// previous close. Dates before the first real bar are skipped.
func FillGaps(symbolID int64, start, end time.Time, byDate map[time.Time]domain.DailyBar) []domain.DailyBar {
	var (
		bars      []domain.DailyBar
		prevClose float64
		havePrev  bool
	)

	util.EachDay(start, end, func(d time.Time) {
		if b, ok := byDate[d]; ok {
			bars = append(bars, b)
			prevClose, havePrev = b.Close, true
			return
		}
		if !havePrev {
			return
		}
		bars = append(bars, domain.DailyBar{
			SymbolID:     symbolID,
			Date:         d,
			Open:         prevClose,
			High:         prevClose,
			Low:          prevClose,
			Close:        prevClose,
			LastPrice24h: prevClose,
			High24h:      prevClose,
			Low24h:       prevClose,
		})
	})
	return bars
}
