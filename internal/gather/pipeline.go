package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptobars/internal/config"
	"cryptobars/internal/marketdata"
	"cryptobars/internal/store"
)

// Compile-time interface check.
var _ Gatherer = (*Pipeline)(nil)

// Pipeline chains Selector, Detector, and Filler. Stages run concurrently
// and hand work downstream over bounded channels.
type Pipeline struct {
	Selector *Selector
	Detector *Detector
	Filler   *Filler
	TopN     int
	log      *slog.Logger
}

// NewPipeline wires the three stages from cfg over the given source and
// store. archive may be nil.
func NewPipeline(cfg config.Sync, pageSize int, src marketdata.Source, st store.Store, archive *store.ParquetArchive) *Pipeline {
	filler := NewFiller(src, st, pageSize, cfg.MaxWorkers)
	if archive != nil {
		filler.WithArchive(archive)
	}
	return &Pipeline{
		Selector: NewSelector(src, st, cfg.StableQuoteSet(), cfg.QueueSize),
		Detector: NewDetector(st, cfg.HistoryDays, cfg.QueueSize),
		Filler:   filler,
		TopN:     cfg.TopN,
		log:      slog.Default().With("component", "pipeline"),
	}
}

// Name returns the gatherer identifier.
func (p *Pipeline) Name() string { return "crypto-daily" }

// Run performs one select, detect, fill pass. A selector failure aborts the
// run before any bar is written; detector and filler failures are counted
// in the report and retried on the next run.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	began := time.Now()
	p.log.Info("pipeline starting", "top_n", p.TopN)

	symbols, err := p.Selector.Select(ctx, p.TopN)
	if err != nil {
		return Report{Elapsed: time.Since(began)}, fmt.Errorf("selecting symbols: %w", err)
	}

	counted := make(chan struct{})
	var nSymbols int
	tapped := tap(ctx, symbols, &nSymbols, counted)

	failedBefore := p.Detector.Failed()
	tasks := p.Detector.Run(ctx, tapped)
	res, err := p.Filler.Run(ctx, tasks)
	<-counted

	report := Report{
		Symbols: nSymbols,
		Tasks:   res.Tasks,
		Rows:    res.Rows,
		Failed:  res.Failed + p.Detector.Failed() - failedBefore,
		Elapsed: time.Since(began),
	}
	p.log.Info("pipeline finished",
		"symbols", report.Symbols,
		"tasks", report.Tasks,
		"rows", report.Rows,
		"failed", report.Failed,
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)
	if err != nil {
		return report, fmt.Errorf("filling history: %w", err)
	}
	return report, nil
}

// tap forwards values from in, counting them into n, and closes done once
// in is drained or ctx is done.
func tap[T any](ctx context.Context, in <-chan T, n *int, done chan<- struct{}) <-chan T {
	out := make(chan T, cap(in))
	go func() {
		defer close(done)
		defer close(out)
		for v := range in {
			select {
			case out <- v:
				*n++
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
