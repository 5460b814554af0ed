package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"cryptobars/internal/config"
	"cryptobars/internal/store"
	"cryptobars/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $CRYPTOBARS_CONFIG or "+config.DefaultPath+")")
	from := flag.String("from", "", "first day to export, YYYY-MM-DD (default: history window start)")
	to := flag.String("to", "", "last day to export, YYYY-MM-DD (default: today)")
	flag.Parse()

	if err := run(*cfgPath, *from, *to); err != nil {
		log.Fatalf("export failed: %v", err)
	}
}

func run(cfgPath, from, to string) error {
	cfg, err := config.Load(config.ResolvePath(cfgPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	end := util.Today()
	if to != "" {
		if end, err = util.ParseDay(to); err != nil {
			return fmt.Errorf("parsing -to: %w", err)
		}
	}
	start := util.AddDays(end, -cfg.Sync.HistoryDays)
	if from != "" {
		if start, err = util.ParseDay(from); err != nil {
			return fmt.Errorf("parsing -from: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	symbols, err := st.ActiveSymbols(ctx)
	if err != nil {
		return err
	}

	archive := store.NewParquetArchive(cfg.Storage.DataDir)
	began := time.Now()
	total := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bars, err := st.ReadBars(ctx, sym.ID, start, end)
		if err != nil {
			return fmt.Errorf("reading %s: %w", sym.Ticker, err)
		}
		if err := archive.WriteBars(sym.Ticker, bars); err != nil {
			return fmt.Errorf("archiving %s: %w", sym.Ticker, err)
		}
		total += len(bars)
		slog.Debug("exported", "symbol", sym.Ticker, "bars", len(bars))
	}

	fmt.Printf("exported %d bars for %d symbols to %s in %s\n",
		total, len(symbols), cfg.Storage.DataDir, time.Since(began).Round(time.Millisecond))
	return nil
}
