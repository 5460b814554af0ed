package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"cryptobars/internal/config"
	"cryptobars/internal/gather"
	"cryptobars/internal/marketdata"
	"cryptobars/internal/store"
	"cryptobars/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $CRYPTOBARS_CONFIG or "+config.DefaultPath+")")
	archive := flag.Bool("archive", false, "also mirror filled bars into the parquet archive")
	flag.Parse()

	if err := run(*cfgPath, *archive); err != nil {
		log.Fatalf("sync failed: %v", err)
	}
}

func run(cfgPath string, archive bool) error {
	cfg, err := config.Load(config.ResolvePath(cfgPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	src, err := marketdata.Open(cfg.MarketData)
	if err != nil {
		return err
	}

	var pa *store.ParquetArchive
	if archive {
		pa = store.NewParquetArchive(cfg.Storage.DataDir)
	}

	p := gather.NewPipeline(cfg.Sync, cfg.MarketData.PageSize, src, st, pa)
	report, err := p.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("synced %d symbols: %d tasks, %d rows, %d failed in %s\n",
		report.Symbols, report.Tasks, report.Rows, report.Failed, report.Elapsed.Round(time.Millisecond))
	return nil
}
