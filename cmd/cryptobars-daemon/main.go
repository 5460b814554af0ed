package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cryptobars/internal/api"
	"cryptobars/internal/config"
	"cryptobars/internal/gather"
	"cryptobars/internal/marketdata"
	"cryptobars/internal/scheduler"
	"cryptobars/internal/store"
	"cryptobars/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $CRYPTOBARS_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		log.Fatalf("daemon error: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(config.ResolvePath(cfgPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Schedule.Cron == "" {
		return fmt.Errorf("%w: schedule.cron is required in daemon mode", config.ErrConfiguration)
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

	pipeline := gather.NewPipeline(cfg.Sync, cfg.MarketData.PageSize, src, st,
		store.NewParquetArchive(cfg.Storage.DataDir))
	health := api.NewServer(cfg.Schedule.HealthAddr)

	sched := scheduler.New(ctx, pipeline, func(r gather.Report, err error) {
		health.SetPipelineHealthy(err == nil)
		if err == nil {
			slog.Info("scheduled run complete",
				"symbols", r.Symbols, "tasks", r.Tasks, "rows", r.Rows, "failed", r.Failed)
		}
	})
	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.ListenAndServe(gctx) })
	g.Go(func() error {
		if cfg.Schedule.RunOnStart {
			sched.RunNow()
		}
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	slog.Info("cryptobars daemon started", "cron", cfg.Schedule.Cron, "health", cfg.Schedule.HealthAddr)
	return g.Wait()
}
