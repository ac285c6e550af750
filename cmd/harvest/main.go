package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/config"
	"CryptoHarvest/internal/forecast"
	"CryptoHarvest/internal/httpapi"
	"CryptoHarvest/internal/indicator"
	"CryptoHarvest/internal/merge"
	"CryptoHarvest/internal/notifier"
	"CryptoHarvest/internal/scheduler"
	"CryptoHarvest/internal/universe"
)

const usage = `usage: harvest <command> [flags]

commands:
  run        update every symbol in the universe once
  universe   rebuild the universe file from the market-cap ranking
  merge      join stored series with on-chain metrics and sentiment
  sentiment  score a raw news CSV and write daily sentiment per symbol
  serve      run the scheduler, Telegram bot and HTTP API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		fatal(err, "config validation")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		err = runCmd(ctx, cfg, args)
	case "universe":
		err = universeCmd(ctx, cfg, args)
	case "merge":
		err = mergeCmd(ctx, cfg, args)
	case "sentiment":
		err = sentimentCmd(cfg, args)
	case "serve":
		err = serveCmd(ctx, cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		stop()
		fatal(err, cmd)
	}
}

func fatal(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}

// runCmd exits non-zero only when the run cannot start; symbol failures are reported.
func runCmd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	universeFile := fs.String("universe", cfg.Universe.File, "universe file (.json or .csv)")
	withMerge := fs.Bool("merge", false, "merge all series after the run")
	fs.Parse(args)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	locker, closeLocker := newLocker(cfg)
	defer closeLocker()
	p, err := newPipeline(cfg, store, locker)
	if err != nil {
		return err
	}
	rec := newRecorder(cfg)
	defer rec.Close()

	deps := scheduler.Deps{Pipeline: p, Store: store, Recorder: rec, UniverseFile: *universeFile}
	if *withMerge {
		opts := mergeOptions(cfg)
		deps.Merge = &opts
	}
	report, err := scheduler.NewScheduler(ctx, deps).RunNow()
	if err != nil {
		return err
	}
	for _, f := range report.Failures() {
		log.Warn().Str("symbol", f.Symbol).Str("state", string(f.State)).Str("err", f.Error).Msg("symbol failed")
	}
	fmt.Println(report.Summary())
	return nil
}

func universeCmd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("universe", flag.ExitOnError)
	out := fs.String("out", cfg.Universe.File, "output file (.json or .csv)")
	fs.Parse(args)

	entries, err := newBuilder(cfg).Build(ctx)
	if err != nil {
		return err
	}
	if err := universe.Save(*out, entries); err != nil {
		return err
	}
	fmt.Printf("saved %d symbols to %s\n", len(entries), *out)
	return nil
}

func mergeCmd(ctx context.Context, cfg *config.Config, args []string) error {
	opts := mergeOptions(cfg)
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	fs.StringVar(&opts.Output, "out", opts.Output, "merged CSV output")
	fs.StringVar(&opts.OnChainDir, "onchain", opts.OnChainDir, "directory of on-chain metric CSVs")
	fs.StringVar(&opts.OnChainURL, "onchain-url", opts.OnChainURL, "download missing on-chain CSVs from this base URL")
	fs.StringVar(&opts.SentimentPath, "sentiment", opts.SentimentPath, "daily or per-news sentiment CSV")
	fs.Parse(args)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// coin ids are a nicety; merge still works without the universe file
	entries, err := universe.Load(cfg.Universe.File)
	if err != nil {
		log.Warn().Err(err).Msg("universe unavailable, coin ids fall back to symbols")
	}
	n, err := merge.Run(ctx, store, entries, opts)
	if err != nil {
		return err
	}
	fmt.Printf("merged %d rows\n", n)
	return nil
}

func sentimentCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sentiment", flag.ExitOnError)
	in := fs.String("in", "data/news/news_expanded_filtered.csv", "raw news CSV (symbol, newsDatetime, title, description)")
	out := fs.String("out", cfg.Merge.SentimentCSV, "daily sentiment output")
	fs.Parse(args)
	if *out == "" {
		return errors.New("no output path: set -out or merge.sentiment_csv")
	}

	daily, err := merge.ScoreNewsFile(*in, *out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d daily scores to %s\n", len(daily), *out)
	return nil
}

func serveCmd(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	locker, closeLocker := newLocker(cfg)
	defer closeLocker()
	p, err := newPipeline(cfg, store, locker)
	if err != nil {
		return err
	}
	rec := newRecorder(cfg)
	defer rec.Close()

	opts := mergeOptions(cfg)
	deps := scheduler.Deps{
		Pipeline:     p,
		Store:        store,
		Recorder:     rec,
		Builder:      newBuilder(cfg),
		Merge:        &opts,
		UniverseFile: cfg.Universe.File,
	}
	if cfg.Telegram.BotToken != "" {
		deps.Notifier = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	}

	sched := scheduler.NewScheduler(ctx, deps)
	if err := sched.RegisterAll(cfg.Schedule.DailyCron, cfg.Schedule.UniverseCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if deps.Notifier != nil {
		go deps.Notifier.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	var ind indicator.Service = indicator.NewLocal()
	if cfg.Services.IndicatorURL != "" {
		ind = indicator.NewRemote(cfg.Services.IndicatorURL, nil)
	}
	var fc forecast.Forecaster
	if cfg.Services.ForecastURL != "" {
		fc = forecast.NewRemote(cfg.Services.ForecastURL, nil)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(sched, rec, store, ind, fc)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if os.Getenv("RUN_ON_START") == "true" {
		if _, err := sched.StartRun(); err != nil {
			log.Warn().Err(err).Msg("run on start skipped")
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, stopping")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
