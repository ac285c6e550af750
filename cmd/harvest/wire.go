package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/config"
	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/merge"
	"CryptoHarvest/internal/pipeline"
	"CryptoHarvest/internal/recorder"
	"CryptoHarvest/internal/runlock"
	"CryptoHarvest/internal/source"
	"CryptoHarvest/internal/universe"
)

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.Log.JSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
}

func httpConfig(cfg *config.Config) source.HTTPConfig {
	return source.HTTPConfig{
		Timeout:        cfg.Providers.Timeout,
		RateLimitDelay: cfg.Providers.RateLimitDelay,
		RetryBackoff:   cfg.Providers.RetryBackoff,
		MaxRetries:     cfg.Providers.MaxRetries,
		Proxy:          cfg.Proxy,
	}
}

func newResolver(cfg *config.Config) (*source.Resolver, error) {
	hc := httpConfig(cfg)
	registry := source.NewRegistry(
		source.NewYahooClient(cfg.Providers.YahooURL, hc),
		source.NewBinanceClient(cfg.Providers.BinanceURL, cfg.Providers.BinanceYears, hc),
		source.NewCoinGeckoClient(cfg.Providers.CoinGeckoURL, cfg.Providers.CoinGeckoKey, cfg.Providers.CoinGeckoDays, hc),
	)
	resolver, err := registry.Resolver(cfg.Providers.Order)
	if err != nil {
		return nil, err
	}
	log.Info().Strs("order", resolver.Providers()).Msg("data sources configured")
	return resolver, nil
}

func newLocker(cfg *config.Config) (runlock.Locker, func()) {
	if cfg.Lock.RedisAddr == "" {
		return runlock.NewLocal(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	log.Info().Str("addr", cfg.Lock.RedisAddr).Str("key", cfg.Lock.Key).Msg("using redis run lock")
	return runlock.NewRedis(client, cfg.Lock.Key, cfg.Lock.TTL), func() { client.Close() }
}

func newPipeline(cfg *config.Config, store history.Store, locker runlock.Locker) (*pipeline.Pipeline, error) {
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(resolver, store,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithPause(cfg.Pipeline.SymbolPause),
		pipeline.WithLocker(locker),
	), nil
}

func newRecorder(cfg *config.Config) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	rec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
	if err != nil {
		log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		return recorder.NewNoopRecorder()
	}
	return rec
}

func newBuilder(cfg *config.Config) *universe.Builder {
	return universe.NewBuilder(universe.Config{
		BaseURL:   cfg.Universe.BaseURL,
		APIKey:    cfg.Universe.APIKey,
		PerPage:   cfg.Universe.PerPage,
		MaxPages:  cfg.Universe.MaxPages,
		MinVolume: cfg.Universe.MinVolume,
		Cap:       cfg.Universe.Cap,
		PagePause: cfg.Universe.PagePause,
		HTTP:      httpConfig(cfg),
	})
}

func mergeOptions(cfg *config.Config) merge.Options {
	return merge.Options{
		Output:        cfg.Merge.Output,
		OnChainDir:    cfg.Merge.OnChainDir,
		OnChainURL:    cfg.Merge.OnChainURL,
		HTTP:          httpConfig(cfg),
		SentimentPath: cfg.Merge.SentimentCSV,
		SinkDriver:    cfg.Merge.SinkDriver,
		SinkDSN:       cfg.Merge.SinkDSN,
		SinkTable:     cfg.Merge.SinkTable,
	}
}

func openStore(cfg *config.Config) (history.Store, error) {
	store, err := history.Open(cfg.Storage.Backend, cfg.Storage.Root, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	log.Info().Str("backend", cfg.Storage.Backend).Str("root", strings.TrimSpace(cfg.Storage.Root)).Msg("history store opened")
	return store, nil
}
