package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultLogLevel       = "info"
	DefaultUniverseFile   = "data/universe.json"
	DefaultCoinGeckoURL   = "https://api.coingecko.com"
	DefaultYahooURL       = "https://query1.finance.yahoo.com"
	DefaultBinanceURL     = "https://api.binance.com"
	DefaultPerPage        = 250
	DefaultMaxPages       = 10
	DefaultMinVolume      = 100000
	DefaultUniverseCap    = 1500
	DefaultPagePause      = 2 * time.Second
	DefaultRateLimitDelay = 15 * time.Second
	DefaultRetryBackoff   = 1 * time.Second
	DefaultMaxRetries     = 5
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultCoinGeckoDays  = 365
	DefaultBinanceYears   = 10
	DefaultStorageBackend = "csv"
	DefaultStorageRoot    = "data/historical"
	DefaultWorkers        = 1
	DefaultSymbolPause    = 100 * time.Millisecond
	DefaultLockKey        = "cryptoharvest:run-lock"
	DefaultLockTTL        = 6 * time.Hour
	DefaultMergeOutput    = "data/all_coins.csv"
	DefaultSinkTable      = "merged_daily"
	DefaultDailyCron      = "0 30 0 * * *"
	DefaultUniverseCron   = "0 0 0 * * 1"
	DefaultHTTPAddr       = ":8080"
	DefaultRecorderPath   = "data/harvest_runs.db"
)

// DefaultProviderOrder is the fallback order used when none is configured.
var DefaultProviderOrder = []string{"yahoo", "binance", "coingecko"}

// applyDefaults fills every field with its default. Load runs it before decoding
// the file, so a key present in YAML wins even when its value is zero.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	if c.Universe.File == "" {
		c.Universe.File = DefaultUniverseFile
	}
	if c.Universe.BaseURL == "" {
		c.Universe.BaseURL = DefaultCoinGeckoURL
	}
	if c.Universe.PerPage == 0 {
		c.Universe.PerPage = DefaultPerPage
	}
	if c.Universe.MaxPages == 0 {
		c.Universe.MaxPages = DefaultMaxPages
	}
	if c.Universe.MinVolume == 0 {
		c.Universe.MinVolume = DefaultMinVolume
	}
	if c.Universe.Cap == 0 {
		c.Universe.Cap = DefaultUniverseCap
	}
	if c.Universe.PagePause == 0 {
		c.Universe.PagePause = DefaultPagePause
	}

	if len(c.Providers.Order) == 0 {
		c.Providers.Order = append([]string(nil), DefaultProviderOrder...)
	}
	if c.Providers.RateLimitDelay == 0 {
		c.Providers.RateLimitDelay = DefaultRateLimitDelay
	}
	if c.Providers.RetryBackoff == 0 {
		c.Providers.RetryBackoff = DefaultRetryBackoff
	}
	if c.Providers.MaxRetries == 0 {
		c.Providers.MaxRetries = DefaultMaxRetries
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = DefaultHTTPTimeout
	}
	if c.Providers.YahooURL == "" {
		c.Providers.YahooURL = DefaultYahooURL
	}
	if c.Providers.BinanceURL == "" {
		c.Providers.BinanceURL = DefaultBinanceURL
	}
	if c.Providers.CoinGeckoDays == 0 {
		c.Providers.CoinGeckoDays = DefaultCoinGeckoDays
	}
	if c.Providers.BinanceYears == 0 {
		c.Providers.BinanceYears = DefaultBinanceYears
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Storage.Root == "" {
		c.Storage.Root = DefaultStorageRoot
	}

	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = DefaultWorkers
	}
	if c.Pipeline.SymbolPause == 0 {
		c.Pipeline.SymbolPause = DefaultSymbolPause
	}

	if c.Lock.Key == "" {
		c.Lock.Key = DefaultLockKey
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = DefaultLockTTL
	}

	if c.Merge.Output == "" {
		c.Merge.Output = DefaultMergeOutput
	}
	if c.Merge.SinkTable == "" {
		c.Merge.SinkTable = DefaultSinkTable
	}

	if c.Schedule.DailyCron == "" {
		c.Schedule.DailyCron = DefaultDailyCron
	}
	if c.Schedule.UniverseCron == "" {
		c.Schedule.UniverseCron = DefaultUniverseCron
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = DefaultRecorderPath
	}
}

// deriveDefaults fills fields whose default depends on other settings. It runs
// after the file and the environment are applied.
func (c *Config) deriveDefaults() {
	if c.Providers.CoinGeckoURL == "" {
		c.Providers.CoinGeckoURL = c.Universe.BaseURL
	}
	if c.Providers.CoinGeckoKey == "" {
		c.Providers.CoinGeckoKey = c.Universe.APIKey
	}
	if c.Merge.SinkDSN != "" && c.Merge.SinkDriver == "" {
		c.Merge.SinkDriver = "sqlite"
		if strings.HasPrefix(c.Merge.SinkDSN, "postgres") {
			c.Merge.SinkDriver = "postgres"
		}
	}
}
