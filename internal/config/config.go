package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Log struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
	Universe struct {
		File       string        `yaml:"file" validate:"required"`
		BaseURL    string        `yaml:"base_url" validate:"required,url"`
		APIKey     string        `yaml:"api_key"`
		PerPage    int           `yaml:"per_page" validate:"gte=1,lte=250"`
		MaxPages   int           `yaml:"max_pages" validate:"gte=1"`
		MinVolume  float64       `yaml:"min_volume" validate:"gte=0"`
		Cap        int           `yaml:"cap" validate:"gte=1"`
		PagePause  time.Duration `yaml:"page_pause"`
	} `yaml:"universe"`
	Providers struct {
		// Order is the fallback order; a provider left out is disabled.
		Order          []string      `yaml:"order" validate:"min=1,unique,dive,oneof=yahoo binance coingecko"`
		RateLimitDelay time.Duration `yaml:"rate_limit_delay" validate:"gte=0"`
		RetryBackoff   time.Duration `yaml:"retry_backoff" validate:"gte=0"`
		MaxRetries     int           `yaml:"max_retries" validate:"gte=0,lte=20"`
		Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
		YahooURL       string        `yaml:"yahoo_url" validate:"required,url"`
		BinanceURL     string        `yaml:"binance_url" validate:"required,url"`
		CoinGeckoURL   string        `yaml:"coingecko_url" validate:"required,url"`
		CoinGeckoKey   string        `yaml:"coingecko_api_key"`
		CoinGeckoDays  int           `yaml:"coingecko_days" validate:"gte=1"`
		BinanceYears   int           `yaml:"binance_years" validate:"gte=1"`
	} `yaml:"providers"`
	Storage struct {
		Backend    string `yaml:"backend" validate:"oneof=csv sqlite"`
		Root       string `yaml:"root" validate:"required"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Pipeline struct {
		Workers     int           `yaml:"workers" validate:"gte=1,lte=64"`
		SymbolPause time.Duration `yaml:"symbol_pause" validate:"gte=0"`
	} `yaml:"pipeline"`
	Lock struct {
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db"`
		Key           string        `yaml:"key"`
		TTL           time.Duration `yaml:"ttl"`
	} `yaml:"lock"`
	Merge struct {
		Output       string `yaml:"output" validate:"required"`
		OnChainDir   string `yaml:"onchain_dir"`
		OnChainURL   string `yaml:"onchain_url" validate:"omitempty,url"`
		SentimentCSV string `yaml:"sentiment_csv"`
		SinkDriver   string `yaml:"sink_driver" validate:"omitempty,oneof=sqlite postgres"`
		SinkDSN      string `yaml:"sink_dsn" validate:"required_with=SinkDriver"`
		SinkTable    string `yaml:"sink_table"`
	} `yaml:"merge"`
	Services struct {
		IndicatorURL string `yaml:"indicator_url" validate:"omitempty,url"`
		ForecastURL  string `yaml:"forecast_url" validate:"omitempty,url"`
	} `yaml:"services"`
	Schedule struct {
		DailyCron    string `yaml:"daily_cron"`
		UniverseCron string `yaml:"universe_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id" validate:"required_with=BotToken"`
	} `yaml:"telegram"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load starts from the defaults, then applies the YAML file, .env and environment
// variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()
	cfg.deriveDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HARVEST_UNIVERSE_FILE"); v != "" {
		c.Universe.File = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.Universe.APIKey = v
		c.Providers.CoinGeckoKey = v
	}
	if v := os.Getenv("HARVEST_PROVIDERS"); v != "" {
		c.Providers.Order = splitList(v)
	}
	if v := os.Getenv("HARVEST_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("HARVEST_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("HARVEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Lock.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Lock.RedisPassword = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("MERGE_SINK_DSN"); v != "" {
		c.Merge.SinkDSN = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("%w: storage.sqlite_path is required for the sqlite backend", ErrInvalidConfig)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
