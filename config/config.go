package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// HTTP API configuration
	Server struct {
		Port int `env:"SERVER_PORT" envDefault:"8080"`

		// Origins allowed by CORS, comma separated
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	}

	// File locations
	Paths struct {
		// Canonical property dataset
		Dataset string `env:"DATASET_PATH" envDefault:"data/properties.csv"`

		// Reference price table (city_name, zipcode, property_type, price_per_m2)
		ReferencePrices string `env:"REFERENCE_PRICES_PATH" envDefault:"data/reference_prices.csv"`

		// Sqlite cache for geocoding and DPE lookups
		CacheDB string `env:"CACHE_DB_PATH" envDefault:"data/lookup_cache.db"`

		// Listings file imported when the import command gets no argument
		RawImports string `env:"RAW_IMPORTS_PATH" envDefault:"data/raw_listings.csv"`
	}

	// Enrichment engine configuration
	Pipeline struct {
		// Maximum concurrent enrichment goroutines
		MaxConcurrent int `env:"PIPELINE_MAX_CONCURRENT" envDefault:"500"`

		// Enriched records accumulated before an incremental flush
		SaveBatchSize int `env:"PIPELINE_SAVE_BATCH_SIZE" envDefault:"100"`

		// Results channel capacity, 0 means twice the batch size
		ResultsBuffer int `env:"PIPELINE_RESULTS_BUFFER" envDefault:"0"`

		// Records between progress log lines
		ProgressInterval int `env:"PIPELINE_PROGRESS_INTERVAL" envDefault:"100"`
	}

	// Outbound HTTP client configuration
	Client struct {
		// Minimum delay between consecutive requests
		MinDelay time.Duration `env:"CLIENT_MIN_DELAY" envDefault:"100ms"`

		// Maximum attempts per request
		MaxRetries int `env:"CLIENT_MAX_RETRIES" envDefault:"5"`

		// Base backoff delay, doubled per attempt
		RetryDelay time.Duration `env:"CLIENT_RETRY_DELAY" envDefault:"1s"`

		// Backoff ceiling
		MaxDelay time.Duration `env:"CLIENT_MAX_DELAY" envDefault:"32s"`

		// Per-request timeout, 0 picks the default for the proxy mode
		Timeout time.Duration `env:"CLIENT_TIMEOUT" envDefault:"0s"`
	}

	// Rotating egress proxy, disabled unless credentials are set
	Proxy struct {
		Enabled  bool   `env:"PROXY_ENABLED" envDefault:"false"`
		Host     string `env:"PROXY_HOST" envDefault:"brd.superproxy.io"`
		Port     int    `env:"PROXY_PORT" envDefault:"22225"`
		Username string `env:"PROXY_USERNAME"`
		Password string `env:"PROXY_PASSWORD"`
	}

	// Price estimation configuration
	Estimator struct {
		// Year the reference prices describe
		AnchorYear int `env:"ESTIMATOR_ANCHOR_YEAR" envDefault:"2024"`
	}

	// Daily pipeline scheduling
	Scheduler struct {
		Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"false"`

		// Hour of day (0-23) to trigger the run
		Hour int `env:"SCHEDULER_HOUR" envDefault:"6"`
	}

	// Telegram run notifications
	Telegram struct {
		Enabled  bool   `env:"TELEGRAM_ENABLED" envDefault:"false"`
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `env:"TELEGRAM_CHAT_ID"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
