package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a configuration problem that must abort a run
// before any network call is made.
var ErrConfiguration = errors.New("configuration error")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the cryptobars ingestion daemon.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	MarketData MarketData `yaml:"marketdata"`
	Sync       Sync       `yaml:"sync"`
	Schedule   Schedule   `yaml:"schedule"`
	Logging    Logging    `yaml:"logging"`
}

// Storage selects and locates the persistence backend.
type Storage struct {
	Driver      string `yaml:"driver"` // "sqlite" or "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	DataDir     string `yaml:"data_dir"` // parquet archive root
}

// MarketData configures the upstream market-data provider.
type MarketData struct {
	Provider        string        `yaml:"provider"` // "binance" or "alpaca"
	Binance         Binance       `yaml:"binance"`
	Alpaca          Alpaca        `yaml:"alpaca"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	PageSize        int           `yaml:"page_size"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Burst           int           `yaml:"burst"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
}

// Binance holds the REST endpoints of a Binance-compatible spot API.
type Binance struct {
	BaseURL          string `yaml:"base_url"`
	ExchangeInfoPath string `yaml:"exchange_info_path"`
	Ticker24hPath    string `yaml:"ticker_24h_path"`
	KlinesPath       string `yaml:"klines_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca crypto data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Sync controls symbol selection and history backfill.
type Sync struct {
	TopN         int      `yaml:"top_n"`
	HistoryDays  int      `yaml:"history_days"`
	StableQuotes []string `yaml:"stable_quotes"`
	MaxWorkers   int      `yaml:"max_workers"`
	QueueSize    int      `yaml:"queue_size"`
}

// Schedule configures daemon mode.
type Schedule struct {
	Cron       string `yaml:"cron"` // six-field spec, seconds first
	RunOnStart bool   `yaml:"run_on_start"`
	HealthAddr string `yaml:"health_addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "data/crypto.db",
			DataDir:    "data/archive",
		},
		MarketData: MarketData{
			Provider: "binance",
			Binance: Binance{
				BaseURL:          "https://api.binance.com",
				ExchangeInfoPath: "/api/v3/exchangeInfo",
				Ticker24hPath:    "/api/v3/ticker/24hr",
				KlinesPath:       "/api/v3/klines",
			},
			Alpaca: Alpaca{
				BaseURL: "https://api.alpaca.markets",
				DataURL: "https://data.alpaca.markets",
			},
			RequestTimeout:  30 * time.Second,
			PageSize:        1000,
			RateLimitPerMin: 1200,
			Burst:           10,
			MaxRetries:      3,
			RetryBaseDelay:  time.Second,
		},
		Sync: Sync{
			TopN:         1000,
			HistoryDays:  365 * 10,
			StableQuotes: []string{"USDT", "USDC", "FDUSD", "BUSD", "EUR", "BTC", "ETH", "BNB"},
			MaxWorkers:   4,
			QueueSize:    64,
		},
		Schedule: Schedule{
			Cron:       "0 15 0 * * *",
			HealthAddr: ":9090",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// DefaultPath is the configuration file used when neither a flag nor
// CRYPTOBARS_CONFIG names one.
const DefaultPath = "config/cryptobars.yaml"

// ResolvePath picks the configuration file: an explicit path wins, then the
// CRYPTOBARS_CONFIG environment variable, then DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("CRYPTOBARS_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path on top of the
// defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("MARKETDATA_PROVIDER"); v != "" {
		cfg.MarketData.Provider = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.MarketData.Binance.BaseURL = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.MarketData.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.MarketData.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.MarketData.Alpaca.DataURL = v
	}

	if v := os.Getenv("SYNC_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.TopN = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take precedence.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.MarketData.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.MarketData.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the configuration and returns an error wrapping
// ErrConfiguration listing every problem found.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			add("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		add("unknown storage.driver %q", c.Storage.Driver)
	}

	md := c.MarketData
	switch md.Provider {
	case "binance":
		if md.Binance.BaseURL == "" {
			add("marketdata.binance.base_url is required")
		}
		if md.Binance.ExchangeInfoPath == "" || md.Binance.Ticker24hPath == "" || md.Binance.KlinesPath == "" {
			add("marketdata.binance endpoint paths must be set")
		}
	case "alpaca":
		if md.Alpaca.DataURL == "" || md.Alpaca.BaseURL == "" {
			add("marketdata.alpaca base_url and data_url are required")
		}
	default:
		add("unknown marketdata.provider %q", md.Provider)
	}
	if md.PageSize <= 0 {
		add("marketdata.page_size must be positive")
	}
	if md.RequestTimeout <= 0 {
		add("marketdata.request_timeout must be positive")
	}

	if c.Sync.TopN <= 0 {
		add("sync.top_n must be positive")
	}
	if c.Sync.HistoryDays <= 0 {
		add("sync.history_days must be positive")
	}
	if len(c.Sync.StableQuotes) == 0 {
		add("sync.stable_quotes must not be empty")
	}
	if c.Sync.MaxWorkers <= 0 {
		add("sync.max_workers must be positive")
	}

	if c.Schedule.Cron != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Schedule.Cron); err != nil {
			add("schedule.cron %q: %v", c.Schedule.Cron, err)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// StableQuoteSet returns the stable quote allow-list as an upper-case set.
func (s Sync) StableQuoteSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.StableQuotes))
	for _, q := range s.StableQuotes {
		q = strings.ToUpper(strings.TrimSpace(q))
		if q != "" {
			set[q] = struct{}{}
		}
	}
	return set
}
