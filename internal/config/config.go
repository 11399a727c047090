package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tickerwatch.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Fetch    Fetch    `yaml:"fetch"`
	Calendar Calendar `yaml:"calendar"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir        string `yaml:"data_dir"`
	SQLitePath     string `yaml:"sqlite_path"`
	HistoryBackend string `yaml:"history_backend"` // "sqlite" or "parquet"
	ReferenceDir   string `yaml:"reference_dir"`   // us_etf_*.csv / us_stock_*.csv
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"` // 0 disables the health endpoint
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Fetch controls the historical-data fetch collaborator.
type Fetch struct {
	Provider        string `yaml:"provider"` // "alpaca" or "mock"
	LookbackDays    int    `yaml:"lookback_days"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
	Concurrency     int    `yaml:"concurrency"`
}

// Calendar configures the trading-calendar estimator.
type Calendar struct {
	Timezone string `yaml:"timezone"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, loads an
// optional .env file, applies environment variable overrides, and fills
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/tickerwatch.db"
	}
	if c.Storage.HistoryBackend == "" {
		c.Storage.HistoryBackend = "sqlite"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Fetch.Provider == "" {
		c.Fetch.Provider = "mock"
	}
	if c.Fetch.LookbackDays == 0 {
		c.Fetch.LookbackDays = 30
	}
	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = 2
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "America/New_York"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("HISTORY_BACKEND"); v != "" {
		cfg.Storage.HistoryBackend = v
	}
	if v := os.Getenv("REFERENCE_DIR"); v != "" {
		cfg.Storage.ReferenceDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("FETCH_PROVIDER"); v != "" {
		cfg.Fetch.Provider = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("TICKERWATCH_TIMEZONE"); v != "" {
		cfg.Calendar.Timezone = v
	}

	// Standard Alpaca env vars (highest priority, canonical SDK names).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
