package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"marketwatch/internal/scheduler"
)

// EnvPrefix namespaces environment overrides, e.g. MARKETWATCH_EXCHANGERATE_API_KEY.
const EnvPrefix = "MARKETWATCH"

type Server struct {
	Port               string `mapstructure:"port"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"`
}

type Refresh struct {
	IntervalSec int `mapstructure:"interval_sec"`
}

type History struct {
	Capacity int `mapstructure:"capacity"`
}

// Spread is the offset applied around a mid rate when the bank is down.
// Absolute wins when positive; otherwise Ratio×mid is used.
type Spread struct {
	Ratio    float64 `mapstructure:"ratio"`
	Absolute float64 `mapstructure:"absolute"`
}

type Sources struct {
	TimeoutSec   int      `mapstructure:"timeout_sec"`
	IndexSymbols []string `mapstructure:"index_symbols"`
	Pair         string   `mapstructure:"pair"`
	// IndexBackend selects the equity source: "yahoo" or "financego".
	IndexBackend string `mapstructure:"index_backend"`
	UserAgent    string `mapstructure:"user_agent"`
}

type Yahoo struct {
	Endpoint              string `mapstructure:"endpoint"`
	Region                string `mapstructure:"region"`
	MaxRequestsPerMinute  int    `mapstructure:"max_requests_per_minute"`
	MinRequestIntervalSec int    `mapstructure:"min_request_interval_sec"`
	Burst                 int    `mapstructure:"burst"`
}

type FinanceGo struct {
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute"`
	Burst                int `mapstructure:"burst"`
}

type BOC struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	Currency              string `mapstructure:"currency"`
	Unit                  int    `mapstructure:"unit"`
	MinRequestIntervalSec int    `mapstructure:"min_request_interval_sec"`
}

type ExchangeRate struct {
	Enabled              bool   `mapstructure:"enabled"`
	Endpoint             string `mapstructure:"endpoint"`
	APIKey               string `mapstructure:"api_key"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute"`
	Burst                int    `mapstructure:"burst"`
	CacheTTLSeconds      int    `mapstructure:"cache_ttl_sec"`
	CacheMaxItems        int    `mapstructure:"cache_max_items"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type Config struct {
	Server       Server       `mapstructure:"server"`
	Refresh      Refresh      `mapstructure:"refresh"`
	History      History      `mapstructure:"history"`
	Spread       Spread       `mapstructure:"spread"`
	Sources      Sources      `mapstructure:"sources"`
	Yahoo        Yahoo        `mapstructure:"yahoo"`
	FinanceGo    FinanceGo    `mapstructure:"financego"`
	BOC          BOC          `mapstructure:"boc"`
	ExchangeRate ExchangeRate `mapstructure:"exchangerate"`
	Log          Log          `mapstructure:"log"`
}

func Default() Config {
	return Config{
		Server:  Server{Port: "8080", ShutdownTimeoutSec: 5},
		Refresh: Refresh{IntervalSec: 60},
		History: History{Capacity: 500},
		Spread:  Spread{Ratio: 0.01},
		Sources: Sources{
			TimeoutSec:   8,
			IndexSymbols: []string{"^NDX", "^GSPC"},
			Pair:         "USD/CNY",
			IndexBackend: "yahoo",
			UserAgent:    "Mozilla/5.0 (compatible; marketwatch/1.0)",
		},
		Yahoo: Yahoo{
			Endpoint:             "https://query1.finance.yahoo.com",
			MaxRequestsPerMinute: 30,
			Burst:                4,
		},
		FinanceGo: FinanceGo{MaxRequestsPerMinute: 30, Burst: 4},
		BOC: BOC{
			Enabled:  true,
			Endpoint: "https://srh.bankofchina.com/search/whpj/search.jsp",
			Currency: "美元",
			Unit:     100,
		},
		ExchangeRate: ExchangeRate{
			Enabled:              true,
			Endpoint:             "https://api.exchangerate.host",
			MaxRequestsPerMinute: 10,
			Burst:                2,
			CacheTTLSeconds:      10,
			CacheMaxItems:        16,
		},
		Log: Log{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "logs/marketwatch.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// setDefaults registers every key so that environment overrides are seen
// by Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout_sec", d.Server.ShutdownTimeoutSec)
	v.SetDefault("refresh.interval_sec", d.Refresh.IntervalSec)
	v.SetDefault("history.capacity", d.History.Capacity)
	v.SetDefault("spread.ratio", d.Spread.Ratio)
	v.SetDefault("spread.absolute", d.Spread.Absolute)
	v.SetDefault("sources.timeout_sec", d.Sources.TimeoutSec)
	v.SetDefault("sources.index_symbols", d.Sources.IndexSymbols)
	v.SetDefault("sources.pair", d.Sources.Pair)
	v.SetDefault("sources.index_backend", d.Sources.IndexBackend)
	v.SetDefault("sources.user_agent", d.Sources.UserAgent)
	v.SetDefault("yahoo.endpoint", d.Yahoo.Endpoint)
	v.SetDefault("yahoo.region", d.Yahoo.Region)
	v.SetDefault("yahoo.max_requests_per_minute", d.Yahoo.MaxRequestsPerMinute)
	v.SetDefault("yahoo.min_request_interval_sec", d.Yahoo.MinRequestIntervalSec)
	v.SetDefault("yahoo.burst", d.Yahoo.Burst)
	v.SetDefault("financego.max_requests_per_minute", d.FinanceGo.MaxRequestsPerMinute)
	v.SetDefault("financego.burst", d.FinanceGo.Burst)
	v.SetDefault("boc.enabled", d.BOC.Enabled)
	v.SetDefault("boc.endpoint", d.BOC.Endpoint)
	v.SetDefault("boc.currency", d.BOC.Currency)
	v.SetDefault("boc.unit", d.BOC.Unit)
	v.SetDefault("boc.min_request_interval_sec", d.BOC.MinRequestIntervalSec)
	v.SetDefault("exchangerate.enabled", d.ExchangeRate.Enabled)
	v.SetDefault("exchangerate.endpoint", d.ExchangeRate.Endpoint)
	v.SetDefault("exchangerate.api_key", d.ExchangeRate.APIKey)
	v.SetDefault("exchangerate.max_requests_per_minute", d.ExchangeRate.MaxRequestsPerMinute)
	v.SetDefault("exchangerate.burst", d.ExchangeRate.Burst)
	v.SetDefault("exchangerate.cache_ttl_sec", d.ExchangeRate.CacheTTLSeconds)
	v.SetDefault("exchangerate.cache_max_items", d.ExchangeRate.CacheMaxItems)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file_path", d.Log.FilePath)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Load reads JSON config from path. If path is empty, ./config.json is used
// when present; a missing file means defaults. Environment variables
// (MARKETWATCH_SECTION_KEY) override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		} else if err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if err := scheduler.ValidateInterval(c.Refresh.IntervalSec); err != nil {
		errs = append(errs, fmt.Errorf("refresh.interval_sec: %w", err))
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity))
	}
	if c.Spread.Ratio < 0 || c.Spread.Absolute < 0 {
		errs = append(errs, errors.New("spread must not be negative"))
	}
	if c.Sources.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("sources.timeout_sec must be positive, got %d", c.Sources.TimeoutSec))
	}
	if len(c.Sources.IndexSymbols) == 0 {
		errs = append(errs, errors.New("sources.index_symbols is empty"))
	}
	switch c.Sources.IndexBackend {
	case "yahoo", "financego":
	default:
		errs = append(errs, fmt.Errorf("sources.index_backend %q is not yahoo or financego", c.Sources.IndexBackend))
	}
	if !c.BOC.Enabled && !c.ExchangeRate.Enabled {
		errs = append(errs, errors.New("at least one of boc and exchangerate must be enabled"))
	}
	return errors.Join(errs...)
}
