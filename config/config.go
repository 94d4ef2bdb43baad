package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"voldash/logger"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	NSE       NSEConfig       `json:"nse"`
	Market    MarketConfig    `json:"market"`
	SQLite    SQLiteConfig    `json:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres"`
	Redis     RedisConfig     `json:"redis"`
	NATS      NATSConfig      `json:"nats"`
	Refresher RefresherConfig `json:"refresher"`
	Analytics AnalyticsConfig `json:"analytics"`
}

type ServerConfig struct {
	Port string `json:"port"`
}

type NSEConfig struct {
	BaseURL      string `json:"base_url"`
	WarmupURL    string `json:"warmup_url"`
	Timeout      string `json:"timeout"`
	MaxAttempts  int    `json:"max_attempts"`
	RetryBackoff string `json:"retry_backoff"`

	timeoutDuration time.Duration
	backoffDuration time.Duration
}

// MarketConfig describes the venue session. Offsets and session bounds are
// minutes; defaults are IST (+05:30) 09:15-15:30.
type MarketConfig struct {
	UTCOffsetMinutes int `json:"utc_offset_minutes"`
	SessionStart     int `json:"session_start"`
	SessionEnd       int `json:"session_end"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type PostgresConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	DBName         string `json:"dbname"`
	MaxConnections int    `json:"max_connections"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type NATSConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

type RefresherConfig struct {
	Interval string   `json:"interval"`
	Symbols  []string `json:"symbols"`
	CacheTTL string   `json:"cache_ttl"`

	intervalDuration time.Duration
	cacheTTLDuration time.Duration
}

// AnalyticsConfig carries the derivation constants. The CE/PE spike thresholds
// are intentionally asymmetric and kept separately configurable.
type AnalyticsConfig struct {
	RiskFreeRate     float64 `json:"risk_free_rate"`
	CESpikeThreshold float64 `json:"ce_spike_threshold"`
	PESpikeThreshold float64 `json:"pe_spike_threshold"`
	SurfaceExpiries  int     `json:"surface_expiries"`
	SurfaceWindow    int     `json:"surface_window"`
}

var (
	instance *Config
	once     sync.Once
)

// GetConfig loads configuration once: defaults, then config/config.json if
// present, then .env overrides.
func GetConfig() *Config {
	once.Do(func() {
		instance = load()
	})
	return instance
}

func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: "5000"},
		NSE: NSEConfig{
			BaseURL:      "https://www.nseindia.com/api/option-chain-indices",
			WarmupURL:    "https://www.nseindia.com",
			Timeout:      "10s",
			MaxAttempts:  3,
			RetryBackoff: "2s",
		},
		Market: MarketConfig{
			UTCOffsetMinutes: 330,
			SessionStart:     9*60 + 15,
			SessionEnd:       15*60 + 30,
		},
		SQLite: SQLiteConfig{Path: "./data/voldash.db"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			DBName:         "voldash",
			MaxConnections: 10,
		},
		Redis: RedisConfig{Host: "localhost", Port: "6379", DB: 0},
		NATS:  NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "voldash.snapshots"},
		Refresher: RefresherConfig{
			Interval: "60s",
			Symbols:  []string{"NIFTY"},
			CacheTTL: "90s",
		},
		Analytics: AnalyticsConfig{
			RiskFreeRate:     0.06,
			CESpikeThreshold: 20,
			PESpikeThreshold: 15,
			SurfaceExpiries:  4,
			SurfaceWindow:    5,
		},
	}
	// defaults are known-good duration strings
	_ = cfg.parseDurations()
	return cfg
}

func load() *Config {
	log := logger.GetLogger()

	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	workDir, err := os.Getwd()
	if err != nil {
		log.Error("Failed to get working directory", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	configPath := filepath.Join(workDir, "config", "config.json")
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			log.Error("Failed to parse config file", map[string]interface{}{
				"error": err.Error(),
				"path":  configPath,
			})
			os.Exit(1)
		}
		log.Info("Loaded configuration", map[string]interface{}{
			"path": configPath,
		})
	} else {
		log.Info("No config file found, using defaults", map[string]interface{}{
			"path": configPath,
		})
	}

	applyEnvOverrides(cfg)

	if err := cfg.parseDurations(); err != nil {
		log.Error("Invalid configuration", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOLDASH_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("VOLDASH_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("VOLDASH_NSE_BASE_URL"); v != "" {
		cfg.NSE.BaseURL = v
	}
	if v := os.Getenv("VOLDASH_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("VOLDASH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("VOLDASH_PG_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("VOLDASH_PG_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
}

func (c *Config) parseDurations() error {
	var err error
	if c.NSE.timeoutDuration, err = time.ParseDuration(c.NSE.Timeout); err != nil {
		return fmt.Errorf("invalid nse timeout: %w", err)
	}
	if c.NSE.backoffDuration, err = time.ParseDuration(c.NSE.RetryBackoff); err != nil {
		return fmt.Errorf("invalid nse retry_backoff: %w", err)
	}
	if c.Refresher.intervalDuration, err = time.ParseDuration(c.Refresher.Interval); err != nil {
		return fmt.Errorf("invalid refresher interval: %w", err)
	}
	if c.Refresher.cacheTTLDuration, err = time.ParseDuration(c.Refresher.CacheTTL); err != nil {
		return fmt.Errorf("invalid refresher cache_ttl: %w", err)
	}
	return nil
}

func (n *NSEConfig) GetTimeout() time.Duration {
	return n.timeoutDuration
}

func (n *NSEConfig) GetRetryBackoff() time.Duration {
	return n.backoffDuration
}

func (r *RefresherConfig) GetInterval() time.Duration {
	return r.intervalDuration
}

func (r *RefresherConfig) GetCacheTTL() time.Duration {
	return r.cacheTTLDuration
}

// ConnString builds a pgx connection string.
func (p *PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.DBName)
}

// Addr returns the host:port pair for the Redis client.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}
