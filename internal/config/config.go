// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/model"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Trading  TradingConfig
	Prices   PriceConfig
	CORS     CORSConfig
	LogLevel slog.Level
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port string
}

// DatabaseConfig selects the store. URL (PostgreSQL) wins over Path (SQLite);
// with neither set the in-memory store is used.
type DatabaseConfig struct {
	URL  string
	Path string
}

// RedisConfig enables the read-through cache when URL is set.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// TradingConfig holds ledger settings.
type TradingConfig struct {
	StartingBalance decimal.Decimal
}

// PriceConfig holds market data settings.
type PriceConfig struct {
	SourceURL       string
	PollInterval    time.Duration
	RefreshSchedule string
	Tracked         []model.Listing
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// DefaultTracked is the symbol set seeded at startup.
var DefaultTracked = []model.Listing{
	{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology"},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Sector: "Technology"},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Sector: "Technology"},
	{Symbol: "JPM", Name: "JPMorgan Chase & Co.", Sector: "Finance"},
	{Symbol: "V", Name: "Visa Inc.", Sector: "Finance"},
	{Symbol: "JNJ", Name: "Johnson & Johnson", Sector: "Healthcare"},
	{Symbol: "PG", Name: "Procter & Gamble Co.", Sector: "Consumer Goods"},
	{Symbol: "XOM", Name: "Exxon Mobil Corporation", Sector: "Energy"},
	{Symbol: "TSLA", Name: "Tesla Inc.", Sector: "Automotive"},
	{Symbol: "KO", Name: "The Coca-Cola Company", Sector: "Consumer Goods"},
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	balance, err := decimal.NewFromString(getEnv("STARTING_BALANCE", "100000.00"))
	if err != nil {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: %w", err)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: must not be negative")
	}

	poll, err := time.ParseDuration(getEnv("PRICE_POLL_INTERVAL", "30s"))
	if err != nil || poll <= 0 {
		return nil, fmt.Errorf("invalid PRICE_POLL_INTERVAL %q", os.Getenv("PRICE_POLL_INTERVAL"))
	}

	ttl, err := time.ParseDuration(getEnv("REDIS_TTL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_TTL: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	tracked := DefaultTracked
	if raw := os.Getenv("TRACKED_SYMBOLS"); raw != "" {
		tracked, err = ParseTracked(raw)
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL:  os.Getenv("DATABASE_URL"),
			Path: os.Getenv("DB_PATH"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
			TTL: ttl,
		},
		Trading: TradingConfig{
			StartingBalance: balance.Round(model.MoneyScale),
		},
		Prices: PriceConfig{
			SourceURL:       getEnv("PRICE_SOURCE_URL", "https://query1.finance.yahoo.com"),
			PollInterval:    poll,
			RefreshSchedule: getEnvAllowEmpty("PRICE_REFRESH_SCHEDULE", "@every 5m"),
			Tracked:         tracked,
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		},
		LogLevel: level,
	}, nil
}

// ParseTracked parses "SYM:Name:Sector;SYM2:Name2:Sector2". Name and sector
// are optional.
func ParseTracked(raw string) ([]model.Listing, error) {
	var out []model.Listing
	seen := make(map[string]bool)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		l := model.Listing{Symbol: strings.ToUpper(strings.TrimSpace(parts[0]))}
		if l.Symbol == "" {
			return nil, fmt.Errorf("invalid TRACKED_SYMBOLS entry %q", item)
		}
		if len(parts) > 1 {
			l.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			l.Sector = strings.TrimSpace(parts[2])
		}
		if l.Name == "" {
			l.Name = l.Symbol
		}
		if seen[l.Symbol] {
			return nil, fmt.Errorf("duplicate symbol %s in TRACKED_SYMBOLS", l.Symbol)
		}
		seen[l.Symbol] = true
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("TRACKED_SYMBOLS is empty")
	}
	return out, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAllowEmpty distinguishes an unset variable from one set to "".
func getEnvAllowEmpty(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
