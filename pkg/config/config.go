// Package config holds the runtime configuration: JSON on disk with
// TOOLWIRE_* environment variable overrides applied on top.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/quenchlab/toolwire/pkg/contextopt"
	"github.com/quenchlab/toolwire/pkg/ratelimit"
)

type ServerConfig struct {
	Host          string `json:"host" env:"TOOLWIRE_SERVER_HOST"`
	Port          int    `json:"port" env:"TOOLWIRE_SERVER_PORT"`
	ToolTimeoutMS int    `json:"tool_timeout_ms" env:"TOOLWIRE_SERVER_TOOL_TIMEOUT_MS"`
	FloodLimit    int    `json:"flood_limit" env:"TOOLWIRE_SERVER_FLOOD_LIMIT"`
	FloodBurst    int    `json:"flood_burst" env:"TOOLWIRE_SERVER_FLOOD_BURST"`
}

type ClientConfig struct {
	URL                  string `json:"url" env:"TOOLWIRE_CLIENT_URL"`
	CallTimeoutMS        int    `json:"call_timeout_ms" env:"TOOLWIRE_CLIENT_CALL_TIMEOUT_MS"`
	ReconnectIntervalMS  int    `json:"reconnect_interval_ms" env:"TOOLWIRE_CLIENT_RECONNECT_INTERVAL_MS"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" env:"TOOLWIRE_CLIENT_MAX_RECONNECT_ATTEMPTS"`
}

type RateLimitConfig struct {
	PerMinute  int                 `json:"per_minute" env:"TOOLWIRE_RATELIMIT_PER_MINUTE"`
	PerHour    int                 `json:"per_hour" env:"TOOLWIRE_RATELIMIT_PER_HOUR"`
	PerDay     int                 `json:"per_day" env:"TOOLWIRE_RATELIMIT_PER_DAY"`
	ModeLimits map[string]ModePair `json:"mode_limits"`
}

type ModePair struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

type ContextConfig struct {
	MaxTokens  int                `json:"max_tokens" env:"TOOLWIRE_CONTEXT_MAX_TOKENS"`
	ModeShares map[string]float64 `json:"mode_shares"`
	CacheTTLMS int                `json:"cache_ttl_ms" env:"TOOLWIRE_CONTEXT_CACHE_TTL_MS"`
}

type LogConfig struct {
	Level string `json:"level" env:"TOOLWIRE_LOG_LEVEL"`
	File  string `json:"file" env:"TOOLWIRE_LOG_FILE"`
}

type Config struct {
	Mode      string          `json:"mode" env:"TOOLWIRE_MODE"`
	Server    ServerConfig    `json:"server"`
	Client    ClientConfig    `json:"client"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Context   ContextConfig   `json:"context"`
	Log       LogConfig       `json:"log"`
}

func DefaultConfig() *Config {
	rl := ratelimit.DefaultConfig()
	co := contextopt.DefaultConfig()

	modeLimits := make(map[string]ModePair, len(rl.ModeLimits))
	for mode, ml := range rl.ModeLimits {
		modeLimits[mode] = ModePair{PerMinute: ml.PerMinute, PerHour: ml.PerHour}
	}
	modeShares := make(map[string]float64, len(co.ModeShares))
	for mode, share := range co.ModeShares {
		modeShares[mode] = share
	}

	return &Config{
		Mode: "engineering",
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          3010,
			ToolTimeoutMS: 10000,
		},
		Client: ClientConfig{
			URL:                  "ws://127.0.0.1:3010",
			CallTimeoutMS:        30000,
			ReconnectIntervalMS:  3000,
			MaxReconnectAttempts: 10,
		},
		RateLimit: RateLimitConfig{
			PerMinute:  rl.MaxTokensPerMinute,
			PerHour:    rl.MaxTokensPerHour,
			PerDay:     rl.MaxTokensPerDay,
			ModeLimits: modeLimits,
		},
		Context: ContextConfig{
			MaxTokens:  co.MaxTokens,
			ModeShares: modeShares,
			CacheTTLMS: int(co.CacheTTL.Milliseconds()),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the file at path, falling back to defaults when it
// does not exist, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RateLimiterConfig converts the file representation into the limiter's
// own config type.
func (c *Config) RateLimiterConfig() ratelimit.Config {
	out := ratelimit.Config{
		MaxTokensPerMinute: c.RateLimit.PerMinute,
		MaxTokensPerHour:   c.RateLimit.PerHour,
		MaxTokensPerDay:    c.RateLimit.PerDay,
		ModeLimits:         make(map[string]ratelimit.ModeLimit, len(c.RateLimit.ModeLimits)),
	}
	for mode, ml := range c.RateLimit.ModeLimits {
		out.ModeLimits[mode] = ratelimit.ModeLimit{PerMinute: ml.PerMinute, PerHour: ml.PerHour}
	}
	return out
}

// CompressorConfig converts the file representation into the context
// compressor's own config type.
func (c *Config) CompressorConfig() contextopt.Config {
	out := contextopt.Config{
		MaxTokens:  c.Context.MaxTokens,
		ModeShares: make(map[string]float64, len(c.Context.ModeShares)),
	}
	for mode, share := range c.Context.ModeShares {
		out.ModeShares[mode] = share
	}
	if c.Context.CacheTTLMS > 0 {
		out.CacheTTL = time.Duration(c.Context.CacheTTLMS) * time.Millisecond
	}
	return out
}
