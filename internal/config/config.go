package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miauchat/dispatch/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	MigrationsDir string

	// Channel gateway
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration

	// Sends per second. RateLimit applies to every channel without an entry
	// in ChannelRateLimits (RATE_LIMIT_WHATSAPP, RATE_LIMIT_INSTAGRAM, ...).
	RateLimit         int
	ChannelRateLimits map[domain.Channel]int

	// How long a POST /messages request waits for its send to settle
	// before answering 202 with the message still queued.
	SendWaitTimeout time.Duration

	// Delay before retry n is RetryBackoff[n-1]; its length caps the number
	// of automatic retries. RETRY_BACKOFF="5s,30s,2m".
	RetryBackoff []time.Duration

	// Background worker poll intervals
	SchedulerInterval time.Duration
	RetryInterval     time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	backoff, err := getDurations("RETRY_BACKOFF", []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:   dbURL,
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 5)),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		GatewayURL:     getEnv("GATEWAY_URL", "http://localhost:5678/webhook/send-message"),
		GatewayToken:   os.Getenv("GATEWAY_TOKEN"),
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 15*time.Second),

		RateLimit:         getInt("RATE_LIMIT_PER_CHANNEL", 80),
		ChannelRateLimits: make(map[domain.Channel]int),

		SendWaitTimeout: getDuration("SEND_WAIT_TIMEOUT", 20*time.Second),
		RetryBackoff:    backoff,

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 5*time.Second),
		RetryInterval:     getDuration("RETRY_INTERVAL", 10*time.Second),
	}

	for _, ch := range domain.Channels() {
		if n := getInt("RATE_LIMIT_"+strings.ToUpper(string(ch)), 0); n > 0 {
			cfg.ChannelRateLimits[ch] = n
		}
	}

	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_CHANNEL must be positive, got %d", cfg.RateLimit)
	}
	if cfg.GatewayURL == "" {
		return nil, errors.New("GATEWAY_URL must not be empty")
	}
	return cfg, nil
}

// RateLimits returns the effective sends-per-second for every channel.
func (c *Config) RateLimits() map[domain.Channel]int {
	out := make(map[domain.Channel]int, len(domain.Channels()))
	for _, ch := range domain.Channels() {
		out[ch] = c.RateLimit
		if n, ok := c.ChannelRateLimits[ch]; ok {
			out[ch] = n
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getDurations parses a comma-separated duration list. Unlike the scalar
// getters, an invalid entry is an error rather than a fallback.
func getDurations(key string, defaultVal []time.Duration) ([]time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s: negative duration %s", key, d)
		}
		out = append(out, d)
	}
	return out, nil
}
