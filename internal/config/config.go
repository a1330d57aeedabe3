// Package config loads server configuration from the environment, after
// reading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type ServerConfig struct {
	Addr           string   // HTTP_ADDR, default ":8080"
	Env            string   // APP_ENV: "development" | "production"
	AllowedOrigins []string // ALLOWED_ORIGINS, comma separated; empty = same origin only
	ShutdownGrace  time.Duration
}

type DBConfig struct {
	DSN             string // empty = in-memory store
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuctionConfig struct {
	BidWindow       time.Duration   // BID_WINDOW, reset on every accepted bid
	MinIncrement    decimal.Decimal // MIN_INCREMENT
	ClientBuffer    int             // per-connection outbox size
	ReplayLogSize   int             // events kept in memory for reconnect replay
	SaveMaxAttempts int
	SaveBackoff     time.Duration // first retry delay, doubled per attempt
	DecisionTimeout time.Duration // duplicate-player decision, then "skip"
}

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWTSecret string // empty = trust role/team query params (development only)
	Auction   AuctionConfig
}

func (c *Config) IsProd() bool { return c.Server.Env == "production" }

func (c *Config) Validate() error {
	var errs []error
	if c.IsProd() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.Auction.BidWindow <= 0 {
		errs = append(errs, fmt.Errorf("BID_WINDOW must be positive, got %s", c.Auction.BidWindow))
	}
	if !c.Auction.MinIncrement.IsPositive() {
		errs = append(errs, fmt.Errorf("MIN_INCREMENT must be positive, got %s", c.Auction.MinIncrement))
	}
	if c.Auction.ClientBuffer < 1 {
		errs = append(errs, fmt.Errorf("CLIENT_BUFFER must be at least 1, got %d", c.Auction.ClientBuffer))
	}
	if c.Auction.SaveMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("SAVE_MAX_ATTEMPTS must be at least 1, got %d", c.Auction.SaveMaxAttempts))
	}
	return errors.Join(errs...)
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{}

	grace, err := getDuration("SHUTDOWN_GRACE", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_GRACE: %w", err)
	}
	cfg.Server = ServerConfig{
		Addr:           getEnv("HTTP_ADDR", ":8080"),
		Env:            getEnv("APP_ENV", "development"),
		AllowedOrigins: getList("ALLOWED_ORIGINS"),
		ShutdownGrace:  grace,
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}
	lifetime, err := getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DB_CONN_MAX_LIFETIME: %w", err)
	}
	cfg.DB = DBConfig{
		DSN:             os.Getenv("DATABASE_DSN"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: lifetime,
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	increment, err := decimal.NewFromString(getEnv("MIN_INCREMENT", "50"))
	if err != nil {
		return nil, fmt.Errorf("MIN_INCREMENT: %w", err)
	}
	buffer, err := getInt("CLIENT_BUFFER", 256)
	if err != nil {
		return nil, fmt.Errorf("CLIENT_BUFFER: %w", err)
	}
	logSize, err := getInt("REPLAY_LOG_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("REPLAY_LOG_SIZE: %w", err)
	}
	attempts, err := getInt("SAVE_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("SAVE_MAX_ATTEMPTS: %w", err)
	}
	window, err := getDuration("BID_WINDOW", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BID_WINDOW: %w", err)
	}
	backoff, err := getDuration("SAVE_BACKOFF", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("SAVE_BACKOFF: %w", err)
	}
	decisionTimeout, err := getDuration("DECISION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DECISION_TIMEOUT: %w", err)
	}
	cfg.Auction = AuctionConfig{
		BidWindow:       window,
		MinIncrement:    increment,
		ClientBuffer:    buffer,
		ReplayLogSize:   logSize,
		SaveMaxAttempts: attempts,
		SaveBackoff:     backoff,
		DecisionTimeout: decisionTimeout,
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getDuration parses a Go duration such as "10s" or "1m30s".
func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
