// Package config loads service settings from WEBHOOK_* environment variables,
// optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	defaultPort              = 8080
	defaultDBPath            = "echohook.db"
	defaultRequestsPerMinute = 60
	defaultMaxBodyBytes      = 10 << 20
	defaultReplayRPS         = 5
	defaultShutdownGrace     = 30 * time.Second
)

type Config struct {
	Host   string
	Port   int
	DBPath string

	RequestsPerMinute int
	MaxBodyBytes      int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ProxyAddr enables the capture proxy when set.
	ProxyAddr   string
	ProxyTenant string

	ReplayEnabled bool
	ReplayRPS     float64

	ShutdownGracePeriod time.Duration
}

// NewConfig reads the environment after loading envFiles into it. Variables
// already set win over file values; missing files are skipped.
func NewConfig(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var env envReader
	cfg := &Config{
		Host:                env.str("WEBHOOK_HOST", ""),
		Port:                env.int("WEBHOOK_PORT", defaultPort),
		DBPath:              env.str("WEBHOOK_DB_PATH", defaultDBPath),
		RequestsPerMinute:   env.int("WEBHOOK_REQUESTS_PER_MINUTE", defaultRequestsPerMinute),
		MaxBodyBytes:        int64(env.int("WEBHOOK_MAX_BODY_BYTES", defaultMaxBodyBytes)),
		RedisAddr:           env.str("WEBHOOK_REDIS_ADDR", ""),
		RedisPassword:       env.str("WEBHOOK_REDIS_PASSWORD", ""),
		RedisDB:             env.int("WEBHOOK_REDIS_DB", 0),
		ProxyAddr:           env.str("WEBHOOK_PROXY_ADDR", ""),
		ProxyTenant:         env.str("WEBHOOK_PROXY_TENANT", ""),
		ReplayEnabled:       env.bool("WEBHOOK_REPLAY_ENABLED", false),
		ReplayRPS:           env.float("WEBHOOK_REPLAY_RPS", defaultReplayRPS),
		ShutdownGracePeriod: env.duration("WEBHOOK_SHUTDOWN_GRACE_PERIOD", defaultShutdownGrace),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.ShutdownGracePeriod <= 0 {
		c.ShutdownGracePeriod = defaultShutdownGrace
	}
	c.ProxyTenant = strings.ToLower(strings.TrimSpace(c.ProxyTenant))
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("WEBHOOK_REDIS_DB must be >= 0")
	}
	if c.ReplayRPS < 0 {
		return fmt.Errorf("WEBHOOK_REPLAY_RPS must be >= 0")
	}
	if c.ProxyAddr != "" {
		if c.ProxyTenant == "" {
			return errors.New("WEBHOOK_PROXY_TENANT is required when WEBHOOK_PROXY_ADDR is set")
		}
		if _, err := uuid.Parse(c.ProxyTenant); err != nil {
			return fmt.Errorf("WEBHOOK_PROXY_TENANT must be a UUID: %w", err)
		}
	}
	return nil
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// envReader reads typed variables, remembering malformed ones.
type envReader struct {
	errs []error
}

func (e *envReader) str(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) int(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return i
}

func (e *envReader) float(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func (e *envReader) bool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func (e *envReader) duration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
