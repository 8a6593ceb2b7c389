package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shortlink/internal/util"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Shortener ShortenerConfig
	Clicks    ClicksConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Addr() string {
	return ":" + s.Port
}

type DatabaseConfig struct {
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	MigrateOnStart  bool
}

// ConnString returns DATABASE_DSN when set, otherwise a URL built from the parts.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// RedisConfig is disabled when Host is empty; the service then runs store-only.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	TTL       time.Duration
	OpTimeout time.Duration
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type ShortenerConfig struct {
	CodeLength int
	Strategy   string
}

type ClicksConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error;
// the returned bool reports whether a file was read.
func LoadDotEnv(path string) (bool, error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config.LoadDotEnv: %w", err)
	}
	return true, nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	const op = "config.Load"

	e := &env{}
	port := e.str("PORT", "8080")
	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			BaseURL:         strings.TrimRight(e.str("BASE_URL", "http://localhost:"+port), "/"),
			ReadTimeout:     e.duration("HTTP_READ_TIMEOUT", 5*time.Second),
			WriteTimeout:    e.duration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     e.duration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             e.str("DATABASE_DSN", ""),
			Host:            e.str("DB_HOST", "localhost"),
			Port:            e.integer("DB_PORT", 5432),
			User:            e.str("DB_USER", "postgres"),
			Password:        e.str("DB_PASSWORD", ""),
			Name:            e.str("DB_NAME", "shortlink"),
			SSLMode:         e.str("DB_SSLMODE", "disable"),
			MaxOpenConns:    e.integer("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			QueryTimeout:    e.duration("DB_QUERY_TIMEOUT", 5*time.Second),
			MigrateOnStart:  e.boolean("MIGRATE_ON_START", true),
		},
		Redis: RedisConfig{
			Host:      e.str("REDIS_HOST", ""),
			Port:      e.integer("REDIS_PORT", 6379),
			Password:  e.str("REDIS_PASSWORD", ""),
			DB:        e.integer("REDIS_DB", 0),
			TTL:       e.duration("CACHE_TTL", 24*time.Hour),
			OpTimeout: e.duration("CACHE_OP_TIMEOUT", 200*time.Millisecond),
		},
		Shortener: ShortenerConfig{
			CodeLength: e.integer("SHORT_CODE_LENGTH", 6),
			Strategy:   strings.ToLower(e.str("SHORT_CODE_STRATEGY", util.StrategyRandom)),
		},
		Clicks: ClicksConfig{
			Workers:   e.integer("CLICK_WORKERS", 4),
			QueueSize: e.integer("CLICK_QUEUE_SIZE", 1024),
			Timeout:   e.duration("CLICK_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
	}

	if e.err != nil {
		return nil, fmt.Errorf("%s: %w", op, e.err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid configuration: %w", op, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	base, err := url.Parse(c.Server.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("base URL must be an absolute http(s) URL, got: %q", c.Server.BaseURL)
	}
	if c.Shortener.CodeLength < 4 || c.Shortener.CodeLength > 16 {
		return fmt.Errorf("short code length must be between 4 and 16, got: %d", c.Shortener.CodeLength)
	}
	switch c.Shortener.Strategy {
	case util.StrategyRandom, util.StrategyHash, util.StrategySequence:
	default:
		return fmt.Errorf("unknown short code strategy: %q", c.Shortener.Strategy)
	}
	if c.Database.MaxOpenConns <= 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database pool sizes must be positive")
	}
	if c.Database.QueryTimeout <= 0 || c.Database.ConnMaxLifetime <= 0 {
		return fmt.Errorf("database timeouts must be positive")
	}
	if c.Redis.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got: %v", c.Redis.TTL)
	}
	if c.Redis.OpTimeout <= 0 {
		return fmt.Errorf("cache operation timeout must be positive, got: %v", c.Redis.OpTimeout)
	}
	if c.Clicks.Workers <= 0 || c.Clicks.QueueSize <= 0 {
		return fmt.Errorf("click workers and queue size must be positive")
	}
	if c.Clicks.Timeout <= 0 {
		return fmt.Errorf("click timeout must be positive, got: %v", c.Clicks.Timeout)
	}
	return nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	err error
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, value, err)
	}
}
