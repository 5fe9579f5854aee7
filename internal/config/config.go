package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	defaultAppName           = "walletledger"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultShutdownDelay     = 10 * time.Second
	defaultLockTTL           = 30 * time.Second
	defaultLockRetryInterval = 25 * time.Millisecond
	defaultNatsPrefix        = "wallet"
	defaultCommitAttempts    = 5
	defaultAppendAttempts    = 3
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config captures application runtime configuration.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	// DatabaseURL selects the Postgres stores; empty runs on in-memory stores.
	DatabaseURL string
	Migrate     bool

	RedisURL          string
	LockBackend       string
	LockTTL           time.Duration
	LockRetryInterval time.Duration

	// NatsURL enables event publishing to NATS; empty logs events only.
	NatsURL           string
	NatsSubjectPrefix string

	CommitAttempts int
	AppendAttempts int
	ShutdownPeriod time.Duration
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		AppName:           defaultAppName,
		AppEnv:            defaultAppEnv,
		Port:              defaultPort,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
		LockBackend:       LockBackendMemory,
		LockTTL:           defaultLockTTL,
		LockRetryInterval: defaultLockRetryInterval,
		NatsSubjectPrefix: defaultNatsPrefix,
		CommitAttempts:    defaultCommitAttempts,
		AppendAttempts:    defaultAppendAttempts,
		ShutdownPeriod:    defaultShutdownDelay,
	}
}

// Load layers defaults, a .env file in the working directory, the process
// environment and command-line flags, later sources winning.
func Load(args []string) (Config, error) {
	cfg := Default()
	if err := cfg.LoadDotEnv(os.Getwd); err != nil {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.ParseFlags(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv applies variables from .env; a missing file is not an error.
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))
	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// LoadEnv applies every non-empty variable returned by getenv.
func (c *Config) LoadEnv(getenv func(string) string) error {
	setString := func(o *string) func(string) error {
		return func(value string) error {
			*o = value
			return nil
		}
	}
	setInt := func(o *int) func(string) error {
		return func(value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(string) error {
		return func(value string) error {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(string) error {
		return func(value string) error {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"APP_NAME":            setString(&c.AppName),
		"APP_ENV":             setString(&c.AppEnv),
		"PORT":                setString(&c.Port),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"LOG_FORMAT":          setString(&c.LogFormat),
		"DATABASE_URL":        setString(&c.DatabaseURL),
		"MIGRATE":             setBool(&c.Migrate),
		"REDIS_URL":           setString(&c.RedisURL),
		"LOCK_BACKEND":        setString(&c.LockBackend),
		"LOCK_TTL":            setDuration(&c.LockTTL),
		"LOCK_RETRY_INTERVAL": setDuration(&c.LockRetryInterval),
		"NATS_URL":            setString(&c.NatsURL),
		"NATS_SUBJECT_PREFIX": setString(&c.NatsSubjectPrefix),
		"COMMIT_ATTEMPTS":     setInt(&c.CommitAttempts),
		"APPEND_ATTEMPTS":     setInt(&c.AppendAttempts),
	}
	for key, parseFn := range envMap {
		if value := getenv(key); value != "" {
			if err := parseFn(value); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}

	if v := getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		c.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		c.ShutdownPeriod = d
	}
	return nil
}

// ParseFlags overrides settings from command-line arguments.
func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet(c.AppName, pflag.ContinueOnError)

	fs.StringVarP(&c.Port, "port", "p", c.Port, "HTTP listen port")
	fs.StringVarP(&c.DatabaseURL, "database", "d", c.DatabaseURL, "Postgres connection string (empty for in-memory stores)")
	fs.BoolVar(&c.Migrate, "migrate", c.Migrate, "Apply schema migrations on startup")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (json, text)")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL for distributed wallet locks")
	fs.StringVar(&c.LockBackend, "lock-backend", c.LockBackend, "Wallet lock backend (memory, redis)")
	fs.StringVar(&c.NatsURL, "nats", c.NatsURL, "NATS URL for ledger events")
	fs.IntVar(&c.CommitAttempts, "commit-attempts", c.CommitAttempts, "Compare-and-set attempts per balance change")
	fs.IntVar(&c.AppendAttempts, "append-attempts", c.AppendAttempts, "Ledger append attempts before a wallet is halted")
	fs.DurationVar(&c.ShutdownPeriod, "shutdown-timeout", c.ShutdownPeriod, "Graceful shutdown timeout")

	return fs.Parse(args)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LockBackend = strings.ToLower(c.LockBackend)

	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when LOCK_BACKEND is %q", LockBackendRedis)
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	if c.CommitAttempts < 1 || c.AppendAttempts < 1 {
		return fmt.Errorf("COMMIT_ATTEMPTS and APPEND_ATTEMPTS must be positive")
	}
	if c.LockTTL <= 0 || c.LockRetryInterval <= 0 {
		return fmt.Errorf("LOCK_TTL and LOCK_RETRY_INTERVAL must be positive")
	}
	if c.Migrate && c.DatabaseURL == "" {
		return fmt.Errorf("MIGRATE requires DATABASE_URL")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
