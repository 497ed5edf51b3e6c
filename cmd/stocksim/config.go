package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/tokenclock"
)

// Storage backends tokens may be kept in
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

const (
	defaultAPIAddr      = "http://127.0.0.1:8000/api"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultStorage      = StorageMemory
	defaultRedisURL     = "redis://localhost:6379/0"
	defaultRedisPrefix  = "stocksim"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Base address of the trading REST API, e.g. http://127.0.0.1:8000/api
	APIAddr string

	// Credentials used when there is no stored session
	Username string
	Password string

	// Where session is stored: memory, redis or postgres
	// Redis and postgres storages are shared by every client pointed to them
	Storage     string
	RedisURL    string
	RedisPrefix string
	DatabaseDSN string

	// Interval of the recurring stored token check
	CheckInterval time.Duration

	// Refresh access token that often, never if zero
	RefreshEvery time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		Environment:   defaultEnvironment,
		APIAddr:       defaultAPIAddr,
		Storage:       defaultStorage,
		RedisURL:      defaultRedisURL,
		RedisPrefix:   defaultRedisPrefix,
		CheckInterval: tokenclock.DefaultCheckInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
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

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"LOG_LEVEL":      setString(&c.LogLevel),
		"ENVIRONMENT":    setString(&c.Environment),
		"API_ADDRESS":    setString(&c.APIAddr),
		"USERNAME":       setString(&c.Username),
		"PASSWORD":       setString(&c.Password),
		"STORAGE":        setString(&c.Storage),
		"REDIS_URL":      setString(&c.RedisURL),
		"REDIS_PREFIX":   setString(&c.RedisPrefix),
		"DATABASE_URI":   setString(&c.DatabaseDSN),
		"CHECK_INTERVAL": setDuration(&c.CheckInterval),
		"REFRESH_EVERY":  setDuration(&c.RefreshEvery),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s value. Err: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("stocksim", pflag.ContinueOnError)

	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.APIAddr, "address", "a", c.APIAddr, "Trading API address")
	fs.StringVarP(&c.Username, "username", "u", c.Username, "Username to log in with")
	fs.StringVarP(&c.Password, "password", "p", c.Password, "Password to log in with")
	fs.StringVarP(&c.Storage, "storage", "s", c.Storage, "Session storage (memory, redis, postgres)")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis connection URL")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", c.RedisPrefix, "Prefix of redis keys")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.DurationVar(&c.CheckInterval, "check-interval", c.CheckInterval, "Interval of stored token check")
	fs.DurationVarP(&c.RefreshEvery, "refresh-every", "r", c.RefreshEvery, "Refresh access token interval, 0 to disable")

	return fs.Parse(args)
}
