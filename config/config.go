/*
Package config loads server settings.

PRECEDENCE (highest first):
  1. Command-line flags (-port, -db, -db-driver, -log-level)
  2. Environment variables
  3. A .env file in the working directory, if present
  4. Defaults below

KEYS:
  PORT, DB_DRIVER (sqlite|postgres), DB_PATH, DATABASE_URL,
  LOG_LEVEL, LOG_FORMAT,
  RECOMPUTE_CRON, CLEANUP_CRON, CALENDAR_CRON, RECOMPUTE_WORKERS,
  PURGE_GRACE_DAYS, REST_DAY_HORIZON_MONTHS,
  KAFKA_BROKERS (comma separated), AUDIT_TOPIC,
  S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_BUCKET, S3_USE_SSL, S3_REGION

SEE ALSO:
  - cmd/server/main.go: Consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every server setting.
type Config struct {
	Port        int
	DBDriver    string
	DBPath      string
	DatabaseURL string

	LogLevel  string
	LogFormat string

	RecomputeCron    string
	CleanupCron      string
	CalendarCron     string
	RecomputeWorkers int

	PurgeGrace           time.Duration
	RestDayHorizonMonths int

	KafkaBrokers []string
	AuditTopic   string

	S3 S3Config
}

// S3Config is empty when exports are not uploaded.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether enough is configured to create a client.
func (c S3Config) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

// Load reads .env, the environment, then args (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(args)
}

// FromEnv is Load without the .env file.
func FromEnv(args []string) (*Config, error) {
	var errs []error
	intEnv := func(key string, def int) int {
		v, err := getInt(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := &Config{
		Port:        intEnv("PORT", 8080),
		DBDriver:    getEnv("DB_DRIVER", DriverSQLite),
		DBPath:      getEnv("DB_PATH", "collections.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RecomputeCron:    getEnv("RECOMPUTE_CRON", "0 2 * * *"),
		CleanupCron:      getEnv("CLEANUP_CRON", "30 3 * * *"),
		CalendarCron:     getEnv("CALENDAR_CRON", "0 1 * * *"),
		RecomputeWorkers: intEnv("RECOMPUTE_WORKERS", 8),

		PurgeGrace:           time.Duration(intEnv("PURGE_GRACE_DAYS", 21)) * 24 * time.Hour,
		RestDayHorizonMonths: intEnv("REST_DAY_HORIZON_MONTHS", 3),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		AuditTopic:   getEnv("AUDIT_TOPIC", "collections.audit"),

		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "collections-exports"),
			Region:    getEnv("S3_REGION", ""),
		},
	}
	useSSL, err := getBool("S3_USE_SSL", true)
	errs = append(errs, err)
	cfg.S3.UseSSL = useSSL

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (\":memory:\" for in-memory)")
	flags.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "sqlite or postgres")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Port)
	case c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	case c.DBDriver == DriverPostgres && c.DatabaseURL == "":
		return errors.New("config: DATABASE_URL is required for postgres")
	case c.RecomputeWorkers <= 0:
		return fmt.Errorf("config: RECOMPUTE_WORKERS must be positive, got %d", c.RecomputeWorkers)
	case c.PurgeGrace <= 0:
		return fmt.Errorf("config: PURGE_GRACE_DAYS must be positive, got %d", int(c.PurgeGrace/(24*time.Hour)))
	case c.RestDayHorizonMonths <= 0:
		return fmt.Errorf("config: REST_DAY_HORIZON_MONTHS must be positive, got %d", c.RestDayHorizonMonths)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
