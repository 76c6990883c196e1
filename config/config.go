/*
config.go - Server configuration

PURPOSE:
  Collects the server settings from, in increasing precedence:
  1. Built-in defaults
  2. A .env file (optional; a missing file is not an error)
  3. Process environment variables
  4. Command-line flags

ENVIRONMENT:
  LESSONS_ADDR               listen address (default ":8080")
  LESSONS_DB                 SQLite path, ":memory:" allowed (default "lessons.db")
  LESSONS_TIMEZONE           IANA zone of the school (default "UTC")
  LESSONS_REMINDERS          run the reminder loop (default true)
  LESSONS_REMINDER_OFFSETS   comma-separated durations before a deadline (default "48h,24h")
  LESSONS_REMINDER_INTERVAL  reminder scan interval (default "15m")
  LESSONS_CORS_ORIGINS       comma-separated allowed origins
  LESSONS_LOG_LEVEL          debug, info, warn or error (default "info")

FLAGS:
  --addr, --db, --timezone, --reminders, --reminder-offsets,
  --reminder-interval, --cors-origins, --log-level, --env-file
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Addr             string
	DBPath           string
	Timezone         string
	Location         *time.Location
	Reminders        bool
	ReminderOffsets  []time.Duration
	ReminderInterval time.Duration
	CORSOrigins      []string
	LogLevel         slog.Level
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:             ":8080",
		DBPath:           "lessons.db",
		Timezone:         "UTC",
		Location:         time.UTC,
		Reminders:        true,
		ReminderOffsets:  []time.Duration{48 * time.Hour, 24 * time.Hour},
		ReminderInterval: 15 * time.Minute,
		CORSOrigins:      []string{"http://localhost:5173", "http://localhost:8080"},
		LogLevel:         slog.LevelInfo,
	}
}

// raw holds settings as strings until all sources have been merged.
type raw struct {
	addr, db, timezone, reminders, offsets, interval, origins, logLevel string
}

// Load builds the configuration from defaults, the .env file, the
// environment and args (without the program name).
func Load(args []string) (*Config, error) {
	d := Default()
	r := raw{
		addr:      d.Addr,
		db:        d.DBPath,
		timezone:  d.Timezone,
		reminders: strconv.FormatBool(d.Reminders),
		offsets:   joinDurations(d.ReminderOffsets),
		interval:  d.ReminderInterval.String(),
		origins:   strings.Join(d.CORSOrigins, ","),
		logLevel:  "info",
	}

	var flags raw
	var envFile string
	flagSet := pflag.NewFlagSet("lessons", pflag.ContinueOnError)
	flagSet.StringVar(&flags.addr, "addr", "", "HTTP listen address")
	flagSet.StringVar(&flags.db, "db", "", `SQLite database path (":memory:" for in-memory)`)
	flagSet.StringVar(&flags.timezone, "timezone", "", "IANA time zone of the school")
	flagSet.StringVar(&flags.reminders, "reminders", "", "run the reminder loop (true/false)")
	flagSet.StringVar(&flags.offsets, "reminder-offsets", "", "comma-separated durations before a booking deadline")
	flagSet.StringVar(&flags.interval, "reminder-interval", "", "reminder scan interval")
	flagSet.StringVar(&flags.origins, "cors-origins", "", "comma-separated allowed CORS origins")
	flagSet.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&envFile, "env-file", ".env", "path of an optional .env file")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	fromEnv(&r.addr, "LESSONS_ADDR")
	fromEnv(&r.db, "LESSONS_DB")
	fromEnv(&r.timezone, "LESSONS_TIMEZONE")
	fromEnv(&r.reminders, "LESSONS_REMINDERS")
	fromEnv(&r.offsets, "LESSONS_REMINDER_OFFSETS")
	fromEnv(&r.interval, "LESSONS_REMINDER_INTERVAL")
	fromEnv(&r.origins, "LESSONS_CORS_ORIGINS")
	fromEnv(&r.logLevel, "LESSONS_LOG_LEVEL")

	fromFlag(flagSet, &r.addr, flags.addr, "addr")
	fromFlag(flagSet, &r.db, flags.db, "db")
	fromFlag(flagSet, &r.timezone, flags.timezone, "timezone")
	fromFlag(flagSet, &r.reminders, flags.reminders, "reminders")
	fromFlag(flagSet, &r.offsets, flags.offsets, "reminder-offsets")
	fromFlag(flagSet, &r.interval, flags.interval, "reminder-interval")
	fromFlag(flagSet, &r.origins, flags.origins, "cors-origins")
	fromFlag(flagSet, &r.logLevel, flags.logLevel, "log-level")

	return r.parse()
}

func (r raw) parse() (*Config, error) {
	cfg := Config{Addr: r.addr, DBPath: r.db, Timezone: r.timezone}

	if cfg.Addr == "" {
		return nil, errors.New("config: listen address is empty")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("config: database path is empty")
	}

	loc, err := time.LoadLocation(r.timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", r.timezone, err)
	}
	cfg.Location = loc

	if cfg.Reminders, err = strconv.ParseBool(r.reminders); err != nil {
		return nil, fmt.Errorf("config: reminders %q: %w", r.reminders, err)
	}

	cfg.ReminderOffsets, err = parseDurations(r.offsets)
	if err != nil {
		return nil, fmt.Errorf("config: reminder offsets: %w", err)
	}

	if cfg.ReminderInterval, err = time.ParseDuration(r.interval); err != nil {
		return nil, fmt.Errorf("config: reminder interval %q: %w", r.interval, err)
	}
	if cfg.ReminderInterval <= 0 {
		return nil, fmt.Errorf("config: reminder interval must be positive, got %s", cfg.ReminderInterval)
	}

	cfg.CORSOrigins = splitList(r.origins)

	if err := cfg.LogLevel.UnmarshalText([]byte(r.logLevel)); err != nil {
		return nil, fmt.Errorf("config: log level %q: %w", r.logLevel, err)
	}
	return &cfg, nil
}

func fromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func fromFlag(flagSet *pflag.FlagSet, dst *string, value, name string) {
	if flagSet.Changed(name) {
		*dst = value
	}
}

func parseDurations(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range splitList(s) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("offset must be positive, got %s", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one offset is required")
	}
	return out, nil
}

func joinDurations(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
