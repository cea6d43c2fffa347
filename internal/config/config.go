package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTPAddr string
	GRPCAddr string // "" disables the health server

	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/portunus-relay.db"

	// Authorization table storage: "memory" | "sqlite" | "badger".
	EEPROMBackend string
	BadgerDir     string // "" keeps badger in memory
	RegionName    string

	// Tags authorized at startup in dev, e.g. "04A1B2C3".
	SeedTags []string

	InitialMode string // "enabled" | "disabled" | "auto"

	// Event log clock. 0 leaves the clock to explicit ticks only.
	TickPeriod time.Duration

	// Link protocol timing.
	ReplyDelay   time.Duration
	PollInterval time.Duration
	SyncTimeout  time.Duration // 0 = wait forever

	PulseDuration time.Duration

	// Archive retention
	ArchiveRetentionDays int // 0 = keep forever
	PruneIntervalHours   int // how often the pruner runs (default 6)

	LogLevel string

	// Serve the link on an in-memory stub transport.
	StubTransport bool
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("PORTUNUS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: getenvDefault("PORTUNUS_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvDefault("PORTUNUS_GRPC_ADDR", ":9090"),
		Env:      env,
		DBPath:   getenvDefault("PORTUNUS_DB_PATH", "./data/portunus-relay.db"),

		EEPROMBackend: strings.ToLower(getenvDefault("PORTUNUS_EEPROM_BACKEND", "sqlite")),
		BadgerDir:     os.Getenv("PORTUNUS_BADGER_DIR"),
		RegionName:    getenvDefault("PORTUNUS_REGION_NAME", "main"),

		SeedTags:    splitCSV(os.Getenv("PORTUNUS_SEED_TAGS")),
		InitialMode: strings.ToLower(getenvDefault("PORTUNUS_INITIAL_MODE", "enabled")),

		TickPeriod:    getenvDuration("PORTUNUS_TICK_PERIOD", time.Second),
		ReplyDelay:    getenvDuration("PORTUNUS_REPLY_DELAY", 20*time.Millisecond),
		PollInterval:  getenvDuration("PORTUNUS_POLL_INTERVAL", time.Millisecond),
		SyncTimeout:   getenvDuration("PORTUNUS_SYNC_TIMEOUT", 5*time.Second),
		PulseDuration: getenvDuration("PORTUNUS_PULSE_DURATION", 3*time.Second),

		ArchiveRetentionDays: getenvInt("PORTUNUS_ARCHIVE_RETENTION_DAYS", 90),
		PruneIntervalHours:   getenvInt("PORTUNUS_PRUNE_INTERVAL_HOURS", 6),

		LogLevel:      getenvDefault("PORTUNUS_LOG_LEVEL", "info"),
		StubTransport: getenvBool("PORTUNUS_STUB_TRANSPORT", true),
	}
}

// Load reads the environment and then overlays path, if set. Keys present in
// the file win over the environment.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if strings.TrimSpace(path) != "" {
		if err := ApplyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type fileConfig struct {
	HTTPAddr             string   `toml:"http_addr"`
	GRPCAddr             string   `toml:"grpc_addr"`
	Env                  string   `toml:"env"`
	DBPath               string   `toml:"db_path"`
	EEPROMBackend        string   `toml:"eeprom_backend"`
	BadgerDir            string   `toml:"badger_dir"`
	RegionName           string   `toml:"region_name"`
	SeedTags             []string `toml:"seed_tags"`
	InitialMode          string   `toml:"initial_mode"`
	TickPeriod           string   `toml:"tick_period"`
	ReplyDelay           string   `toml:"reply_delay"`
	PollInterval         string   `toml:"poll_interval"`
	SyncTimeout          string   `toml:"sync_timeout"`
	PulseDuration        string   `toml:"pulse_duration"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	PruneIntervalHours   int      `toml:"prune_interval_hours"`
	LogLevel             string   `toml:"log_level"`
	StubTransport        bool     `toml:"stub_transport"`
}

// ApplyFile overlays the keys defined in the TOML file at path onto cfg.
func ApplyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load relay config: %w", err)
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("http_addr", &cfg.HTTPAddr, raw.HTTPAddr)
	setString("grpc_addr", &cfg.GRPCAddr, raw.GRPCAddr)
	setString("env", &cfg.Env, strings.ToLower(raw.Env))
	setString("db_path", &cfg.DBPath, raw.DBPath)
	setString("eeprom_backend", &cfg.EEPROMBackend, strings.ToLower(raw.EEPROMBackend))
	setString("badger_dir", &cfg.BadgerDir, raw.BadgerDir)
	setString("region_name", &cfg.RegionName, raw.RegionName)
	setString("initial_mode", &cfg.InitialMode, strings.ToLower(raw.InitialMode))
	setString("log_level", &cfg.LogLevel, raw.LogLevel)

	if meta.IsDefined("seed_tags") {
		cfg.SeedTags = normalize(raw.SeedTags)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"tick_period", raw.TickPeriod, &cfg.TickPeriod},
		{"reply_delay", raw.ReplyDelay, &cfg.ReplyDelay},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
		{"sync_timeout", raw.SyncTimeout, &cfg.SyncTimeout},
		{"pulse_duration", raw.PulseDuration, &cfg.PulseDuration},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("archive_retention_days") {
		cfg.ArchiveRetentionDays = raw.ArchiveRetentionDays
	}
	if meta.IsDefined("prune_interval_hours") {
		cfg.PruneIntervalHours = raw.PruneIntervalHours
	}
	if meta.IsDefined("stub_transport") {
		cfg.StubTransport = raw.StubTransport
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("%w: env %q", ErrInvalid, c.Env)
	}
	switch c.EEPROMBackend {
	case "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("%w: eeprom backend %q", ErrInvalid, c.EEPROMBackend)
	}
	switch c.InitialMode {
	case "enabled", "disabled", "auto":
	default:
		return fmt.Errorf("%w: initial mode %q", ErrInvalid, c.InitialMode)
	}
	if c.TickPeriod < 0 || c.ReplyDelay < 0 || c.PollInterval < 0 || c.SyncTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	}
	if c.ArchiveRetentionDays < 0 || c.PruneIntervalHours < 0 {
		return fmt.Errorf("%w: negative retention", ErrInvalid)
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return normalize(strings.Split(v, ","))
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
