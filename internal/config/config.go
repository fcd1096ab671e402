// Package config loads and validates ingestor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

// Provider names.
const (
	DirectoryHTTP   = "http"
	DirectoryStatic = "static"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DirectoryConfig selects where feed sources come from.
type DirectoryConfig struct {
	Provider         string              `mapstructure:"provider"`
	BaseURL          string              `mapstructure:"base_url"`
	Username         string              `mapstructure:"username"`
	Password         string              `mapstructure:"password"`
	TimeoutSeconds   int                 `mapstructure:"timeout_seconds"`
	RefreshEveryPass bool                `mapstructure:"refresh_every_pass"`
	Sources          []ingest.FeedSource `mapstructure:"sources"`
}

// FetchConfig configures feed HTTP requests.
type FetchConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int64   `mapstructure:"max_body_bytes"`
	HostRPS          float64 `mapstructure:"host_rps"`
	HostBurst        int     `mapstructure:"host_burst"`
}

// SchedulerConfig governs the worker pool and pass loop.
type SchedulerConfig struct {
	Workers              int `mapstructure:"workers"`
	PollIntervalSeconds  int `mapstructure:"poll_interval_seconds"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// FilterConfig sizes the membership filter and locates its snapshot.
type FilterConfig struct {
	SnapshotPath        string  `mapstructure:"snapshot_path"`
	InitialCapacity     uint64  `mapstructure:"initial_capacity"`
	ErrorRate           float64 `mapstructure:"error_rate"`
	Growth              uint32  `mapstructure:"growth"`
	Tightening          float64 `mapstructure:"tightening"`
	CheckpointEveryPass bool    `mapstructure:"checkpoint_every_pass"`
}

// StorageConfig controls access to the article store.
type StorageConfig struct {
	Provider                string `mapstructure:"provider"`
	DSN                     string `mapstructure:"dsn"`
	MaxConns                int32  `mapstructure:"max_conns"`
	MinConns                int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds  int    `mapstructure:"max_conn_lifetime_seconds"`
	StatementTimeoutSeconds int    `mapstructure:"statement_timeout_seconds"`
	Migrate                 bool   `mapstructure:"migrate"`
	SyncTopics              bool   `mapstructure:"sync_topics"`
	AuditUser               string `mapstructure:"audit_user"`
}

// DedupConfig tunes the commit coordinator.
type DedupConfig struct {
	ConfirmConflicts bool `mapstructure:"confirm_conflicts"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9090)
	v.SetDefault("directory.provider", DirectoryHTTP)
	v.SetDefault("directory.base_url", "")
	v.SetDefault("directory.username", "")
	v.SetDefault("directory.password", "")
	v.SetDefault("directory.timeout_seconds", 15)
	v.SetDefault("directory.refresh_every_pass", true)
	v.SetDefault("fetch.user_agent", "NewsCrawler/1.0")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.poll_interval_seconds", 60)
	v.SetDefault("scheduler.shutdown_grace_seconds", 30)
	v.SetDefault("filter.snapshot_path", "multi_source_seen.bloom")
	v.SetDefault("filter.initial_capacity", 20_000_000)
	v.SetDefault("filter.error_rate", 0.001)
	v.SetDefault("filter.growth", 2)
	v.SetDefault("filter.tightening", 0.9)
	v.SetDefault("filter.checkpoint_every_pass", true)
	v.SetDefault("storage.provider", StoragePostgres)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_conns", 0)
	v.SetDefault("storage.min_conns", 0)
	v.SetDefault("storage.max_conn_lifetime_seconds", 0)
	v.SetDefault("storage.statement_timeout_seconds", 10)
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.sync_topics", false)
	v.SetDefault("storage.audit_user", "admin")
	v.SetDefault("dedup.confirm_conflicts", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	switch c.Directory.Provider {
	case DirectoryHTTP:
		if c.Directory.BaseURL == "" {
			return fmt.Errorf("directory.base_url must be set for the http provider")
		}
		if c.Directory.Username == "" {
			return fmt.Errorf("directory.username must be set for the http provider")
		}
	case DirectoryStatic:
	default:
		return fmt.Errorf("directory.provider %q is not one of http, static", c.Directory.Provider)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.poll_interval_seconds must be > 0")
	}
	if c.Scheduler.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("scheduler.shutdown_grace_seconds must be >= 0")
	}
	if c.Filter.InitialCapacity == 0 {
		return fmt.Errorf("filter.initial_capacity must be > 0")
	}
	if c.Filter.ErrorRate <= 0 || c.Filter.ErrorRate >= 1 {
		return fmt.Errorf("filter.error_rate must be in (0, 1)")
	}
	if c.Filter.Tightening <= 0 || c.Filter.Tightening >= 1 {
		return fmt.Errorf("filter.tightening must be in (0, 1)")
	}
	if c.Filter.Growth < 2 {
		return fmt.Errorf("filter.growth must be >= 2")
	}
	if c.Filter.SnapshotPath == "" {
		return fmt.Errorf("filter.snapshot_path must be set")
	}
	switch c.Storage.Provider {
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres provider")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.provider %q is not one of postgres, memory", c.Storage.Provider)
	}
	return nil
}

// FetchTimeout is the per-attempt feed request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// DirectoryTimeout is the per-request directory timeout.
func (c Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.Directory.TimeoutSeconds) * time.Second
}

// PollInterval is the sleep between passes.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// ShutdownGrace is how long a draining pass may continue after a stop signal.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Scheduler.ShutdownGraceSeconds) * time.Second
}

// StatementTimeout bounds one record's transaction.
func (c Config) StatementTimeout() time.Duration {
	return time.Duration(c.Storage.StatementTimeoutSeconds) * time.Second
}

// Backoff returns the initial and maximum retry delays.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.Fetch.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Fetch.BackoffMaxMs) * time.Millisecond
}

// MaxConnLifetime is the pgxpool connection lifetime; zero keeps the pgx default.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Storage.MaxConnLifetimeSeconds) * time.Second
}
