package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Store     StoreConfig     `koanf:"store"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Auth      AuthConfig      `koanf:"auth"`
	Export    ExportConfig    `koanf:"export"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

// TimescaleDB
type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	MaxConns int32  `koanf:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// StateTTL bounds how long a cached live position survives without updates.
	StateTTL time.Duration `koanf:"state_ttl"`
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type StoreConfig struct {
	Backend string `koanf:"backend"`
}

type SchedulerConfig struct {
	Interval time.Duration `koanf:"interval"`
}

const (
	DedupRepeat   = "repeat"
	DedupSuppress = "suppress"
)

type AlertsConfig struct {
	StaleThreshold time.Duration `koanf:"stale_threshold"`
	DedupPolicy    string        `koanf:"dedup_policy"`
	// DedupTTL expires a suppression key that was never resolved. 0 keeps it until resolved.
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

type BroadcastConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	SendTimeout  time.Duration `koanf:"send_timeout"`
}

// Pipeline channels and worker counts
type PipelineConfig struct {
	StateChannelSize   int `koanf:"state_channel_size"`
	AlertChannelSize   int `koanf:"alert_channel_size"`
	StateWriterWorkers int `koanf:"state_writer_workers"`
	AlertWorkers       int `koanf:"alert_workers"`
}

type AuthConfig struct {
	Enabled      bool          `koanf:"enabled"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
	ValidAPIKeys []string      `koanf:"valid_api_keys"`
}

type ExportConfig struct {
	Dir         string        `koanf:"dir"`
	FullTTL     time.Duration `koanf:"full_ttl"`
	PerAssetTTL time.Duration `koanf:"per_asset_ttl"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval))
	}
	if c.Broadcast.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.poll_interval must be positive, got %s", c.Broadcast.PollInterval))
	}
	if c.Broadcast.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.send_timeout must be positive, got %s", c.Broadcast.SendTimeout))
	}
	if c.Alerts.StaleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("alerts.stale_threshold must be positive, got %s", c.Alerts.StaleThreshold))
	}
	if c.Alerts.DedupTTL < 0 {
		errs = append(errs, errors.New("alerts.dedup_ttl must not be negative"))
	}

	switch strings.ToLower(c.Alerts.DedupPolicy) {
	case DedupRepeat, DedupSuppress:
	default:
		errs = append(errs, fmt.Errorf("alerts.dedup_policy must be %q or %q, got %q",
			DedupRepeat, DedupSuppress, c.Alerts.DedupPolicy))
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q",
			BackendPostgres, BackendMemory, c.Store.Backend))
	}

	if c.Pipeline.StateChannelSize <= 0 || c.Pipeline.AlertChannelSize <= 0 {
		errs = append(errs, errors.New("pipeline channel sizes must be positive"))
	}
	if c.Pipeline.StateWriterWorkers <= 0 || c.Pipeline.AlertWorkers <= 0 {
		errs = append(errs, errors.New("pipeline worker counts must be positive"))
	}
	if c.Auth.Enabled && len(c.Auth.ValidAPIKeys) == 0 && c.Store.Backend == BackendMemory {
		errs = append(errs, errors.New("auth.valid_api_keys is required when auth is enabled without redis"))
	}
	if c.Export.Dir == "" {
		errs = append(errs, errors.New("export.dir is required"))
	}

	return errors.Join(errs...)
}
