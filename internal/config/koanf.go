package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/asset-tracking/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8001",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       600,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "fleet_user",
			Password: "fleet_password",
			Name:     "fleet_monitor",
			MaxConns: 15,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			StateTTL: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendPostgres,
		},
		Scheduler: SchedulerConfig{
			Interval: 5 * time.Minute,
		},
		Alerts: AlertsConfig{
			StaleThreshold: 10 * time.Minute,
			DedupPolicy:    DedupSuppress,
		},
		Broadcast: BroadcastConfig{
			PollInterval: 2 * time.Second,
			SendTimeout:  5 * time.Second,
		},
		Pipeline: PipelineConfig{
			StateChannelSize:   50000,
			AlertChannelSize:   10000,
			StateWriterWorkers: 5,
			AlertWorkers:       3,
		},
		Auth: AuthConfig{
			Enabled:  false,
			CacheTTL: 5 * time.Minute,
		},
		Export: ExportConfig{
			Dir:         "exports",
			FullTTL:     24 * time.Hour,
			PerAssetTTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env (if present), then layers defaults, an optional YAML file
// and environment variables, in increasing priority.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Alerts.DedupPolicy = strings.ToLower(cfg.Alerts.DedupPolicy)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
	"auth.valid_api_keys",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_port":               "server.port",
	"http_read_timeout":       "server.read_timeout",
	"http_write_timeout":      "server.write_timeout",
	"shutdown_timeout":        "server.shutdown_timeout",
	"cors_origins":            "server.cors_origins",
	"rate_limit":              "server.rate_limit",
	"db_host":                 "database.host",
	"db_port":                 "database.port",
	"db_user":                 "database.user",
	"db_password":             "database.password",
	"db_name":                 "database.name",
	"db_max_conns":            "database.max_conns",
	"redis_addr":              "redis.addr",
	"redis_password":          "redis.password",
	"redis_db":                "redis.db",
	"redis_state_ttl":         "redis.state_ttl",
	"store_backend":           "store.backend",
	"scheduler_interval":      "scheduler.interval",
	"stale_threshold":         "alerts.stale_threshold",
	"alert_dedup_policy":      "alerts.dedup_policy",
	"alert_dedup_ttl":         "alerts.dedup_ttl",
	"broadcast_poll_interval": "broadcast.poll_interval",
	"broadcast_send_timeout":  "broadcast.send_timeout",
	"state_channel_size":      "pipeline.state_channel_size",
	"alert_channel_size":      "pipeline.alert_channel_size",
	"state_writer_workers":    "pipeline.state_writer_workers",
	"alert_workers":           "pipeline.alert_workers",
	"auth_enabled":            "auth.enabled",
	"auth_cache_ttl":          "auth.cache_ttl",
	"valid_api_keys":          "auth.valid_api_keys",
	"export_dir":              "export.dir",
	"export_full_ttl":         "export.full_ttl",
	"export_per_asset_ttl":    "export.per_asset_ttl",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
	"log_caller":              "logging.caller",
}

// envTransformFunc maps flat environment names (DB_HOST) to config paths
// (database.host). Unknown variables are dropped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
