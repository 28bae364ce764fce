package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RECRUIT_REDIS_ADDR.
const EnvPrefix = "RECRUIT"

// LoadConfig reads the YAML file at path on top of the defaults. A missing file
// is not an error; environment variables override both.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key, empty ones included; AutomaticEnv only
// resolves keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("logging.file", "")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "recruitment")
	v.SetDefault("mongo.connect_timeout", "10s")

	v.SetDefault("state_storage.type", "mongo")
	v.SetDefault("state_storage.host", "")
	v.SetDefault("state_storage.port", 3306)
	v.SetDefault("state_storage.user", "")
	v.SetDefault("state_storage.password", "")
	v.SetDefault("state_storage.database", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.users_ttl", "10m")
	v.SetDefault("cache.applications_ttl", "168h")

	v.SetDefault("sheets.backend", "google")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.users_sheet", "Users")
	v.SetDefault("sheets.applications_sheet", "Applications")
	v.SetDefault("sheets.final_sheet", "FinalUsers")
	v.SetDefault("sheets.batch_size", 50)
	v.SetDefault("sheets.batch_delay", "1s")
	v.SetDefault("sheets.max_attempts", 5)
	v.SetDefault("sheets.initial_backoff", "500ms")

	v.SetDefault("sync.unparseable_timestamp", "now")
	v.SetDefault("sync.fan_out", true)
	v.SetDefault("sync.fan_out_workers", 2)
	v.SetDefault("sync.watch_changes", false)
	v.SetDefault("sync.watch_debounce", "30s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 40m")

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 465)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.template_file", "")
	v.SetDefault("mail.subject", "We've received your application")
	v.SetDefault("mail.reminder_subject", "Your application is waiting")
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.StateStorage.Type {
	case "mongo", "mysql", "memory":
	default:
		return fmt.Errorf("unknown state_storage.type %q", c.StateStorage.Type)
	}
	switch c.Sheets.Backend {
	case "google", "memory":
	default:
		return fmt.Errorf("unknown sheets.backend %q", c.Sheets.Backend)
	}
	if c.Sheets.Backend == "google" && c.Sheets.SpreadsheetID == "" {
		return errors.New("sheets.spreadsheet_id is required for the google backend")
	}
	switch c.Sync.UnparseableTimestamp {
	case "now", "skip":
	default:
		return fmt.Errorf("unknown sync.unparseable_timestamp %q", c.Sync.UnparseableTimestamp)
	}
	if c.Sheets.BatchSize <= 0 {
		return errors.New("sheets.batch_size must be positive")
	}
	if c.Sheets.MaxAttempts <= 0 {
		return errors.New("sheets.max_attempts must be positive")
	}
	return nil
}
