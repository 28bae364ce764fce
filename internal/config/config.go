package config

import (
	"time"
)

type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
	Mongo        MongoConfig     `mapstructure:"mongo"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Cache        CacheConfig     `mapstructure:"cache"`
	Sheets       SheetsConfig    `mapstructure:"sheets"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Mail         MailConfig      `mapstructure:"mail"`
}

// MongoConfig points at the primary store. An empty URI selects the in-memory store.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StateStorage selects where checkpoints, sync history and conflicts live.
// Type is one of "mongo", "mysql" or "memory".
type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	UsersTTL        time.Duration `mapstructure:"users_ttl"`
	ApplicationsTTL time.Duration `mapstructure:"applications_ttl"`
}

// SheetsConfig configures the spreadsheet backend. Backend is "google" or "memory".
type SheetsConfig struct {
	Backend           string        `mapstructure:"backend"`
	SpreadsheetID     string        `mapstructure:"spreadsheet_id"`
	CredentialsFile   string        `mapstructure:"credentials_file"`
	UsersSheet        string        `mapstructure:"users_sheet"`
	ApplicationsSheet string        `mapstructure:"applications_sheet"`
	FinalSheet        string        `mapstructure:"final_sheet"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchDelay        time.Duration `mapstructure:"batch_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
}

type SyncConfig struct {
	// UnparseableTimestamp decides how a sheet row with a missing or broken
	// timestamp is treated: "now" (always newer) or "skip".
	UnparseableTimestamp string `mapstructure:"unparseable_timestamp"`
	FanOut               bool   `mapstructure:"fan_out"`
	// FanOutWorkers bounds how many department sheets are written concurrently.
	FanOutWorkers int `mapstructure:"fan_out_workers"`
	// WatchChanges triggers a pass from the mongo change stream, WatchDebounce
	// after the first change of a burst.
	WatchChanges  bool          `mapstructure:"watch_changes"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type MailConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	From         string `mapstructure:"from"`
	Subject      string `mapstructure:"subject"`
	TemplateFile string `mapstructure:"template_file"`
	// ReminderSubject is used for applicants who registered but never applied.
	ReminderSubject string `mapstructure:"reminder_subject"`
}
