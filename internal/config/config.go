// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package config

import (
	"fmt"
	"time"
)

// Config holds all connector configuration.
//
// Loading order (Koanf v2):
//  1. Defaults
//  2. Config file (options.yaml written by the add-on runtime, or config.yaml)
//  3. Environment variables
type Config struct {
	Backend    BackendConfig    `koanf:"backend"`
	Source     SourceConfig     `koanf:"source"`
	Schedule   ScheduleConfig   `koanf:"schedule"`
	Locator    LocatorConfig    `koanf:"locator"`
	Upload     UploadConfig     `koanf:"upload"`
	Retention  RetentionConfig  `koanf:"retention"`
	History    HistoryConfig    `koanf:"history"`
	ConfigSync ConfigSyncConfig `koanf:"configsync"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// BackendConfig holds HomeSafe archival backend settings.
type BackendConfig struct {
	APIURL         string        `koanf:"api_url" validate:"required,http_url"`
	APIKey         string        `koanf:"api_key"`
	UploadFunction string        `koanf:"upload_function" validate:"required"` // backup-upload, or backup-upload-baserow for tabular storage
	ListFunction   string        `koanf:"list_function" validate:"required"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"` // Per-call timeout for init, complete, fail and list
}

// SourceConfig holds Home Assistant Supervisor settings.
type SourceConfig struct {
	URL             string        `koanf:"url" validate:"required,http_url"`
	Token           string        `koanf:"token"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	DownloadTimeout time.Duration `koanf:"download_timeout" validate:"gt=0"` // Time allowed until response headers arrive
}

// ScheduleConfig controls when runs are triggered.
type ScheduleConfig struct {
	AutoBackup           bool          `koanf:"auto_backup"`
	BackupTime           string        `koanf:"backup_time"`
	BackupOnStart        bool          `koanf:"backup_on_start"`
	CheckInterval        time.Duration `koanf:"check_interval" validate:"gt=0"`          // How often the schedule is evaluated
	VersionCheckInterval time.Duration `koanf:"version_check_interval" validate:"gte=0"` // 0 disables the pre-update watch
}

// LocatorConfig bounds snapshot discovery. Every interval is configurable so
// tests can shrink them to milliseconds.
type LocatorConfig struct {
	PollInterval     time.Duration `koanf:"poll_interval" validate:"gt=0"`
	AsyncWait        time.Duration `koanf:"async_wait" validate:"gt=0"`
	FallbackInterval time.Duration `koanf:"fallback_interval" validate:"gt=0"`
	FallbackWait     time.Duration `koanf:"fallback_wait" validate:"gt=0"`
}

// UploadConfig controls the streaming uploader.
type UploadConfig struct {
	ChunkSize         int64         `koanf:"chunk_size" validate:"gte=1048576"`
	TransferTimeout   time.Duration `koanf:"transfer_timeout" validate:"gt=0"`
	MaxBytesPerSecond int64         `koanf:"max_bytes_per_second" validate:"gte=0"`
}

// RetentionConfig bounds locally retained snapshots.
type RetentionConfig struct {
	LocalKeep int `koanf:"local_keep" validate:"gte=1"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	Path       string `koanf:"path"`
	InMemory   bool   `koanf:"in_memory"`
	MaxRecords int    `koanf:"max_records" validate:"gte=1"`
}

// ConfigSyncConfig configures the GitHub configuration side channel.
type ConfigSyncConfig struct {
	Enabled bool          `koanf:"enabled"`
	Token   string        `koanf:"token"`
	Repo    string        `koanf:"repo"`   // owner/name
	Branch  string        `koanf:"branch"` // Default: main
	Files   []string      `koanf:"files"`
	APIURL  string        `koanf:"api_url" validate:"required,http_url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=1"` // Requests per minute per IP
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port the control surface listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackupClock parses BackupTime into hour and minute.
func (s ScheduleConfig) BackupClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.BackupTime)
	if err != nil {
		return 0, 0, fmt.Errorf("BACKUP_TIME must be HH:MM, got %q", s.BackupTime)
	}
	return t.Hour(), t.Minute(), nil
}
