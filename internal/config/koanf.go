// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/homesafe-connector/internal/runerr"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"/data/options.yaml",
	"config.yaml",
	"config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultAPIURL is the hosted HomeSafe functions endpoint.
const DefaultAPIURL = "https://iagsshcczgmjdrdweirb.supabase.co/functions/v1"

func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			APIURL:         DefaultAPIURL,
			UploadFunction: "backup-upload",
			ListFunction:   "backup-list-api-key",
			Timeout:        30 * time.Second,
		},
		Source: SourceConfig{
			URL:             "http://supervisor",
			RequestTimeout:  30 * time.Second,
			DownloadTimeout: 300 * time.Second,
		},
		Schedule: ScheduleConfig{
			AutoBackup:           true,
			BackupTime:           "03:00",
			BackupOnStart:        true,
			CheckInterval:        60 * time.Second,
			VersionCheckInterval: time.Hour,
		},
		Locator: LocatorConfig{
			PollInterval:     5 * time.Second,
			AsyncWait:        120 * time.Second,
			FallbackInterval: 10 * time.Second,
			FallbackWait:     600 * time.Second,
		},
		Upload: UploadConfig{
			ChunkSize:       50 * 1024 * 1024,
			TransferTimeout: 30 * time.Minute,
		},
		Retention: RetentionConfig{
			LocalKeep: 3,
		},
		History: HistoryConfig{
			Path:       "/data/history",
			MaxRecords: 100,
		},
		ConfigSync: ConfigSyncConfig{
			Branch:  "main",
			Files:   []string{"/config/configuration.yaml"},
			APIURL:  "https://api.github.com",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8099,
			RateLimit:       30,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional config file and
// the environment, then validates it. A validation failure is returned as a
// runerr.KindConfiguration error.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
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

	if err := cfg.Validate(); err != nil {
		return nil, runerr.New(runerr.KindConfiguration, "startup", "configuration validation failed", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"configsync.files",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(raw, ",")
		vals := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				vals = append(vals, p)
			}
		}
		if err := k.Set(path, vals); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// The names match the ones the add-on has always exported.
var envMappings = map[string]string{
	"api_url":         "backend.api_url",
	"api_key":         "backend.api_key",
	"backend_timeout": "backend.timeout",
	"upload_function": "backend.upload_function",
	"list_function":   "backend.list_function",

	"supervisor_url":     "source.url",
	"supervisor_token":   "source.token",
	"supervisor_timeout": "source.request_timeout",
	"download_timeout":   "source.download_timeout",

	"auto_backup":            "schedule.auto_backup",
	"backup_time":            "schedule.backup_time",
	"backup_on_start":        "schedule.backup_on_start",
	"schedule_check":         "schedule.check_interval",
	"version_check_interval": "schedule.version_check_interval",

	"locator_poll_interval":     "locator.poll_interval",
	"locator_async_wait":        "locator.async_wait",
	"locator_fallback_interval": "locator.fallback_interval",
	"locator_fallback_wait":     "locator.fallback_wait",

	"upload_chunk_size":       "upload.chunk_size",
	"upload_transfer_timeout": "upload.transfer_timeout",
	"upload_max_bps":          "upload.max_bytes_per_second",

	"local_retention": "retention.local_keep",

	"history_path":        "history.path",
	"history_in_memory":   "history.in_memory",
	"history_max_records": "history.max_records",

	"github_enabled":    "configsync.enabled",
	"github_token":      "configsync.token",
	"github_repo":       "configsync.repo",
	"github_branch":     "configsync.branch",
	"github_sync_files": "configsync.files",
	"github_api_url":    "configsync.api_url",

	"http_enabled":    "server.enabled",
	"http_host":       "server.host",
	"http_port":       "server.port",
	"http_rate_limit": "server.rate_limit",
	"cors_origins":    "server.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable to its koanf path. Unmapped
// variables return "" and are skipped, so unrelated environment never leaks
// into the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
