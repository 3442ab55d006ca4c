// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/homesafe-connector/internal/logging"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ConfigError is a single configuration problem.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// Validate checks struct constraints first, then the cross-field rules the
// tags cannot express.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return translateValidationError(err)
	}

	if c.Backend.APIKey == "" {
		return &ConfigError{Field: "API_KEY", Message: "is required (generate one in the HomeSafe dashboard)"}
	}
	if c.Source.Token == "" {
		return &ConfigError{Field: "SUPERVISOR_TOKEN", Message: "is required"}
	}
	if _, _, err := c.Schedule.BackupClock(); err != nil {
		return &ConfigError{Field: "BACKUP_TIME", Message: err.Error()}
	}
	if c.Locator.AsyncWait < c.Locator.PollInterval {
		return &ConfigError{Field: "LOCATOR_ASYNC_WAIT", Message: "must be at least LOCATOR_POLL_INTERVAL"}
	}
	if c.Locator.FallbackWait < c.Locator.FallbackInterval {
		return &ConfigError{Field: "LOCATOR_FALLBACK_WAIT", Message: "must be at least LOCATOR_FALLBACK_INTERVAL"}
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return &ConfigError{Field: "LOG_LEVEL", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	if !c.History.InMemory && c.History.Path == "" {
		return &ConfigError{Field: "HISTORY_PATH", Message: "is required unless HISTORY_IN_MEMORY=true"}
	}
	return c.validateConfigSync()
}

func (c *Config) validateConfigSync() error {
	cs := c.ConfigSync
	if !cs.Enabled {
		return nil
	}
	if cs.Token == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "is required when GITHUB_ENABLED=true"}
	}
	owner, name, ok := strings.Cut(cs.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return &ConfigError{Field: "GITHUB_REPO", Message: fmt.Sprintf("must be owner/name, got %q", cs.Repo)}
	}
	if len(cs.Files) == 0 {
		return &ConfigError{Field: "GITHUB_SYNC_FILES", Message: "must list at least one file when GITHUB_ENABLED=true"}
	}
	return nil
}

// translateValidationError reports the first failing field in the same
// ConfigError shape as the hand-written checks.
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	msg := "failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return &ConfigError{Field: field, Message: fmt.Sprintf("%s (value %v)", msg, fe.Value())}
}
