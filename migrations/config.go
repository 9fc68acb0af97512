package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JaysonBrenton/mre/internal/config"
)

// Sentinel errors for configuration validation.
var (
	ErrDatabaseURLRequired    = errors.New("DATABASE_URL cannot be empty")
	ErrMigrationTableRequired = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds the migrator's configuration.
type Config struct {
	DatabaseURL    string
	MigrationTable string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrDatabaseURLRequired
	}

	if strings.TrimSpace(c.MigrationTable) == "" {
		return ErrMigrationTableRequired
	}

	return nil
}

// String renders the configuration with the database password masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// maskDatabaseURL hides the password component of a connection URL for
// logging.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	afterScheme := url[schemeEnd+3:]

	hostEnd := strings.IndexAny(afterScheme, "/?#")
	authority := afterScheme
	if hostEnd != -1 {
		authority = afterScheme[:hostEnd]
	}

	atIndex := strings.LastIndex(authority, "@")
	if atIndex == -1 {
		return url
	}

	userInfo := authority[:atIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 || colonIndex == len(userInfo)-1 {
		return url
	}

	prefix := url[:schemeEnd+3]

	return prefix + userInfo[:colonIndex] + ":***" + afterScheme[atIndex:]
}
