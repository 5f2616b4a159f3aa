package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dimfeld/rmplan/internal/errors"
)

// Environment overrides for storage settings.
const (
	EnvStateDialect = "RMPLAN_STATE_DIALECT"
	EnvStateDSN     = "RMPLAN_STATE_DSN"
)

// Settings holds the optional storage settings loaded from state.yml.
type Settings struct {
	Database DatabaseSettings `yaml:"database"`
}

// DatabaseSettings selects the storage backend. The zero value means
// SQLite at the default path.
type DatabaseSettings struct {
	// Dialect is "sqlite" (default) or "postgres".
	Dialect string `yaml:"dialect"`
	// DSN is the connection string. For sqlite it overrides the default
	// database file path; empty means <config root>/rmplan.db.
	DSN string `yaml:"dsn"`
}

// DefaultSettings returns settings for a plain SQLite deployment.
func DefaultSettings() *Settings {
	return &Settings{
		Database: DatabaseSettings{Dialect: "sqlite"},
	}
}

// LoadSettings reads state.yml from the config root, applying environment
// overrides afterwards. A missing file yields defaults; a malformed file
// logs a warning and yields defaults rather than failing open.
func LoadSettings() *Settings {
	s := DefaultSettings()

	path, err := SettingsPath()
	if err == nil {
		if data, readErr := os.ReadFile(path); readErr == nil {
			var fileSettings Settings
			if err := yaml.Unmarshal(data, &fileSettings); err != nil {
				slog.Warn("failed to parse settings file", "path", path, "error", err)
			} else {
				if fileSettings.Database.Dialect != "" {
					s.Database.Dialect = fileSettings.Database.Dialect
				}
				if fileSettings.Database.DSN != "" {
					s.Database.DSN = fileSettings.Database.DSN
				}
			}
		}
	}

	if dialect := os.Getenv(EnvStateDialect); dialect != "" {
		s.Database.Dialect = dialect
	}
	if dsn := os.Getenv(EnvStateDSN); dsn != "" {
		s.Database.DSN = dsn
	}

	return s
}

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	switch s.Database.Dialect {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if s.Database.DSN == "" {
			return errors.ErrSettingsInvalid("database.dsn", "a DSN is required for the postgres dialect")
		}
	default:
		return errors.ErrSettingsInvalid("database.dialect", "must be sqlite or postgres")
	}
	return nil
}
