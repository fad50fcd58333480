// internal/store/postgres/postgresconfig.go
package postgres

import (
	"errors"

	"github.com/avivl/conference-lock/internal/database"
)

// PostgresConfig holds the SQL lock store configuration
type PostgresConfig struct {
	database.Config `mapstructure:",squash" yaml:",inline"`

	TableName string `mapstructure:"table" yaml:"table"`
}

// NewPostgresConfig creates a new configuration with default values
func NewPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Config:    *database.DefaultConfig(),
		TableName: "conference_locks",
	}
}

func (c *PostgresConfig) GetTableName() string {
	return c.TableName
}

// GetEndpoints returns nil; the DSN carries the address.
func (c *PostgresConfig) GetEndpoints() []string {
	return nil
}

func (c *PostgresConfig) Validate() error {
	if c.TableName == "" {
		return errors.New("table is required")
	}
	return c.Config.Validate()
}
