// internal/store/scylladb/scylladbconfig.go
package scylladb

import (
	"errors"
	"regexp"

	"github.com/avivl/conference-lock/internal/store"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

type ScyllaDBConfig struct {
	store.BaseStoreConfig `mapstructure:",squash" yaml:",inline"`

	Keyspace          string `mapstructure:"keyspace" yaml:"keyspace"`
	Consistency       string `mapstructure:"consistency" yaml:"consistency"`
	ReplicationFactor int    `mapstructure:"replicationFactor" yaml:"replicationFactor"`
}

// NewScyllaDBConfig creates a new ScyllaDB configuration with default values
func NewScyllaDBConfig() *ScyllaDBConfig {
	return &ScyllaDBConfig{
		BaseStoreConfig: store.BaseStoreConfig{
			TableName: "conference_locks",
			Endpoints: []string{"localhost:9042"},
		},
		Keyspace:          "conflock",
		Consistency:       "CONSISTENCY_QUORUM",
		ReplicationFactor: 3,
	}
}

func (c *ScyllaDBConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	if !identifierPattern.MatchString(c.Keyspace) {
		return errors.New("keyspace must be a valid CQL identifier")
	}
	if !identifierPattern.MatchString(c.TableName) {
		return errors.New("table must be a valid CQL identifier")
	}
	if c.ReplicationFactor < 1 {
		return errors.New("replicationFactor must be positive")
	}
	return nil
}
