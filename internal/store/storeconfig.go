package store

import "time"

// StoreConfig is implemented by every backend configuration section.
type StoreConfig interface {
	// GetTableName returns the table, keyspace table or key namespace the backend writes to
	GetTableName() string
	GetEndpoints() []string
	Validate() error
}

// BaseStoreConfig carries the settings shared by every networked backend.
type BaseStoreConfig struct {
	TableName        string        `mapstructure:"table" yaml:"table"`
	Endpoints        []string      `mapstructure:"endpoints" yaml:"endpoints"`
	OperationTimeout time.Duration `mapstructure:"operationTimeout" yaml:"operationTimeout"`
}

func (b *BaseStoreConfig) GetTableName() string {
	return b.TableName
}

func (b *BaseStoreConfig) GetEndpoints() []string {
	return b.Endpoints
}

// GetOperationTimeout returns the per-call timeout, defaulting to five seconds.
func (b *BaseStoreConfig) GetOperationTimeout() time.Duration {
	if b.OperationTimeout <= 0 {
		return 5 * time.Second
	}
	return b.OperationTimeout
}
