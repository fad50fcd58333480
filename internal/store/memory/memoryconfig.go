// internal/store/memory/memoryconfig.go
package memory

import "errors"

// MemoryConfig holds the in-process store configuration
type MemoryConfig struct {
	TableName string `mapstructure:"table" yaml:"table"`
}

// NewMemoryConfig creates a configuration with default values
func NewMemoryConfig() *MemoryConfig {
	return &MemoryConfig{TableName: "locks"}
}

func (c *MemoryConfig) GetTableName() string {
	return c.TableName
}

// GetEndpoints returns nil; the store lives in the process.
func (c *MemoryConfig) GetEndpoints() []string {
	return nil
}

func (c *MemoryConfig) Validate() error {
	if c.TableName == "" {
		return errors.New("store validation failed: table is required")
	}
	return nil
}
