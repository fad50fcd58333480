// internal/store/redis/redisconfig.go

package redis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	Password         string        `mapstructure:"password" yaml:"password"`
	DB               int           `mapstructure:"db" yaml:"db"`
	KeyPrefix        string        `mapstructure:"keyPrefix" yaml:"keyPrefix"`
	OperationTimeout time.Duration `mapstructure:"operationTimeout" yaml:"operationTimeout"`
}

// NewRedisConfig creates a new Redis configuration with default values
func NewRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:             "localhost",
		Port:             6379,
		KeyPrefix:        "conflock",
		OperationTimeout: 5 * time.Second,
	}
}

// Validate ensures the Redis configuration is valid
func (c *RedisConfig) Validate() error {
	var errs []string

	if c.Host == "" {
		errs = append(errs, "host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.DB < 0 {
		errs = append(errs, "DB number must be non-negative")
	}

	if c.OperationTimeout < 0 {
		errs = append(errs, "operationTimeout must be non-negative")
	}

	if len(errs) > 0 {
		return errors.New("store validation failed: " + strings.Join(errs, "; "))
	}

	return nil
}

// String returns a string representation of the Redis configuration
func (c *RedisConfig) String() string {
	return fmt.Sprintf("RedisConfig{Host: %s, Port: %d, DB: %d, KeyPrefix: %s}", c.Host, c.Port, c.DB, c.KeyPrefix)
}

// GetTableName returns the key namespace, Redis has no tables
func (c *RedisConfig) GetTableName() string {
	return c.KeyPrefix
}

// GetEndpoints returns the Redis address
func (c *RedisConfig) GetEndpoints() []string {
	return []string{c.addr()}
}

func (c *RedisConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
