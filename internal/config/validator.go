// internal/config/validator.go
package config

import (
	"errors"
	"fmt"

	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
	"github.com/avivl/conference-lock/internal/store/dynamodb"
	"github.com/avivl/conference-lock/internal/store/memory"
	"github.com/avivl/conference-lock/internal/store/postgres"
	"github.com/avivl/conference-lock/internal/store/redis"
	"github.com/avivl/conference-lock/internal/store/scylladb"
)

// Validate checks every section the selected backend and drivers depend on
func (c *GlobalConfig) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("server address is required")
	}
	if c.Lock.TimeoutMinutes <= 0 {
		return fmt.Errorf("lock.timeoutMinutes must be positive, got: %d", c.Lock.TimeoutMinutes)
	}
	if c.Lock.CleanupInterval < 0 {
		return errors.New("lock.cleanupInterval must be non-negative")
	}

	storeConfig, err := c.StoreConfig()
	if err != nil {
		return err
	}
	if err := storeConfig.Validate(); err != nil {
		return fmt.Errorf("store configuration error: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration error: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}

	if c.Observability.ServiceName == "" {
		return errors.New("service name is required")
	}
	switch c.Observability.TracesExporter {
	case "", observability.ExporterNone, observability.ExporterOTLP, observability.ExporterStdout:
	default:
		return fmt.Errorf("unsupported traces exporter: %s", c.Observability.TracesExporter)
	}
	switch c.Observability.MetricsExporter {
	case "", observability.ExporterNone, observability.ExporterOTLP, observability.ExporterPrometheus:
	default:
		return fmt.Errorf("unsupported metrics exporter: %s", c.Observability.MetricsExporter)
	}
	if c.Observability.TracesExporter == observability.ExporterOTLP || c.Observability.MetricsExporter == observability.ExporterOTLP {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required")
		}
	}

	return nil
}

// StoreConfig returns the section of the selected backend.
func (c *GlobalConfig) StoreConfig() (store.StoreConfig, error) {
	var cfg store.StoreConfig
	switch c.Backend.Type {
	case memory.StoreName:
		cfg = c.Memory
	case redis.StoreName:
		cfg = c.Redis
	case dynamodb.StoreName:
		cfg = c.DynamoDB
	case scylladb.StoreName:
		cfg = c.ScyllaDB
	case postgres.StoreName:
		cfg = c.Postgres
	default:
		return nil, fmt.Errorf("unsupported backend type: %q", c.Backend.Type)
	}
	if isNilConfig(cfg) {
		return nil, fmt.Errorf("%s configuration is missing", c.Backend.Type)
	}
	return cfg, nil
}

func isNilConfig(cfg store.StoreConfig) bool {
	switch v := cfg.(type) {
	case *memory.MemoryConfig:
		return v == nil
	case *redis.RedisConfig:
		return v == nil
	case *dynamodb.DynamoDBConfig:
		return v == nil
	case *scylladb.ScyllaDBConfig:
		return v == nil
	case *postgres.PostgresConfig:
		return v == nil
	}
	return cfg == nil
}

// Validate checks the enabled drivers
func (e EventsConfig) Validate() error {
	for _, d := range e.Drivers {
		switch d {
		case DriverWebSocket:
		case DriverNATS:
			if e.NATS.URL == "" {
				return errors.New("events.nats.url is required when the nats driver is enabled")
			}
		case DriverKafka:
			if len(e.Kafka.Brokers) == 0 || e.Kafka.Topic == "" {
				return errors.New("events.kafka.brokers and events.kafka.topic are required when the kafka driver is enabled")
			}
		default:
			return fmt.Errorf("unsupported events driver: %s", d)
		}
	}
	return nil
}
