// internal/config/types.go
package config

import (
	"time"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/database"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store/dynamodb"
	"github.com/avivl/conference-lock/internal/store/memory"
	"github.com/avivl/conference-lock/internal/store/postgres"
	"github.com/avivl/conference-lock/internal/store/redis"
	"github.com/avivl/conference-lock/internal/store/scylladb"
)

// GlobalConfig represents the complete application configuration
type GlobalConfig struct {
	ServerAddress string                     `mapstructure:"serverAddress" yaml:"serverAddress"`
	Server        ServerConfig               `mapstructure:"server" yaml:"server"`
	Backend       BackendConfig              `mapstructure:"backend" yaml:"backend"`
	Lock          LockConfig                 `mapstructure:"lock" yaml:"lock"`
	Memory        *memory.MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	Redis         *redis.RedisConfig         `mapstructure:"redis" yaml:"redis"`
	DynamoDB      *dynamodb.DynamoDBConfig   `mapstructure:"dynamoDb" yaml:"dynamoDb"`
	ScyllaDB      *scylladb.ScyllaDBConfig   `mapstructure:"scyllaDb" yaml:"scyllaDb"`
	Postgres      *postgres.PostgresConfig   `mapstructure:"postgres" yaml:"postgres"`
	Database      database.Config            `mapstructure:"database" yaml:"database"`
	Auth          auth.Config                `mapstructure:"auth" yaml:"auth"`
	Events        EventsConfig               `mapstructure:"events" yaml:"events"`
	Logger        observability.LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Observability observability.Config       `mapstructure:"observability" yaml:"observability"`
}

// ServerConfig holds HTTP listener timeouts
type ServerConfig struct {
	ReadTimeout     time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// BackendConfig represents the backend configuration section
type BackendConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
}

// LockConfig holds the lock lifetime and the expired lock sweep interval.
// A zero cleanup interval disables the sweeper.
type LockConfig struct {
	TimeoutMinutes  int           `mapstructure:"timeoutMinutes" yaml:"timeoutMinutes"`
	CleanupInterval time.Duration `mapstructure:"cleanupInterval" yaml:"cleanupInterval"`
}

// Timeout returns the lock lifetime
func (l LockConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMinutes) * time.Minute
}

// Event drivers accepted in EventsConfig.Drivers.
const (
	DriverNATS      = "nats"
	DriverKafka     = "kafka"
	DriverWebSocket = "websocket"
)

// EventsConfig selects where lock change events are published
// AllowedOrigins lists the browser origins besides the serving host that may
// open the WebSocket stream.
type EventsConfig struct {
	Drivers        []string    `mapstructure:"drivers" yaml:"drivers"`
	QueueSize      int         `mapstructure:"queueSize" yaml:"queueSize"`
	AllowedOrigins []string    `mapstructure:"allowedOrigins" yaml:"allowedOrigins"`
	NATS           NATSConfig  `mapstructure:"nats" yaml:"nats"`
	Kafka          KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// Enabled reports whether driver is listed
func (e EventsConfig) Enabled(driver string) bool {
	for _, d := range e.Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subjectPrefix" yaml:"subjectPrefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// RootConfig is the slice of the file DetectBackendType reads
type RootConfig struct {
	Backend BackendConfig `yaml:"backend"`
}
