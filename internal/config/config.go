// internal/config/config.go
// Package config handles configuration loading and watching
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/database"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store/dynamodb"
	"github.com/avivl/conference-lock/internal/store/memory"
	"github.com/avivl/conference-lock/internal/store/postgres"
	"github.com/avivl/conference-lock/internal/store/redis"
	"github.com/avivl/conference-lock/internal/store/scylladb"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONFLOCK_LOCK_TIMEOUTMINUTES.
const EnvPrefix = "CONFLOCK"

// ConfigLoader handles loading of configurations
type ConfigLoader struct {
	v             *viper.Viper
	mu            sync.RWMutex
	watchers      []func(*GlobalConfig)
	currentConfig *GlobalConfig
	logger        *observability.SLogger
}

// NewConfigLoader creates a new configuration loader. configPath may name a
// file or a directory holding config.yaml.
func NewConfigLoader(configPath string) *ConfigLoader {
	v := viper.New()
	v.SetConfigType("yaml")

	if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		if configPath != "" {
			v.AddConfigPath(configPath)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		v:        v,
		watchers: make([]func(*GlobalConfig), 0),
		logger:   observability.NewNopLogger(),
	}
}

// SetLogger replaces the loader's logger. The logger is built from the loaded
// configuration, so it arrives after LoadConfig.
func (cl *ConfigLoader) SetLogger(l *observability.SLogger) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.logger = l
}

// AddWatcher adds a callback function that will be called when configuration changes
func (cl *ConfigLoader) AddWatcher(callback func(*GlobalConfig)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.watchers = append(cl.watchers, callback)
}

// GetCurrentConfig returns the current configuration
func (cl *ConfigLoader) GetCurrentConfig() *GlobalConfig {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.currentConfig
}

// ConfigFile returns the file in use, empty when running on defaults
func (cl *ConfigLoader) ConfigFile() string {
	return cl.v.ConfigFileUsed()
}

func (cl *ConfigLoader) notifyWatchers(newConfig *GlobalConfig) {
	cl.mu.RLock()
	watchers := make([]func(*GlobalConfig), len(cl.watchers))
	copy(watchers, cl.watchers)
	cl.mu.RUnlock()
	for _, watcher := range watchers {
		watcher(newConfig)
	}
}

// LoadConfig loads .env files, the YAML file and environment overrides, then
// watches the file for changes.
func LoadConfig(configPath string) (*ConfigLoader, *GlobalConfig, error) {
	if err := loadDotEnv(configPath); err != nil {
		return nil, nil, err
	}

	cl := NewConfigLoader(configPath)
	setDefaults(cl.v)

	fileFound := true
	if err := cl.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		fileFound = false
	}

	config, err := loadConfiguration(cl.v)
	if err != nil {
		return nil, nil, err
	}

	cl.mu.Lock()
	cl.currentConfig = config
	cl.mu.Unlock()

	if fileFound {
		cl.v.OnConfigChange(func(e fsnotify.Event) {
			cl.mu.RLock()
			l := cl.logger
			cl.mu.RUnlock()

			l.Infow("Config file changed", "file", e.Name)
			newConfig, err := loadConfiguration(cl.v)
			if err != nil {
				l.Errorw("Error reloading configuration, keeping the previous one", "error", err)
				return
			}

			cl.mu.Lock()
			cl.currentConfig = newConfig
			cl.mu.Unlock()

			cl.notifyWatchers(newConfig)
		})
		cl.v.WatchConfig()
	}

	return cl, config, nil
}

// loadDotEnv loads .env next to the config and in the working directory.
// Variables already set in the environment win.
func loadDotEnv(configPath string) error {
	dir := configPath
	if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
		dir = filepath.Dir(configPath)
	}

	candidates := []string{".env"}
	if dir != "" && dir != "." {
		candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
	}

	for _, file := range candidates {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func loadConfiguration(v *viper.Viper) (*GlobalConfig, error) {
	config := &GlobalConfig{
		Memory:   memory.NewMemoryConfig(),
		Redis:    redis.NewRedisConfig(),
		DynamoDB: dynamodb.NewDynamoDBConfig(),
		ScyllaDB: scylladb.NewScyllaDBConfig(),
		Postgres: postgres.NewPostgresConfig(),
	}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.Backend.Type = normalizeBackendType(config.Backend.Type)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults registers every key so environment overrides reach it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("serverAddress", "localhost:8080")
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("backend.type", memory.StoreName)

	v.SetDefault("lock.timeoutMinutes", 30)
	v.SetDefault("lock.cleanupInterval", "5m")

	mem := memory.NewMemoryConfig()
	v.SetDefault("memory.table", mem.TableName)

	rc := redis.NewRedisConfig()
	v.SetDefault("redis.host", rc.Host)
	v.SetDefault("redis.port", rc.Port)
	v.SetDefault("redis.password", rc.Password)
	v.SetDefault("redis.db", rc.DB)
	v.SetDefault("redis.keyPrefix", rc.KeyPrefix)
	v.SetDefault("redis.operationTimeout", rc.OperationTimeout)

	dc := dynamodb.NewDynamoDBConfig()
	v.SetDefault("dynamoDb.table", dc.TableName)
	v.SetDefault("dynamoDb.endpoints", dc.Endpoints)
	v.SetDefault("dynamoDb.operationTimeout", dc.OperationTimeout)
	v.SetDefault("dynamoDb.region", dc.Region)
	v.SetDefault("dynamoDb.profile", dc.Profile)
	v.SetDefault("dynamoDb.accessKeyId", dc.AccessKeyID)
	v.SetDefault("dynamoDb.secretAccessKey", dc.SecretAccessKey)

	sc := scylladb.NewScyllaDBConfig()
	v.SetDefault("scyllaDb.table", sc.TableName)
	v.SetDefault("scyllaDb.endpoints", sc.Endpoints)
	v.SetDefault("scyllaDb.operationTimeout", sc.OperationTimeout)
	v.SetDefault("scyllaDb.keyspace", sc.Keyspace)
	v.SetDefault("scyllaDb.consistency", sc.Consistency)
	v.SetDefault("scyllaDb.replicationFactor", sc.ReplicationFactor)

	pc := postgres.NewPostgresConfig()
	v.SetDefault("postgres.table", pc.TableName)
	setDatabaseDefaults(v, "postgres", &pc.Config)
	setDatabaseDefaults(v, "database", database.DefaultConfig())

	ac := auth.DefaultConfig()
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.adminRoles", ac.AdminRoles)
	v.SetDefault("auth.cookieName", ac.CookieName)

	v.SetDefault("events.drivers", []string{DriverWebSocket})
	v.SetDefault("events.queueSize", 256)
	v.SetDefault("events.allowedOrigins", []string{})
	v.SetDefault("events.nats.url", "nats://localhost:4222")
	v.SetDefault("events.nats.subjectPrefix", "conflock")
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "conference-locks")

	v.SetDefault("logger.level", string(observability.LogLevelInfo))

	v.SetDefault("observability.serviceName", "conference-lock")
	v.SetDefault("observability.serviceVersion", "0.1.0")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.otelEndpoint", "localhost:4317")
	v.SetDefault("observability.tracesExporter", observability.ExporterNone)
	v.SetDefault("observability.metricsExporter", observability.ExporterPrometheus)
}

func setDatabaseDefaults(v *viper.Viper, section string, c *database.Config) {
	v.SetDefault(section+".driver", c.Driver)
	v.SetDefault(section+".dsn", c.DSN)
	v.SetDefault(section+".maxOpenConns", c.MaxOpenConns)
	v.SetDefault(section+".maxIdleConns", c.MaxIdleConns)
	v.SetDefault(section+".connMaxLifetime", c.ConnMaxLifetime)
	v.SetDefault(section+".connMaxIdleTime", c.ConnMaxIdleTime)
	v.SetDefault(section+".queryTimeout", c.QueryTimeout)
	v.SetDefault(section+".logLevel", c.LogLevel)
	v.SetDefault(section+".slowThreshold", c.SlowThreshold)
}
