// internal/config/detector.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by DetectBackendType when no file exists at the path.
var ErrConfigNotFound = errors.New("configuration file not found")

// DetectBackendType determines the backend type from the configuration file.
// CONFLOCK_BACKEND_TYPE takes precedence over the file.
func DetectBackendType(configPath string) (string, error) {
	if envType := os.Getenv(EnvPrefix + "_BACKEND_TYPE"); envType != "" {
		return normalizeBackendType(envType), nil
	}

	configFile, err := resolveConfigFilePath(configPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	var config RootConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return "", fmt.Errorf("invalid configuration file: %w", err)
	}

	if config.Backend.Type == "" {
		return "", fmt.Errorf("backend type not specified in config")
	}

	return normalizeBackendType(config.Backend.Type), nil
}

func normalizeBackendType(backend string) string {
	backend = strings.ToLower(strings.TrimSpace(backend))
	switch backend {
	case "dynamo", "aws-dynamodb":
		return "dynamodb"
	case "scylla", "cassandra":
		return "scylladb"
	case "postgresql", "pg":
		return "postgres"
	case "inmemory", "in-memory":
		return "memory"
	}
	return backend
}

// resolveConfigFilePath determines the actual configuration file path
func resolveConfigFilePath(configPath string) (string, error) {
	if configPath == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w at %s", ErrConfigNotFound, configPath)
		}
		return "", err
	}

	if !fileInfo.IsDir() {
		return configPath, nil
	}

	candidates := []string{
		filepath.Join(configPath, "config.yaml"),
		filepath.Join(configPath, "config.yml"),
	}
	for _, candidate := range candidates {
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w in directory %s", ErrConfigNotFound, configPath)
}
