// internal/store/dynamodb/dynamodbconfig.go
package dynamodb

import (
	"errors"

	"github.com/avivl/conference-lock/internal/store"
)

type DynamoDBConfig struct {
	store.BaseStoreConfig `mapstructure:",squash" yaml:",inline"`

	Region          string `mapstructure:"region" yaml:"region"`
	Profile         string `mapstructure:"profile" yaml:"profile,omitempty"`
	AccessKeyID     string `mapstructure:"accessKeyId" yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `mapstructure:"secretAccessKey" yaml:"secretAccessKey,omitempty"`
}

func (c *DynamoDBConfig) Validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.TableName == "" {
		return errors.New("table is required")
	}
	if c.OperationTimeout < 0 {
		return errors.New("operationTimeout must be non-negative")
	}
	// Check if credentials are provided consistently
	if (c.AccessKeyID != "" && c.SecretAccessKey == "") ||
		(c.AccessKeyID == "" && c.SecretAccessKey != "") {
		return errors.New("both access key and secret key must be provided together")
	}
	return nil
}

// NewDynamoDBConfig creates a new DynamoDB configuration with default values
func NewDynamoDBConfig() *DynamoDBConfig {
	return &DynamoDBConfig{
		BaseStoreConfig: store.BaseStoreConfig{TableName: "conference-locks"},
		Region:          "us-west-2",
	}
}
