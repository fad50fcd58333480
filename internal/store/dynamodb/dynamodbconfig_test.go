// internal/store/dynamodb/dynamodbconfig_test.go
package dynamodb

import (
	"testing"

	"github.com/avivl/conference-lock/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestDynamoDBConfigValidate(t *testing.T) {
	valid := func() *DynamoDBConfig {
		cfg := NewDynamoDBConfig()
		cfg.Endpoints = []string{"http://localhost:8000"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*DynamoDBConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*DynamoDBConfig) {}},
		{name: "missing region", mutate: func(c *DynamoDBConfig) { c.Region = "" }, wantErr: "region is required"},
		{name: "missing table", mutate: func(c *DynamoDBConfig) { c.TableName = "" }, wantErr: "table is required"},
		{name: "access key only", mutate: func(c *DynamoDBConfig) { c.AccessKeyID = "id" }, wantErr: "both access key and secret key must be provided together"},
		{name: "secret only", mutate: func(c *DynamoDBConfig) { c.SecretAccessKey = "secret" }, wantErr: "both access key and secret key must be provided together"},
		{name: "both credentials", mutate: func(c *DynamoDBConfig) { c.AccessKeyID, c.SecretAccessKey = "id", "secret" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestDynamoDBConfigAccessors(t *testing.T) {
	var cfg store.StoreConfig = &DynamoDBConfig{
		BaseStoreConfig: store.BaseStoreConfig{TableName: "locks", Endpoints: []string{"http://localhost:8000"}},
	}
	assert.Equal(t, "locks", cfg.GetTableName())
	assert.Equal(t, []string{"http://localhost:8000"}, cfg.GetEndpoints())
}
