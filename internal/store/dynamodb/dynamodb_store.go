// internal/store/dynamodb/dynamodb_store.go
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StoreName is the registered name of the DynamoDB store
const StoreName = "dynamodb"

const (
	attrKey     = "PK"
	attrValue   = "Value"
	attrExpires = "ExpiresAt"
	attrMembers = "Members"

	// Index items share the table with lock items under a prefix no lock key uses.
	indexKeyPrefix = "idx#"

	tableCreateTimeout = 5 * time.Minute
)

// DynamoDBClient is the subset of the DynamoDB API the store calls.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

type lockItem struct {
	PK        string `dynamodbav:"PK"`
	Value     []byte `dynamodbav:"Value"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt,omitempty"`
}

type indexItem struct {
	PK      string   `dynamodbav:"PK"`
	Members []string `dynamodbav:"Members,stringset,omitempty"`
}

func init() {
	lockservice.Register(StoreName, newStore)
}

func newStore(ctx context.Context, options lockservice.Config, logger *observability.SLogger) (store.LockStore, error) {
	cfg, ok := options.(*DynamoDBConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Store: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Store implements store.LockStore on a single DynamoDB table.
// ExpiresAt doubles as the table's TTL attribute.
type Store struct {
	client    DynamoDBClient
	tableName string
	timeout   time.Duration
	now       func() time.Time
	logger    *observability.SLogger
	config    *DynamoDBConfig
}

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.StoreConfig {
	return s.config
}

// New creates a DynamoDB store and makes sure its table exists
func New(ctx context.Context, config *DynamoDBConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		clientOpts = append(clientOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	if config.Profile != "" {
		clientOpts = append(clientOpts, awsconfig.WithSharedConfigProfile(config.Profile))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, clientOpts...)
	if err != nil {
		logger.Errorf("Failed to load AWS config: %v", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsConfig, func(o *dynamodb.Options) {
		if len(config.Endpoints) > 0 {
			o.BaseEndpoint = aws.String(config.Endpoints[0])
		}
	})

	s := newWithClient(client, config, logger)
	if err := s.ensureTableExists(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newWithClient(client DynamoDBClient, config *DynamoDBConfig, logger *observability.SLogger) *Store {
	return &Store{
		client:    client,
		tableName: config.TableName,
		timeout:   config.GetOperationTimeout(),
		now:       time.Now,
		logger:    logger,
		config:    config,
	}
}

// ensureTableExists creates the table and enables TTL on ExpiresAt when the table is missing
func (s *Store) ensureTableExists(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return store.Unreachable("describe table", err)
	}

	s.logger.Infof("Creating DynamoDB table %s", s.tableName)
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(attrKey),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(attrKey),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		s.logger.Errorf("Failed to create table: %v", err)
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)}, tableCreateTimeout); err != nil {
		s.logger.Errorf("Failed to wait for table creation: %v", err)
		return fmt.Errorf("failed to wait for table creation: %w", err)
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(s.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(attrExpires),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable TTL: %w", err)
	}
	return nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func keyOf(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: pk}}
}

func epoch(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// expiresAt rounds up so DynamoDB never reclaims a record before its TTL.
func expiresAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl + time.Second - 1).Unix()
}

func (s *Store) live(item lockItem) bool {
	return item.ExpiresAt == 0 || item.ExpiresAt > s.now().Unix()
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, store.Unreachable("get", err)
	}
	if out.Item == nil {
		return nil, store.ErrKeyNotFound
	}

	var item lockItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", key, err)
	}
	if !s.live(item) {
		return nil, store.ErrKeyNotFound
	}
	return item.Value, nil
}

// putConditional writes the item when condition holds. Attribute names go
// through placeholders since Value is a DynamoDB reserved word.
func (s *Store) putConditional(ctx context.Context, key string, value []byte, ttl time.Duration, condition string, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := s.now()
	item, err := attributevalue.MarshalMap(lockItem{PK: key, Value: value, ExpiresAt: expiresAt(now, ttl)})
	if err != nil {
		return false, fmt.Errorf("encode item %s: %w", key, err)
	}
	values[":now"] = epoch(now)

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Unreachable("put", err)
	}
	return true, nil
}

// PutIfAbsent writes when no item exists or the existing one is past its TTL
// but not yet reclaimed by DynamoDB.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.putConditional(ctx, key, value, ttl,
		"attribute_not_exists(#k) OR (attribute_exists(#e) AND #e <= :now)",
		map[string]string{"#k": attrKey, "#e": attrExpires},
		map[string]types.AttributeValue{})
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	return s.putConditional(ctx, key, value, ttl,
		"#v = :old AND (attribute_not_exists(#e) OR #e > :now)",
		map[string]string{"#v": attrValue, "#e": attrExpires},
		map[string]types.AttributeValue{":old": &types.AttributeValueMemberB{Value: old}})
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      keyOf(key),
		ConditionExpression:      aws.String("#v = :old AND (attribute_not_exists(#e) OR #e > :now)"),
		ExpressionAttributeNames: map[string]string{"#v": attrValue, "#e": attrExpires},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":old": &types.AttributeValueMemberB{Value: old},
			":now": epoch(s.now()),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Unreachable("compare and delete", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       keyOf(key),
	})
	if err != nil {
		return store.Unreachable("delete", err)
	}
	return nil
}

// Scan pages through the table filtering on the key prefix.
func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		ConsistentRead:           aws.Bool(true),
		FilterExpression:         aws.String("begins_with(#k, :prefix) AND (attribute_not_exists(#e) OR #e > :now)"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey, "#e": attrExpires},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
			":now":    epoch(s.now()),
		},
	})

	entries := make([]store.Entry, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.Unreachable("scan", err)
		}

		var items []lockItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode scan page: %w", err)
		}
		for _, item := range items {
			entries = append(entries, store.Entry{Key: item.PK, Value: item.Value})
		}
	}
	return entries, nil
}

func (s *Store) updateIndex(ctx context.Context, op, index, member string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      keyOf(indexKeyPrefix + index),
		UpdateExpression:         aws.String(op + " #m :m"),
		ExpressionAttributeNames: map[string]string{"#m": attrMembers},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberSS{Value: []string{member}},
		},
	})
	if err != nil {
		return store.Unreachable("update index", err)
	}
	return nil
}

func (s *Store) AddToIndex(ctx context.Context, index, member string) error {
	return s.updateIndex(ctx, "ADD", index, member)
}

func (s *Store) RemoveFromIndex(ctx context.Context, index, member string) error {
	return s.updateIndex(ctx, "DELETE", index, member)
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyOf(indexKeyPrefix + index),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, store.Unreachable("index members", err)
	}
	if out.Item == nil {
		return []string{}, nil
	}

	var item indexItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", index, err)
	}
	if item.Members == nil {
		return []string{}, nil
	}
	return item.Members, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err != nil {
		return store.Unreachable("ping", err)
	}
	return nil
}

// Close is a no-op; the DynamoDB client holds no connections that need releasing
func (s *Store) Close() {}
