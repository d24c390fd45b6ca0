package dynamodb

import (
	"context"
	"time"

	"admin-dashboard/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// API is the part of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *awsv2dynamodb.GetItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *awsv2dynamodb.PutItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *awsv2dynamodb.DeleteItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.DeleteItemOutput, error)
}

func NewClient(ctx context.Context, region string) (*awsv2dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	return awsv2dynamodb.NewFromConfig(cfg), nil
}

// KVStore keeps one item per key: PK is the key, Value the raw bytes.
// With a ttl, ExpiresAt is written for the table's TTL attribute.
type KVStore struct {
	db        API
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewKVStore(db API, tableName string, ttl time.Duration) *KVStore {
	return &KVStore{db: db, tableName: tableName, ttl: ttl, now: time.Now}
}

type kvItem struct {
	PK        string `dynamodbav:"PK"`
	Value     []byte `dynamodbav:"Value"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt,omitempty"`
}

func itemKey(key string) map[string]awsv2types.AttributeValue {
	return map[string]awsv2types.AttributeValue{
		"PK": &awsv2types.AttributeValueMemberS{Value: key},
	}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetValue", func(ctx context.Context) error {
		var e error
		out, e = s.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      aws.String(s.tableName),
			Key:            itemKey(key),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	var item kvItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	if item.ExpiresAt > 0 && item.ExpiresAt <= s.now().Unix() {
		// TTL deletion lags; treat expired items as gone.
		return nil, domain.ErrNotFound
	}
	return item.Value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	now := s.now().UTC()
	item := kvItem{PK: key, Value: value, UpdatedAt: now.Format(time.RFC3339)}
	if s.ttl > 0 {
		item.ExpiresAt = now.Add(s.ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutValue", func(ctx context.Context) error {
		_, err := s.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      av,
		})
		return err
	})
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	return xray.Capture(ctx, "DynamoDB.DeleteValue", func(ctx context.Context) error {
		_, err := s.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       itemKey(key),
		})
		return err
	})
}
