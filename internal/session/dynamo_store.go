package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	kindPending      = "pending"
	kindRegistration = "registration"
)

// dynamoItem is keyed by pk = "<kind>#<phone>". expiresAt is the table's TTL
// attribute; DynamoDB deletes lazily, so reads also check it.
type dynamoItem struct {
	PK        string `dynamodbav:"pk"`
	Phone     string `dynamodbav:"phone"`
	Kind      string `dynamodbav:"kind"`
	Tag       string `dynamodbav:"tag,omitempty"`
	Body      string `dynamodbav:"body"`
	UpdatedAt string `dynamodbav:"updatedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore keeps one item per phone per record type.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       TTLs
	now       func() time.Time
}

func NewDynamoStore(client dynamoAPI, tableName string, ttl TTLs) *DynamoStore {
	if client == nil {
		panic("session: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("session: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func dynamoKey(kind, phone string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: kind + "#" + phone},
	}
}

func (s *DynamoStore) put(ctx context.Context, kind, phone, tag string, body []byte, ttl time.Duration) error {
	now := s.now().UTC()
	item := dynamoItem{
		PK:        kind + "#" + phone,
		Phone:     phone,
		Kind:      kind,
		Tag:       tag,
		Body:      string(body),
		UpdatedAt: now.Format(time.RFC3339Nano),
	}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("session: failed to marshal %s item: %w", kind, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("session: failed to persist %s: %w", kind, err)
	}
	return nil
}

// get returns the item body, or nil when absent or expired.
func (s *DynamoStore) get(ctx context.Context, kind, phone string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            dynamoKey(kind, phone),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("session: failed to fetch %s: %w", kind, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("session: failed to decode %s item: %w", kind, err)
	}
	if item.ExpiresAt > 0 && s.now().Unix() >= item.ExpiresAt {
		return nil, nil
	}
	return []byte(item.Body), nil
}

func (s *DynamoStore) delete(ctx context.Context, kind, phone string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          dynamoKey(kind, phone),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("session: failed to delete %s: %w", kind, err)
	}
	if len(out.Attributes) == 0 {
		return false, nil
	}
	var old dynamoItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &old); err != nil {
		return true, nil
	}
	return old.ExpiresAt == 0 || s.now().Unix() < old.ExpiresAt, nil
}

func (s *DynamoStore) Get(ctx context.Context, phone string) (*PendingConfirmation, error) {
	body, err := s.get(ctx, kindPending, phone)
	if err != nil || body == nil {
		return nil, err
	}
	var pending PendingConfirmation
	if err := json.Unmarshal(body, &pending); err != nil {
		return nil, fmt.Errorf("session: failed to decode continuation: %w", err)
	}
	return &pending, nil
}

func (s *DynamoStore) Upsert(ctx context.Context, pending PendingConfirmation) error {
	body, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("session: failed to marshal continuation: %w", err)
	}
	return s.put(ctx, kindPending, pending.Phone, string(pending.Tag), body, s.ttl.Continuation)
}

func (s *DynamoStore) Delete(ctx context.Context, phone string) (bool, error) {
	return s.delete(ctx, kindPending, phone)
}

func (s *DynamoStore) GetRegistration(ctx context.Context, phone string) (*PendingRegistration, error) {
	body, err := s.get(ctx, kindRegistration, phone)
	if err != nil || body == nil {
		return nil, err
	}
	var reg PendingRegistration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("session: failed to decode registration: %w", err)
	}
	return &reg, nil
}

func (s *DynamoStore) UpsertRegistration(ctx context.Context, reg PendingRegistration) error {
	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("session: failed to marshal registration: %w", err)
	}
	return s.put(ctx, kindRegistration, reg.Phone, "", body, s.ttl.Registration)
}

func (s *DynamoStore) DeleteRegistration(ctx context.Context, phone string) (bool, error) {
	return s.delete(ctx, kindRegistration, phone)
}
