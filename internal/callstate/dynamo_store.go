package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type dynamoRecord struct {
	CallID     string `dynamodbav:"callId"`
	PracticeID string `dynamodbav:"practiceId"`
	Stage      string `dynamodbav:"stage"`
	State      string `dynamodbav:"state"`
	Version    int64  `dynamodbav:"version"`
	UpdatedAt  string `dynamodbav:"updatedAt"`
	ExpiresAt  int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore keeps state in a DynamoDB table keyed by callId. Optimistic
// writes use a conditional put on the version attribute; expiresAt drives the
// table's TTL.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
}

func NewDynamoStore(client dynamoAPI, tableName string, ttl time.Duration, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("callstate: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("callstate: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl, logger: logger}
}

func (s *DynamoStore) Load(ctx context.Context, callID string) (*State, error) {
	if callID == "" {
		return nil, errors.New("callstate: call id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"callId": &types.AttributeValueMemberS{Value: callID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("callstate: dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("callstate: decode record: %w", err)
	}
	state, err := decodeState([]byte(rec.State))
	if err != nil {
		return nil, err
	}
	state.Version = rec.Version
	return state, nil
}

func (s *DynamoStore) Save(ctx context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	expected := state.Version
	condition := "attribute_not_exists(callId)"
	var values map[string]types.AttributeValue
	if expected > 0 {
		condition = "version = :expected"
		values = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}
	return s.put(ctx, state, expected+1, &condition, values)
}

// Put overwrites the stored record. The version read just before is bumped,
// so a later optimistic writer still sees a change.
func (s *DynamoStore) Put(ctx context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	var current int64
	existing, err := s.Load(ctx, state.CallID)
	switch {
	case err == nil:
		current = existing.Version
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return s.put(ctx, state, current+1, nil, nil)
}

func (s *DynamoStore) put(ctx context.Context, state *State, version int64, condition *string, values map[string]types.AttributeValue) error {
	now := time.Now().UTC()
	next := *state
	next.Version = version
	next.UpdatedAt = now
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("callstate: marshal: %w", err)
	}
	item, err := attributevalue.MarshalMap(dynamoRecord{
		CallID:     state.CallID,
		PracticeID: state.PracticeID,
		Stage:      string(state.Stage),
		State:      string(doc),
		Version:    version,
		UpdatedAt:  now.Format(time.RFC3339Nano),
		ExpiresAt:  now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("callstate: marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       condition,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			s.logger.Debug("call state conditional put rejected", "call_id", state.CallID, "expected_version", version-1)
			return ErrVersionConflict
		}
		return fmt.Errorf("callstate: dynamodb put: %w", err)
	}
	state.Version = version
	state.UpdatedAt = now
	return nil
}
