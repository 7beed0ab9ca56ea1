// Package dynamo stores user documents in a DynamoDB table keyed by user_id.
// Writes are conditional on the version attribute.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"saldo/internal/core"
	"saldo/internal/store"
)

var _ store.Repository = (*Store)(nil)

// API is the subset of the DynamoDB client the store calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Options struct {
	Table  string
	Region string
	// Endpoint overrides the service URL, e.g. for DynamoDB Local.
	Endpoint string
}

type Store struct {
	db    API
	table string
	now   func() time.Time
}

// userItem is the stored item. The aggregate travels as a JSON string so
// decimal amounts keep their exact representation.
type userItem struct {
	UserID    string `dynamodbav:"user_id"`
	Version   int64  `dynamodbav:"version"`
	Balance   string `dynamodbav:"balance"`
	Document  string `dynamodbav:"document"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// New loads the default AWS configuration and returns a store bound to opts.Table.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Table == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewWithClient(client, opts.Table), nil
}

func NewWithClient(db API, table string) *Store {
	return &Store{db: db, table: table, now: time.Now}
}

func (s *Store) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func (s *Store) Load(ctx context.Context, userID string) (*core.User, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: user %s", core.ErrNotFound, userID)
	}

	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", userID, err)
	}
	var u core.User
	if err := json.Unmarshal([]byte(item.Document), &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	u.Version = item.Version
	return store.Normalize(&u), nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string) (*core.User, error) {
	return store.GetOrCreate(ctx, s, userID)
}

func (s *Store) Save(ctx context.Context, u *core.User) error {
	now := s.now().UTC()
	next := *u
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version = u.Version + 1

	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.UserID, err)
	}
	av, err := attributevalue.MarshalMap(userItem{
		UserID:    next.UserID,
		Version:   next.Version,
		Balance:   next.Balance.String(),
		Document:  string(doc),
		UpdatedAt: now.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", u.UserID, err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if u.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(user_id)")
	} else {
		in.ConditionExpression = aws.String("#v = :expected")
		in.ExpressionAttributeNames = map[string]string{"#v": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(u.Version, 10)},
		}
	}

	if _, err := s.db.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: user %s version %d", store.ErrVersionConflict, u.UserID, u.Version)
		}
		return fmt.Errorf("put user %s: %w", u.UserID, err)
	}

	u.Version = next.Version
	u.CreatedAt = next.CreatedAt
	u.UpdatedAt = next.UpdatedAt
	return nil
}

// ListUserIDs scans the key attribute only, following pagination.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	var lastKey map[string]types.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("user_id"),
			ExclusiveStartKey:    lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan users: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item["user_id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = out.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Close() error { return nil }
