package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/zhejian/pastebin/internal/model"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the repository
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// inlineContentLimit is the largest body, in bytes, kept inside the item.
// DynamoDB rejects items over 400KB.
const inlineContentLimit = 300 * 1024

// DynamoPasteRepository implements PasteRepositoryInterface using DynamoDB.
// The table is keyed on "id" and should have TTL enabled on "purge_at".
// Bodies over inlineContentLimit live in the content store and the item
// keeps only their "content_key".
type DynamoPasteRepository struct {
	client     DynamoDBAPI
	content    ContentStore
	tableName  string
	timeout    time.Duration
	purgeAfter time.Duration
}

// DynamoOption customises a DynamoPasteRepository
type DynamoOption func(*DynamoPasteRepository)

// WithContentStore sets where oversized paste bodies are kept
func WithContentStore(store ContentStore) DynamoOption {
	return func(d *DynamoPasteRepository) { d.content = store }
}

// NewDynamoPasteRepository creates a new DynamoDB paste repository
func NewDynamoPasteRepository(client DynamoDBAPI, tableName string, timeout, purgeAfter time.Duration, opts ...DynamoOption) *DynamoPasteRepository {
	d := &DynamoPasteRepository{
		client:     client,
		tableName:  tableName,
		timeout:    timeout,
		purgeAfter: purgeAfter,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create puts the item only if no item with the same id exists
func (d *DynamoPasteRepository) Create(ctx context.Context, paste *model.Paste) error {
	ctx, span := startDBSpan(ctx, "db.insert", "dynamodb", "PutItem", d.tableName, paste.ID)
	defer span.End()

	item := d.pasteToItem(paste)
	contentKey, err := d.offloadContent(ctx, paste)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if contentKey != "" {
		delete(item, "content")
		item["content_key"] = &types.AttributeValueMemberS{Value: contentKey}
	}

	putCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err = d.client.PutItem(putCtx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if contentKey != "" {
			d.discardContent(ctx, contentKey)
		}
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrIDConflict
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// GetByID performs a strongly consistent read of the paste item
func (d *DynamoPasteRepository) GetByID(ctx context.Context, id string) (*model.Paste, error) {
	ctx, span := startDBSpan(ctx, "db.select", "dynamodb", "GetItem", d.tableName, id)
	defer span.End()
	getCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.client.GetItem(getCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return d.itemToPaste(ctx, result.Item)
}

// IncrementViewCount uses a conditional UpdateItem so the limit check and
// the ADD happen server-side in one request.
func (d *DynamoPasteRepository) IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error) {
	ctx, span := startDBSpan(ctx, "db.update", "dynamodb", "UpdateItem", d.tableName, id)
	defer span.End()
	updateCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	condition := "attribute_exists(id)"
	values := map[string]types.AttributeValue{
		":one": &types.AttributeValueMemberN{Value: "1"},
	}
	if maxViews != nil {
		condition += " AND view_count < :max"
		values[":max"] = numberAttr(*maxViews)
	}

	result, err := d.client.UpdateItem(updateCtx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET view_count = view_count + :one"),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, missingOrExhausted(maxViews)
		}
		span.RecordError(err)
		return nil, err
	}
	return d.itemToPaste(ctx, result.Attributes)
}

// Ping describes the table to verify credentials and reachability
func (d *DynamoPasteRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	return err
}

// Close is a no-op for DynamoDB
func (d *DynamoPasteRepository) Close() {}

// offloadContent uploads an oversized body and returns its key, or "" when
// the body fits inline. Keys are unique per attempt so a losing id
// collision never overwrites the winner's body.
func (d *DynamoPasteRepository) offloadContent(ctx context.Context, paste *model.Paste) (string, error) {
	if len(paste.Content) <= inlineContentLimit {
		return "", nil
	}
	if d.content == nil {
		return "", ErrContentTooLarge
	}

	key := paste.ID + "/" + uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.content.Put(ctx, key, paste.Content); err != nil {
		return "", err
	}
	return key, nil
}

// discardContent removes a body whose item was never written. Failures
// leave an orphan for the bucket lifecycle rule.
func (d *DynamoPasteRepository) discardContent(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	_ = d.content.Delete(ctx, key)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// pasteToItem converts a Paste to a DynamoDB item
func (d *DynamoPasteRepository) pasteToItem(paste *model.Paste) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: paste.ID},
		"content":    &types.AttributeValueMemberS{Value: paste.Content},
		"created_at": numberAttr(paste.CreatedAt),
		"view_count": numberAttr(paste.ViewCount),
	}
	if paste.TTLSeconds != nil {
		item["ttl_seconds"] = numberAttr(*paste.TTLSeconds)
	}
	if paste.ExpiresAt != nil {
		item["expires_at"] = numberAttr(*paste.ExpiresAt)
		if d.purgeAfter > 0 {
			// DynamoDB TTL expects epoch seconds
			purgeAt := time.UnixMilli(*paste.ExpiresAt).Add(d.purgeAfter).Unix()
			item["purge_at"] = numberAttr(purgeAt)
		}
	}
	if paste.MaxViews != nil {
		item["max_views"] = numberAttr(*paste.MaxViews)
	}
	return item
}

// itemToPaste converts a DynamoDB item to a Paste, loading an offloaded
// body from the content store
func (d *DynamoPasteRepository) itemToPaste(ctx context.Context, item map[string]types.AttributeValue) (*model.Paste, error) {
	paste := &model.Paste{}

	id, ok := item["id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("dynamodb item missing id")
	}
	paste.ID = id.Value

	switch {
	case item["content"] != nil:
		content, ok := item["content"].(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("dynamodb attribute content is not a string")
		}
		paste.Content = content.Value
	case item["content_key"] != nil:
		key, ok := item["content_key"].(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("dynamodb attribute content_key is not a string")
		}
		if d.content == nil {
			return nil, fmt.Errorf("paste %s content is offloaded but no content store is configured", paste.ID)
		}
		getCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		content, err := d.content.Get(getCtx, key.Value)
		if err != nil {
			return nil, err
		}
		paste.Content = content
	}

	var err error
	if paste.CreatedAt, err = requiredNumber(item, "created_at"); err != nil {
		return nil, err
	}
	if paste.ViewCount, err = requiredNumber(item, "view_count"); err != nil {
		return nil, err
	}
	if paste.TTLSeconds, err = optionalNumber(item, "ttl_seconds"); err != nil {
		return nil, err
	}
	if paste.ExpiresAt, err = optionalNumber(item, "expires_at"); err != nil {
		return nil, err
	}
	if paste.MaxViews, err = optionalNumber(item, "max_views"); err != nil {
		return nil, err
	}
	return paste, nil
}

func requiredNumber(item map[string]types.AttributeValue, name string) (int64, error) {
	v, err := optionalNumber(item, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("dynamodb item missing %s", name)
	}
	return *v, nil
}

func optionalNumber(item map[string]types.AttributeValue, name string) (*int64, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("dynamodb attribute %s: %w", name, err)
	}
	return &n, nil
}
