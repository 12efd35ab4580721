package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"todoflow/internal/platform/tracing"
	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	"todoflow/pkg/platform/sentinel"
)

// Single-table layout: PK = "TODO#<listId>", SK = "ID#<id>".
const (
	attrPK = "PK"
	attrSK = "SK"

	pkPrefix = "TODO#"
	skPrefix = "ID#"
)

// DynamoAPI is the subset of the DynamoDB client the store calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// Dynamo stores todos in a single DynamoDB table.
type Dynamo struct {
	client DynamoAPI
	table  string
}

func NewDynamo(client DynamoAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table}
}

type dynamoItem struct {
	PK                 string `dynamodbav:"PK"`
	SK                 string `dynamodbav:"SK"`
	ID                 string `dynamodbav:"id"`
	ListID             string `dynamodbav:"list_id"`
	Title              string `dynamodbav:"title"`
	Description        string `dynamodbav:"description"`
	CreatedAt          string `dynamodbav:"created_at"`
	CreatedConfirmedAt string `dynamodbav:"created_confirmed_at,omitempty"`
	DeletedConfirmedAt string `dynamodbav:"deleted_confirmed_at,omitempty"`
}

func partitionKey(listID id.ListID) string { return pkPrefix + listID.String() }
func sortKey(todoID id.TodoID) string      { return skPrefix + todoID.String() }

func keyAttrs(listID id.ListID, todoID id.TodoID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: partitionKey(listID)},
		attrSK: &types.AttributeValueMemberS{Value: sortKey(todoID)},
	}
}

func toItem(t *models.Todo) dynamoItem {
	item := dynamoItem{
		PK:          partitionKey(t.ListID),
		SK:          sortKey(t.ID),
		ID:          t.ID.String(),
		ListID:      t.ListID.String(),
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.CreatedConfirmedAt != nil {
		item.CreatedConfirmedAt = t.CreatedConfirmedAt.UTC().Format(time.RFC3339Nano)
	}
	if t.DeletedConfirmedAt != nil {
		item.DeletedConfirmedAt = t.DeletedConfirmedAt.UTC().Format(time.RFC3339Nano)
	}
	return item
}

func fromItem(av map[string]types.AttributeValue) (*models.Todo, error) {
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal todo item: %w", err)
	}
	todoID, err := id.ParseTodoID(strings.TrimPrefix(item.SK, skPrefix))
	if err != nil {
		return nil, fmt.Errorf("todo item has malformed sort key %q: %w", item.SK, err)
	}
	todo := &models.Todo{
		ListID:      id.ListID(strings.TrimPrefix(item.PK, pkPrefix)),
		ID:          todoID,
		Title:       item.Title,
		Description: item.Description,
	}
	if todo.CreatedAt, err = time.Parse(time.RFC3339Nano, item.CreatedAt); err != nil {
		return nil, fmt.Errorf("todo item has malformed created_at: %w", err)
	}
	if todo.CreatedConfirmedAt, err = parseOptionalTime(item.CreatedConfirmedAt); err != nil {
		return nil, err
	}
	if todo.DeletedConfirmedAt, err = parseOptionalTime(item.DeletedConfirmedAt); err != nil {
		return nil, err
	}
	return todo, nil
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("todo item has malformed timestamp: %w", err)
	}
	return &t, nil
}

func (s *Dynamo) Put(ctx context.Context, todo *models.Todo) (err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	av, err := attributevalue.MarshalMap(toItem(todo))
	if err != nil {
		return fmt.Errorf("marshal todo item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if isConditionFailed(err) {
		return sentinel.ErrConflict
	}
	return classify("put todo", err)
}

func (s *Dynamo) Get(ctx context.Context, key models.Key) (*models.Todo, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(key.ListID, key.ID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("get todo", err)
	}
	if len(out.Item) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return fromItem(out.Item)
}

func (s *Dynamo) Query(ctx context.Context, listID id.ListID, req models.PageRequest) (page *models.Page, err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	req = req.Normalize()
	after, hasAfter, err := decodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(listID)},
			":sk": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ConsistentRead: aws.Bool(true),
		Limit:          aws.Int32(int32(req.Limit + 1)),
	}
	if hasAfter {
		input.ExclusiveStartKey = keyAttrs(listID, after)
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, classify("query todos", err)
	}

	items := make([]*models.Todo, 0, len(out.Items))
	for _, av := range out.Items {
		todo, err := fromItem(av)
		if err != nil {
			return nil, err
		}
		items = append(items, todo)
	}

	page = &models.Page{Items: items}
	switch {
	case len(items) > req.Limit:
		page.Items = items[:req.Limit]
		page.NextCursor = encodeCursor(page.Items[req.Limit-1].ID)
	case len(out.LastEvaluatedKey) > 0 && len(items) > 0:
		// the 1MB response cap cut the page short
		page.NextCursor = encodeCursor(items[len(items)-1].ID)
	}
	return page, nil
}

func (s *Dynamo) Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) (todo *models.Todo, err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 keyAttrs(listID, todoID),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if isConditionFailed(err) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, classify("delete todo", err)
	}
	return fromItem(out.Attributes)
}

func (s *Dynamo) Confirm(ctx context.Context, key models.Key, kind models.ConfirmationKind, at time.Time) (err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	attr, err := confirmationAttr(kind)
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyAttrs(key.ListID, key.ID),
		UpdateExpression:         aws.String("SET #c = if_not_exists(#c, :at)"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#c": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	})
	if isConditionFailed(err) {
		return sentinel.ErrNotFound
	}
	return classify("confirm todo", err)
}

func (s *Dynamo) Health(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return classify("describe table", err)
}

func confirmationAttr(kind models.ConfirmationKind) (string, error) {
	switch kind {
	case models.ConfirmCreated:
		return "created_confirmed_at", nil
	case models.ConfirmDeleted:
		return "deleted_confirmed_at", nil
	default:
		return "", fmt.Errorf("unknown confirmation kind %q", kind)
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// classify marks throttling and transport failures as retryable. Validation
// and access errors are configuration bugs and pass through unmarked.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException", "AccessDeniedException", "ResourceNotFoundException":
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, sentinel.Unavailable(err))
}
