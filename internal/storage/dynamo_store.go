package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
)

// KeyAttrName must match the dynamodbav tag on rideItem.ID.
const KeyAttrName = "id"

const (
	statusAttrName    = "status"
	updatedAtAttrName = "updatedAt"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type rideItem struct {
	ID                  string     `dynamodbav:"id"`
	PickupLocation      string     `dynamodbav:"pickupLocation"`
	DestinationLocation string     `dynamodbav:"destinationLocation"`
	Status              string     `dynamodbav:"status"`
	CreatedAt           *time.Time `dynamodbav:"createdAt,omitempty"`
	UpdatedAt           *time.Time `dynamodbav:"updatedAt,omitempty"`
}

func itemFromRide(r models.Ride) (map[string]types.AttributeValue, error) {
	r = r.Normalize()
	item, err := attributevalue.MarshalMap(rideItem{
		ID:                  r.ID,
		PickupLocation:      r.PickupLocation,
		DestinationLocation: r.DestinationLocation,
		Status:              string(r.Status),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshalling ride %s to DynamoDB item: %w", r.ID, err)
	}
	return item, nil
}

func rideFromItem(item map[string]types.AttributeValue) (models.Ride, error) {
	var ri rideItem
	if err := attributevalue.UnmarshalMap(item, &ri); err != nil {
		return models.Ride{}, &models.MalformedRecordError{Reason: "unreadable DynamoDB item", Err: err}
	}
	return models.Ride{
		ID:                  ri.ID,
		PickupLocation:      ri.PickupLocation,
		DestinationLocation: ri.DestinationLocation,
		Status:              models.Status(ri.Status),
		CreatedAt:           ri.CreatedAt,
		UpdatedAt:           ri.UpdatedAt,
	}, nil
}

func keyFor(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{KeyAttrName: &types.AttributeValueMemberS{Value: id}}
}

// DynamoStore keeps rides in a DynamoDB table keyed by id. It has no live
// stream of its own and is paired with Kafka through feed.Composite.
type DynamoStore struct {
	client DynamoAPI
	table  string
	logger *slog.Logger
	now    func() time.Time
}

func NewDynamoStore(client DynamoAPI, table string, logger *slog.Logger) *DynamoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoStore{client: client, table: table, logger: logger, now: time.Now}
}

func (s *DynamoStore) ReadOnce(ctx context.Context) ([]models.Ride, error) {
	in := &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	}
	var out []models.Ride
	pages := dynamodb.NewScanPaginator(s.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, feed.Transport("read", fmt.Errorf("error scanning %s: %w", s.table, err))
		}
		for _, item := range page.Items {
			r, err := rideFromItem(item)
			if err != nil {
				s.logger.Warn("skipping unreadable item", "table", s.table, "error", err)
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (models.Ride, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            keyFor(id),
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.Ride{}, feed.Transport("get", fmt.Errorf("error getting ride %s: %w", id, err))
	}
	if len(out.Item) == 0 {
		return models.Ride{}, feed.ErrUnknownRecord
	}
	return rideFromItem(out.Item)
}

// Write updates the status only if the item exists.
func (s *DynamoStore) Write(ctx context.Context, id string, fields feed.Fields) error {
	st, err := feed.WritableStatus(fields)
	if err != nil {
		return fmt.Errorf("rejected write to %s: %w", id, err)
	}
	updatedAt, err := attributevalue.Marshal(s.now().UTC())
	if err != nil {
		return fmt.Errorf("error marshalling update time: %w", err)
	}
	in := &dynamodb.UpdateItemInput{
		Key:       keyFor(id),
		TableName: aws.String(s.table),
		ExpressionAttributeNames: map[string]string{
			"#id":        KeyAttrName,
			"#status":    statusAttrName,
			"#updatedAt": updatedAtAttrName,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(st)},
			":updatedAt": updatedAt,
		},
		ConditionExpression: aws.String("attribute_exists(#id)"),
		UpdateExpression:    aws.String("SET #status = :status, #updatedAt = :updatedAt"),
	}
	if _, err := s.client.UpdateItem(ctx, in); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return feed.ErrUnknownRecord
		}
		return feed.Transport("write", fmt.Errorf("error updating ride %s: %w", id, err))
	}
	return nil
}

func (s *DynamoStore) Create(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	now := s.now().UTC()
	r := models.Ride{
		ID:                  uuid.NewString(),
		PickupLocation:      req.PickupLocation,
		DestinationLocation: req.DestinationLocation,
		Status:              models.StatusRequested,
		CreatedAt:           &now,
		UpdatedAt:           &now,
	}
	if err := r.Validate(); err != nil {
		return models.Ride{}, err
	}
	item, err := itemFromRide(r)
	if err != nil {
		return models.Ride{}, err
	}
	in := &dynamodb.PutItemInput{
		Item:                item,
		TableName:           aws.String(s.table),
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", KeyAttrName)),
	}
	if _, err := s.client.PutItem(ctx, in); err != nil {
		return models.Ride{}, feed.Transport("create", fmt.Errorf("error putting ride %s to %s: %w", r.ID, s.table, err))
	}
	return r, nil
}
