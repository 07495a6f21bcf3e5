package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/concert-notifier/internal/domain"
)

// HistoryRepo stores proof that a notification was sent, keyed by (event_id, sent_at).
// Records are append-only.
type HistoryRepo struct {
	client    API
	tableName string
}

func NewHistoryRepo(client API, tableName string) *HistoryRepo {
	return &HistoryRepo{client: client, tableName: tableName}
}

func (r *HistoryRepo) Put(ctx context.Context, rec *domain.NotificationHistoryRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	item["sent_at"] = timeValue(rec.SentAt)
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// ListByEventAndKind returns every record of kind sent for eventID.
func (r *HistoryRepo) ListByEventAndKind(ctx context.Context, eventID string, kind domain.NotificationKind) ([]domain.NotificationHistoryRecord, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("event_id = :eid"),
		FilterExpression:       aws.String("#k = :kind"),
		ExpressionAttributeNames: map[string]string{
			"#k": "kind",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":eid":  &types.AttributeValueMemberS{Value: eventID},
			":kind": &types.AttributeValueMemberS{Value: string(kind)},
		},
	})
	var records []domain.NotificationHistoryRecord
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var page []domain.NotificationHistoryRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		records = append(records, page...)
	}
	return records, nil
}
