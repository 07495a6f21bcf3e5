package dynamo

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/concert-notifier/internal/domain"
)

const endpointArnIndex = "endpoint_arn-index"

// EndpointRepo provides typed DynamoDB operations for the device endpoint registry.
// Rows are keyed by (user_id, endpoint_arn) with a GSI on endpoint_arn alone.
type EndpointRepo struct {
	client    API
	tableName string
}

func NewEndpointRepo(client API, tableName string) *EndpointRepo {
	return &EndpointRepo{client: client, tableName: tableName}
}

func (r *EndpointRepo) Put(ctx context.Context, e *domain.DeviceEndpoint) error {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal endpoint: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *EndpointRepo) Delete(ctx context.Context, userID, endpointArn string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("user_id", userID, "endpoint_arn", endpointArn),
	})
	return err
}

// ListByUser returns every endpoint the user registered.
func (r *EndpointRepo) ListByUser(ctx context.Context, userID string) ([]domain.DeviceEndpoint, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	var endpoints []domain.DeviceEndpoint
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var page []domain.DeviceEndpoint
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, page...)
	}
	return endpoints, nil
}

// UserForEndpoint resolves the owner of endpointArn through the endpoint_arn GSI.
func (r *EndpointRepo) UserForEndpoint(ctx context.Context, endpointArn string) (string, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(endpointArnIndex),
		KeyConditionExpression: aws.String("endpoint_arn = :arn"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":arn": &types.AttributeValueMemberS{Value: endpointArn},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return "", err
	}
	if len(out.Items) == 0 {
		return "", fmt.Errorf("endpoint %s: %w", endpointArn, domain.ErrNotFound)
	}
	var e domain.DeviceEndpoint
	if err := attributevalue.UnmarshalMap(out.Items[0], &e); err != nil {
		return "", err
	}
	return e.UserID, nil
}

// All scans the registry for rows carrying an endpoint ARN. The scan cursor is
// followed until DynamoDB stops returning a LastEvaluatedKey. A page error is
// yielded once and ends the sequence.
func (r *EndpointRepo) All(ctx context.Context) iter.Seq2[domain.DeviceEndpoint, error] {
	return func(yield func(domain.DeviceEndpoint, error) bool) {
		p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("attribute_exists(endpoint_arn)"),
		})
		for p.HasMorePages() {
			out, err := p.NextPage(ctx)
			if err != nil {
				yield(domain.DeviceEndpoint{}, err)
				return
			}
			var page []domain.DeviceEndpoint
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
				yield(domain.DeviceEndpoint{}, fmt.Errorf("unmarshal endpoints: %w", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
