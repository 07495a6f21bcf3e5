package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/concert-notifier/internal/domain"
)

type BookmarkRepo struct {
	client    API
	tableName string
}

func NewBookmarkRepo(client API, tableName string) *BookmarkRepo {
	return &BookmarkRepo{client: client, tableName: tableName}
}

// State returns the user's bookmark state for a concert, or ErrNotFound.
func (r *BookmarkRepo) State(ctx context.Context, userID, concertID string) (domain.BookmarkState, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("user_id", userID, "concert_id", concertID),
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil {
		return "", fmt.Errorf("bookmark %s/%s: %w", userID, concertID, domain.ErrNotFound)
	}
	var b domain.Bookmark
	if err := attributevalue.UnmarshalMap(out.Item, &b); err != nil {
		return "", err
	}
	return b.State, nil
}
