// Package users is the pipeline's view of the user directory. The directory
// itself belongs to the wider community backend; only an existence lookup is
// consumed here, for attribution of itinerary requests.
package users

import (
	"context"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ridecrew/itinerary-pipeline/internal/aws"
)

// Directory answers whether a user identity exists.
type Directory interface {
	Exists(ctx context.Context, email string) (bool, error)
}

// DynamoDirectory reads the users table maintained by the account subsystem.
type DynamoDirectory struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDynamoDirectory binds a Directory to the users table.
func NewDynamoDirectory(client aws.DynamoDBAPI, tableName string) *DynamoDirectory {
	return &DynamoDirectory{client: client, tableName: tableName}
}

// Exists checks for a user record keyed by email.
func (d *DynamoDirectory) Exists(ctx context.Context, email string) (bool, error) {
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
		ProjectionExpression: projection("email"),
	})
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	return len(out.Item) > 0, nil
}

func projection(s string) *string { return &s }
