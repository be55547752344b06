package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-petition/internal/domain"
)

// PetitionRepo provides typed DynamoDB operations for the petitions table.
type PetitionRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewPetitionRepo(client *dynamodb.Client, tableName string) *PetitionRepo {
	return &PetitionRepo{client: client, tableName: tableName}
}

func (r *PetitionRepo) Put(ctx context.Context, p *domain.Petition) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal petition: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *PetitionRepo) FindByID(ctx context.Context, petitionID string) (*domain.Petition, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("petition_id", petitionID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("petition not found: %w", domain.ErrNotFound)
	}
	var p domain.Petition
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PetitionRepo) FindBySlug(ctx context.Context, slug string) (*domain.Petition, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexPetitionSlug),
		KeyConditionExpression: aws.String("slug = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: slug},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("petition not found: %w", domain.ErrNotFound)
	}
	var p domain.Petition
	if err := attributevalue.UnmarshalMap(out.Items[0], &p); err != nil {
		return nil, err
	}
	return &p, nil
}
