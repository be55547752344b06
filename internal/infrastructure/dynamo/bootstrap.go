package dynamo

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-petition/internal/config"
)

// Index names shared by the repos and Bootstrap.
const (
	indexPetitionSlug      = "slug-index"
	indexSignatureAudit          = "audit_hash-index"
	indexSignaturePetition       = "petition_id-created_ms-index"
	indexSignatureReceiptPending = "receipt_pending-created_ms-index"
	indexOTPEmail                = "email-created_ms-index"
)

// Bootstrap creates all DynamoDB tables and GSIs if they don't already exist.
// Safe to call on every startup, existing tables are skipped.
func Bootstrap(ctx context.Context, client *dynamodb.Client, tables config.DynamoTables) {
	createTable(ctx, client, &dynamodb.CreateTableInput{
		TableName:   aws.String(tables.Petitions),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("petition_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("slug"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("petition_id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(indexPetitionSlug, "slug", ""),
		},
	})

	// Guard and stats items share the table but carry none of the GSI key
	// attributes, so they never appear in the indexes.
	createTable(ctx, client, &dynamodb.CreateTableInput{
		TableName:   aws.String(tables.Signatures),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("signature_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("audit_hash"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("petition_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("created_ms"), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String(fieldReceiptPending), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("signature_id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(indexSignatureAudit, "audit_hash", ""),
			// Public stats read this index; it carries names and states only.
			gsi(indexSignaturePetition, "petition_id", "created_ms", "first_name", "last_name", "state"),
			// Sparse: the key is removed once a receipt is attached.
			gsi(indexSignatureReceiptPending, fieldReceiptPending, "created_ms"),
		},
	})

	createTable(ctx, client, &dynamodb.CreateTableInput{
		TableName:   aws.String(tables.OTPRequests),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("request_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("email"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("created_ms"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("request_id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(indexOTPEmail, "email", "created_ms"),
		},
	})
	enableTTL(ctx, client, tables.OTPRequests, fieldTTL)

	createTable(ctx, client, &dynamodb.CreateTableInput{
		TableName:   aws.String(tables.RateLimits),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("bucket"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("bucket"), KeyType: types.KeyTypeHash},
		},
	})
	enableTTL(ctx, client, tables.RateLimits, fieldTTL)
}

// gsi builds a GSI descriptor. If sortKey is empty, only a hash key is added.
// With include set only those attributes are projected, otherwise all.
func gsi(indexName, hashKey, sortKey string, include ...string) types.GlobalSecondaryIndex {
	ks := []types.KeySchemaElement{
		{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
	}
	if sortKey != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange,
		})
	}
	projection := &types.Projection{ProjectionType: types.ProjectionTypeAll}
	if len(include) > 0 {
		projection = &types.Projection{ProjectionType: types.ProjectionTypeInclude, NonKeyAttributes: include}
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(indexName),
		KeySchema:  ks,
		Projection: projection,
	}
}

func createTable(ctx context.Context, client *dynamodb.Client, input *dynamodb.CreateTableInput) {
	_, err := client.CreateTable(ctx, input)
	if err != nil {
		// ResourceInUseException means the table already exists.
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			slog.Warn("could not create table", "table", *input.TableName, "err", err)
		}
	} else {
		slog.Info("created table", "table", *input.TableName)
	}
}

func enableTTL(ctx context.Context, client *dynamodb.Client, tableName, ttlAttr string) {
	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String(ttlAttr),
		},
	})
	if err != nil {
		slog.Warn("could not enable TTL", "table", tableName, "err", err)
	}
}
