package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-petition/internal/domain"
)

// OTPRepo stores OTP requests. PK: request_id, GSI on email + created_ms.
// Expired rows are removed by the table TTL on the ttl attribute.
type OTPRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewOTPRepo(client *dynamodb.Client, tableName string) *OTPRepo {
	return &OTPRepo{client: client, tableName: tableName}
}

func (r *OTPRepo) Insert(ctx context.Context, req *domain.OTPRequest) error {
	req.CreatedAtMillis = req.CreatedAt.UnixMilli()
	req.ExpiresAtUnix = req.ExpiresAt.Unix()
	item, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal otp request: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(request_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("otp request exists: %w", domain.ErrConflict)
	}
	return err
}

// FindLatestValid walks the email's requests newest first and returns the
// first one that is unconsumed and unexpired. Limit is not set on the query
// because DynamoDB applies it before the filter.
func (r *OTPRepo) FindLatestValid(ctx context.Context, email string, now time.Time) (*domain.OTPRequest, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexOTPEmail),
		KeyConditionExpression: aws.String("email = :e"),
		FilterExpression:       aws.String("attribute_not_exists(#c) AND #ttl >= :now AND (attribute_not_exists(#a) OR #a < :max)"),
		ExpressionAttributeNames: map[string]string{
			"#c":   fieldConsumedAt,
			"#ttl": fieldTTL,
			"#a":   fieldAttempts,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":   &types.AttributeValueMemberS{Value: email},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(domain.MaxOTPAttempts)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	p := dynamodb.NewQueryPaginator(r.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var req domain.OTPRequest
			if err := attributevalue.UnmarshalMap(item, &req); err != nil {
				return nil, err
			}
			// ttl has second precision; the exact expiry decides.
			if req.Usable(now) {
				return &req, nil
			}
		}
	}
	return nil, fmt.Errorf("otp request not found: %w", domain.ErrNotFound)
}

// MarkConsumed sets consumed_at only if it is unset. The index read in
// FindLatestValid is eventually consistent, so this condition is what
// guarantees single use.
func (r *OTPRepo) MarkConsumed(ctx context.Context, requestID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldConsumedAt: at.UTC()})
	if err != nil {
		return err
	}
	ue.Names["#id"] = "request_id"
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("request_id", requestID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#id) AND attribute_not_exists(#f0)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return domain.ErrAlreadyConsumed
	}
	return err
}

// RecordAttempt atomically counts one verification attempt while fewer
// than MaxOTPAttempts have been made and the request is unconsumed.
func (r *OTPRepo) RecordAttempt(ctx context.Context, requestID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("request_id", requestID),
		UpdateExpression:    aws.String("ADD #a :one"),
		ConditionExpression: aws.String("attribute_exists(#id) AND attribute_not_exists(#c) AND (attribute_not_exists(#a) OR #a < :max)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "request_id",
			"#c":  fieldConsumedAt,
			"#a":  fieldAttempts,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(domain.MaxOTPAttempts)},
		},
	})
	if isConditionFailed(err) {
		return domain.ErrAttemptsExhausted
	}
	if err != nil {
		return fmt.Errorf("record otp attempt: %w", err)
	}
	return nil
}

func (r *OTPRepo) Delete(ctx context.Context, requestID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("request_id", requestID),
	})
	return err
}
