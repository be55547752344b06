package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-petition/internal/pkg/ratelimit"
)

// RateLimitStore counts hits in fixed windows with an atomic ADD and
// estimates a sliding window by weighting the previous window's count.
// PK: bucket ("<rule>:<subject>#<window start unix>").
type RateLimitStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewRateLimitStore(client *dynamodb.Client, tableName string) *RateLimitStore {
	return &RateLimitStore{client: client, tableName: tableName}
}

func windowKey(bucket string, start time.Time) string {
	return bucket + "#" + strconv.FormatInt(start.Unix(), 10)
}

func (s *RateLimitStore) Take(ctx context.Context, bucket string, r ratelimit.Rule, now time.Time) (bool, error) {
	start := now.Truncate(r.Window)
	expires := start.Add(2 * r.Window).Unix()

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              strKey("bucket", windowKey(bucket, start)),
		UpdateExpression: aws.String("ADD #hits :one SET #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#hits": fieldCount,
			"#ttl":  fieldTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return false, fmt.Errorf("rate limit add: %w", err)
	}
	current, err := numberAttr(out.Attributes, fieldCount)
	if err != nil {
		return false, err
	}

	prevOut, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  strKey("bucket", windowKey(bucket, start.Add(-r.Window))),
		ProjectionExpression: aws.String("#hits"),
		ExpressionAttributeNames: map[string]string{
			"#hits": fieldCount,
		},
	})
	if err != nil {
		return false, fmt.Errorf("rate limit read previous: %w", err)
	}
	previous, err := numberAttr(prevOut.Item, fieldCount)
	if err != nil {
		return false, err
	}

	return ratelimit.SlidingEstimate(previous, current, now.Sub(start), r.Window) <= float64(r.Max), nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	av, ok := item[name]
	if !ok {
		return 0, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is not a number", name)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
