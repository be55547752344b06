package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/infrastructure/awsconf"
)

// EventSignatureRecorded is published after a signature is stored.
const EventSignatureRecorded = "signature.recorded"

// SignatureEvent carries no personal data beyond what the public audit
// lookup already reveals.
type SignatureEvent struct {
	SignatureID string `json:"signature_id"`
	PetitionID  string `json:"petition_id"`
	AuditHash   string `json:"audit_hash"`
	SignedAt    string `json:"signed_at"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
}

// Publisher sends domain events to an SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
}

func NewPublisher(ctx context.Context, cfg *config.Config) (*Publisher, error) {
	awsCfg, err := awsconf.Load(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		return nil, err
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		o.BaseEndpoint = awsconf.Endpoint(cfg)
	})
	return &Publisher{client: client, topicARN: cfg.SNSTopicARN}, nil
}

func (p *Publisher) SignatureRecorded(ctx context.Context, ev SignatureEvent) error {
	input, err := publishInput(p.topicARN, EventSignatureRecorded, ev)
	if err != nil {
		return err
	}
	_, err = p.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

func publishInput(topicARN, eventType string, payload any) (*sns.PublishInput, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
		},
	}, nil
}
