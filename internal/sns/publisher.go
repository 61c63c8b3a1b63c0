package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	"offer-eligibility-engine/internal/db"
)

// Event kinds published after a materializer run.
const (
	EventRecomputed  = "eligibility.recomputed"
	EventInvalidated = "eligibility.invalidated"
)

// Event is the payload downstream consumers receive.
type Event struct {
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Rows       int64  `json:"rows,omitempty"`
}

// Publisher emits eligibility lifecycle events to an SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewPublisherWithEndpoint creates a publisher with custom endpoint (for LocalStack)
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Publisher{
		client:   client,
		topicARN: topicARN,
	}, nil
}

// PublishRecomputed announces a completed recompute with its row count.
func (p *Publisher) PublishRecomputed(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error {
	return p.publish(ctx, Event{
		Kind:       EventRecomputed,
		EntityType: string(entityType),
		EntityID:   entityID.String(),
		Rows:       rows,
	})
}

// PublishInvalidated announces that an offer's rows were deactivated.
func (p *Publisher) PublishInvalidated(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) error {
	return p.publish(ctx, Event{
		Kind:       EventInvalidated,
		EntityType: string(entityType),
		EntityID:   entityID.String(),
	})
}

func (p *Publisher) publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Kind),
			},
			"entity_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EntityType),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return nil
}
