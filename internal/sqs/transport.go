package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/eligibility"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Transport carries recompute jobs over SQS for multi-node deployments.
// Delivery is best-effort on top of the durable queue table: a lost message
// costs latency until the next drain, never the recompute itself.
type Transport struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewTransport creates an SQS-backed job transport.
func NewTransport(ctx context.Context, cfg Config, logger *zap.Logger) (*Transport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs transport initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Transport{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Dispatch sends one recompute job to the queue.
func (t *Transport) Dispatch(ctx context.Context, job eligibility.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		t.logger.Error("failed to send job to sqs",
			zap.Error(err),
			zap.String("entity_id", job.EntityID.String()),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	return nil
}

// Receive long-polls for one job. The message is deleted on receipt; the
// queue table's attempt accounting covers processing failures, so holding
// the message for redelivery would only duplicate work the drain already
// retries.
func (t *Transport) Receive(ctx context.Context) (eligibility.Job, error) {
	for {
		result, err := t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(t.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		})
		if err != nil {
			return eligibility.Job{}, fmt.Errorf("sqs receive failed: %w", err)
		}

		if len(result.Messages) == 0 {
			if ctx.Err() != nil {
				return eligibility.Job{}, ctx.Err()
			}
			continue
		}

		msg := result.Messages[0]

		if _, err := t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(t.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			t.logger.Warn("failed to delete sqs message", zap.Error(err))
		}

		var job eligibility.Job
		if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
			t.logger.Error("failed to unmarshal job", zap.Error(err))
			continue
		}

		return job, nil
	}
}

// Close closes the SQS transport.
func (t *Transport) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}
