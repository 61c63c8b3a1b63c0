package alerts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
)

// SESSender emails merchant operations when the budget sweep takes an offer
// out of circulation.
type SESSender struct {
	client *ses.Client
	from   string
	to     string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	ToEmail   string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		to:     cfg.ToEmail,
		logger: logger,
	}, nil
}

// SendBudgetExhausted emails the operations inbox about an exhausted offer.
func (s *SESSender) SendBudgetExhausted(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error {
	subject := fmt.Sprintf("Offer budget exhausted: %s %s", entityType, entityID)
	body := fmt.Sprintf(
		"The budget sweep found %s %s with no budget remaining.\n\n"+
			"%d eligibility rows were deactivated. The offer will not be shown "+
			"to users until its budget is topped up and a recompute runs.\n",
		entityType, entityID, rows,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{s.to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("budget alert sent",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID.String()),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}
