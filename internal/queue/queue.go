// Package queue delivers settlement messages for finished events. The
// downstream settler is idempotent, so at-least-once delivery is fine.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/matchday-live/scraper/internal/config"
)

// Queue is the settlement handle handed to jobs.
type Queue interface {
	// Send enqueues one finished event for settlement.
	Send(ctx context.Context, eventID int64) error
}

// New picks the implementation from config: a settlement URL gets SQS,
// otherwise settlement messages are dropped with a debug log.
func New(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (Queue, error) {
	if cfg.SettlementURL == "" {
		logger.Info("no settlement queue configured, settlement disabled")
		return NewNoop(logger), nil
	}
	return NewSQS(ctx, cfg.SettlementURL, logger)
}

// sqsAPI is the one SQS call we make, as an interface so tests can stub it.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// settlementMessage is the wire shape the settlement consumer reads.
type settlementMessage struct {
	EventID    int64     `json:"event_id"`
	FinishedAt time.Time `json:"finished_at"`
}

// SQS sends settlement messages to an AWS SQS queue.
type SQS struct {
	client sqsAPI
	url    string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQS builds the SQS-backed queue against the default AWS config chain.
func NewSQS(ctx context.Context, queueURL string, logger *slog.Logger) (*SQS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQS{
		client: sqs.NewFromConfig(awsCfg),
		url:    queueURL,
		logger: logger.With("component", "settlement_queue"),
		now:    time.Now,
	}, nil
}

func (q *SQS) Send(ctx context.Context, eventID int64) error {
	body, err := json.Marshal(settlementMessage{EventID: eventID, FinishedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode settlement message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send settlement for event %d: %w", eventID, err)
	}
	q.logger.Info("settlement enqueued", "event_id", eventID)
	return nil
}

// Noop drops settlement messages. Used when no queue URL is configured,
// typically in local development.
type Noop struct {
	logger *slog.Logger
}

func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger.With("component", "settlement_queue")}
}

func (n *Noop) Send(ctx context.Context, eventID int64) error {
	n.logger.Debug("settlement dropped, no queue configured", "event_id", eventID)
	return nil
}
