// Package consumer long-polls the provisioning queue and feeds each
// message to the orchestrator. Delivery semantics are at-least-once with
// partial-batch failure: handled messages are deleted, failed ones are
// left for redelivery, and messages that cannot be decoded are dropped
// so they never poison the queue.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/printworks/tenant-infra/metrics"
	"github.com/printworks/tenant-infra/orchestrator"
)

// Long-poll parameters.
const (
	maxMessagesPerPoll = 10
	waitTimeSeconds    = 20
	receiveBackoff     = 5 * time.Second
)

// SQSClient defines the SQS operations used by the consumer.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one decoded provisioning request.
type Handler interface {
	Handle(ctx context.Context, req orchestrator.Request, delivery orchestrator.Delivery) error
}

// messageBody is the queue wire shape. Both schedule keys are accepted;
// the cron-expression key wins when both are present.
type messageBody struct {
	TenantID           string `json:"tenantId"`
	SyncCronExpression string `json:"papercutSyncCronExpression"`
	SyncSchedule       string `json:"papercutSyncSchedule"`
	Timezone           string `json:"timezone"`
	Destroy            bool   `json:"destroy"`
}

// Consumer drives the poll loop.
type Consumer struct {
	client   SQSClient
	queueURL string
	handler  Handler
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Options carry the ambient collaborators.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates a consumer for the given queue.
func New(client SQSClient, queueURL string, handler Handler, opts Options) *Consumer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "queue_url", c.queueURL)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: maxMessagesPerPoll,
			WaitTimeSeconds:     waitTimeSeconds,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("receive messages failed", "error", err)
			if err := sleepContext(ctx, receiveBackoff); err != nil {
				return err
			}
			continue
		}

		for _, msg := range out.Messages {
			c.process(ctx, msg)
		}
	}
}

// process handles one message: decode, hand off, delete on success.
func (c *Consumer) process(ctx context.Context, msg sqstypes.Message) {
	messageID := aws.ToString(msg.MessageId)
	logger := c.logger.With("message_id", messageID)

	req, err := decode(aws.ToString(msg.Body))
	if err != nil {
		// Undecodable messages would redeliver forever; drop them.
		logger.Error("rejecting malformed message", "error", err)
		c.count("rejected")
		c.delete(ctx, logger, msg)
		return
	}

	delivery := orchestrator.Delivery{
		MessageID:    messageID,
		ReceiveCount: receiveCount(msg),
	}

	if err := c.handler.Handle(ctx, req, delivery); err != nil {
		// Left on the queue; the visibility timeout governs redelivery.
		logger.Error("message handling failed", "error", err, "receive_count", delivery.ReceiveCount)
		c.count("failed")
		return
	}

	c.count("handled")
	c.delete(ctx, logger, msg)
}

func (c *Consumer) delete(ctx context.Context, logger *slog.Logger, msg sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error("delete message failed", "error", err)
	}
}

func (c *Consumer) count(result string) {
	if c.metrics != nil {
		c.metrics.MessagesProcessed.WithLabelValues(result).Inc()
	}
}

// decode parses and validates a message body.
func decode(body string) (orchestrator.Request, error) {
	var b messageBody
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return orchestrator.Request{}, fmt.Errorf("decode message body: %w", err)
	}
	if b.TenantID == "" {
		return orchestrator.Request{}, fmt.Errorf("message body has no tenantId")
	}

	schedule := b.SyncCronExpression
	if schedule == "" {
		schedule = b.SyncSchedule
	}
	if schedule == "" && !b.Destroy {
		return orchestrator.Request{}, fmt.Errorf("message body has no sync schedule")
	}

	return orchestrator.Request{
		TenantID:     b.TenantID,
		SyncSchedule: schedule,
		Timezone:     b.Timezone,
		Destroy:      b.Destroy,
	}, nil
}

// receiveCount reads the approximate receive count attribute, defaulting
// to 1 when absent or unparsable.
func receiveCount(msg sqstypes.Message) int {
	raw, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ SQSClient = (*sqs.Client)(nil)
