package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/concert-notifier/internal/config"
	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/infrastructure/awsconf"
	"github.com/concert-notifier/internal/metrics"
)

// KindAttribute carries the notification kind next to the message body.
const KindAttribute = "kind"

const receiveRetryDelay = 2 * time.Second

// API is the subset of *sqs.Client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func NewClient(awsCfg aws.Config, cfg *config.Config) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := awsconf.BaseEndpoint(cfg); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// Publisher enqueues notification intents.
type Publisher struct {
	client   API
	queueURL string
}

func NewPublisher(client API, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

func (p *Publisher) Send(ctx context.Context, intent domain.NotificationIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if intent.Kind != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			KindAttribute: {DataType: aws.String("String"), StringValue: aws.String(string(intent.Kind))},
		}
	}
	if _, err := p.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("send intent: %w", err)
	}
	return nil
}

// Message is a received queue message with its string attributes flattened.
type Message struct {
	ID         string
	Body       string
	Attributes map[string]string
}

// Handler processes one message. Returning nil or an error wrapping
// domain.ErrMalformedIntent removes the message from the queue; any other
// error leaves it for redelivery after the visibility timeout.
type Handler func(ctx context.Context, msg Message) error

// Consumer long-polls a queue and hands each message to a Handler.
type Consumer struct {
	client      API
	queueURL    string
	handler     Handler
	waitSeconds int32
	batchSize   int32
}

func NewConsumer(client API, queueURL string, handler Handler, waitSeconds, batchSize int32) *Consumer {
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		handler:     handler,
		waitSeconds: waitSeconds,
		batchSize:   batchSize,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("receive messages failed", "queue", c.queueURL, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveRetryDelay):
			}
		}
	}
}

// PollOnce receives one batch and processes its messages concurrently; a
// failing message does not affect its siblings. It returns the batch size.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.batchSize,
		WaitTimeSeconds:       c.waitSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, m := range out.Messages {
		wg.Add(1)
		go func(m types.Message) {
			defer wg.Done()
			c.process(ctx, m)
		}(m)
	}
	wg.Wait()
	return len(out.Messages), nil
}

func (c *Consumer) process(ctx context.Context, m types.Message) {
	msg := Message{
		ID:         aws.ToString(m.MessageId),
		Body:       aws.ToString(m.Body),
		Attributes: make(map[string]string, len(m.MessageAttributes)),
	}
	for k, v := range m.MessageAttributes {
		msg.Attributes[k] = aws.ToString(v.StringValue)
	}

	err := c.handler(ctx, msg)
	switch {
	case err == nil:
		metrics.QueueMessages.WithLabelValues("handled").Inc()
	case errors.Is(err, domain.ErrMalformedIntent):
		metrics.QueueMessages.WithLabelValues("dropped").Inc()
		slog.Warn("dropping malformed message", "message_id", msg.ID, "err", err)
	default:
		metrics.QueueMessages.WithLabelValues("retried").Inc()
		slog.Error("message handling failed, leaving for redelivery", "message_id", msg.ID, "err", err)
		return
	}

	_, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		slog.Error("delete message failed", "message_id", msg.ID, "err", err)
	}
}
