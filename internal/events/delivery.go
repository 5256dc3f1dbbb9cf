package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// FanOut delivers each entry to every handler and joins their errors.
type FanOut []DeliveryHandler

func (f FanOut) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDelivery forwards envelopes to an SQS queue for external consumers.
type SQSDelivery struct {
	client   sqsSender
	queueURL string
}

func NewSQSDelivery(client *sqs.Client, queueURL string) *SQSDelivery {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSDelivery(client, queueURL)
}

func newSQSDelivery(client sqsSender, queueURL string) *SQSDelivery {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSDelivery{client: client, queueURL: queueURL}
}

func (d *SQSDelivery) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(entry.Envelope)
	if err != nil {
		return fmt.Errorf("events: marshal envelope for sqs: %w", err)
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.EventType)},
			"aggregate":  {DataType: aws.String("String"), StringValue: aws.String(entry.Aggregate)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: send %s to sqs: %w", entry.EventType, err)
	}
	return nil
}
