package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/events"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// PublishOrderEvent sends an order lifecycle event. The event type and order id
// are duplicated into message attributes so subscribers can filter without
// decoding the body.
func (p *Publisher) PublishOrderEvent(ctx context.Context, event events.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return p.SendMessage(ctx, string(body), map[string]string{
		"event_type": event.Type,
		"order_id":   event.OrderID,
	})
}

// SendMessage sends a raw JSON body. attributes are sent as String MessageAttributes;
// empty values are skipped.
func (p *Publisher) SendMessage(ctx context.Context, messageBody string, attributes map[string]string) error {
	if p.QueueURL == "" {
		return fmt.Errorf("send message: queue url is not configured")
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			if v == "" {
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    String("String"),
				StringValue: String(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
