package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, job DispatchJob) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch job: %w", err)
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = p.now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     job.RequestedAt,
		MessageId:     job.BatchID,
		CorrelationId: job.RequestID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, "", DispatchQueue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish dispatch job for batch %q: %w", job.BatchID, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
