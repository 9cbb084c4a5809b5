package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/shared/rabbitmq"
)

// queueMessage is the broker payload for one admitted job.
type queueMessage struct {
	JobID       string    `json:"job_id"`
	Priority    int       `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
}

// RabbitQueue is a durable dispatch queue backed by RabbitMQ. Messages are
// acknowledged on dequeue; the store-level claim keeps redeliveries from
// executing twice, and restart recovery re-admits anything lost in flight.
type RabbitQueue struct {
	client *rabbitmq.Client
	logger *slog.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	closed     bool
}

// NewRabbitQueue wraps an already-connected RabbitMQ client.
func NewRabbitQueue(client *rabbitmq.Client, logger *slog.Logger) *RabbitQueue {
	return &RabbitQueue{
		client: client,
		logger: logger,
	}
}

var _ Queue = (*RabbitQueue)(nil)

func (q *RabbitQueue) Enqueue(ctx context.Context, entry *domain.QueueEntry) error {
	body, err := json.Marshal(queueMessage{
		JobID:       entry.JobID,
		Priority:    entry.Priority,
		ScheduledAt: entry.ScheduledAt,
		RetryCount:  entry.RetryCount,
		MaxRetries:  entry.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := q.client.PublishWithPriority(ctx, body, "application/json", amqpPriority(entry.Priority)); err != nil {
		// The broker being unreachable is the canonical transient
		// infrastructure condition.
		return domain.NewTransientError(fmt.Errorf("failed to publish queue message: %w", err))
	}

	q.logger.Debug("Queue entry published to RabbitMQ",
		slog.String("job_id", entry.JobID),
		slog.Int("priority", entry.Priority),
	)

	return nil
}

func (q *RabbitQueue) Dequeue(ctx context.Context) (*domain.QueueEntry, error) {
	deliveries, err := q.consumerChannel()
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case delivery, ok := <-deliveries:
			if !ok {
				return nil, domain.ErrQueueClosed
			}

			var msg queueMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				q.logger.Error("Failed to parse queue message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages are dropped, not requeued.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					q.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				q.logger.Error("Invalid job_id in queue message",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					q.logger.Error("Failed to NACK message with invalid job_id",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				q.logger.Error("Failed to ACK queue message",
					slog.String("job_id", msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			}

			return &domain.QueueEntry{
				JobID:       msg.JobID,
				Priority:    msg.Priority,
				ScheduledAt: msg.ScheduledAt,
				RetryCount:  msg.RetryCount,
				MaxRetries:  msg.MaxRetries,
			}, nil
		}
	}
}

// Remove is advisory only: a broker message cannot be deleted in place.
// Cancelled pending jobs are skipped when the claim fails.
func (q *RabbitQueue) Remove(_ string) bool {
	return false
}

func (q *RabbitQueue) Len() int {
	count, err := q.client.QueueDepth()
	if err != nil {
		q.logger.Warn("Failed to inspect queue depth",
			slog.String("error", err.Error()),
		)
		return 0
	}
	return count
}

func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// consumerChannel lazily starts a single shared consumer.
func (q *RabbitQueue) consumerChannel() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, domain.ErrQueueClosed
	}
	if q.deliveries != nil {
		return q.deliveries, nil
	}

	consumerTag := fmt.Sprintf("dispatch-%s", uuid.New().String()[:8])
	deliveries, err := q.client.Consume(consumerTag)
	if err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("failed to start consuming: %w", err))
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// amqpPriority maps our lowest-first priority to AMQP's highest-first
// 0..9 scale.
func amqpPriority(priority int) uint8 {
	if priority < 0 {
		priority = 0
	}
	if priority > 9 {
		priority = 9
	}
	return uint8(9 - priority)
}
