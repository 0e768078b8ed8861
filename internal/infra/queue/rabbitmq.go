package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

// RabbitShowQueue реализует очередь заданий планировщика через AMQP.
type RabbitShowQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitShowQueue подключается к RabbitMQ и объявляет устойчивую очередь.
func NewRabbitShowQueue(amqpURL, queue string) (*RabbitShowQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitShowQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue публикует задание в очередь.
func (q *RabbitShowQueue) Enqueue(ctx context.Context, job domain.ShowJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задание из очереди.
func (q *RabbitShowQueue) Pop(ctx context.Context) (domain.ShowJob, error) {
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.queue, "", true, false, false, false, nil)
		if err != nil {
			return domain.ShowJob{}, fmt.Errorf("consume queue: %w", err)
		}
		q.deliveries = deliveries
	}

	select {
	case <-ctx.Done():
		return domain.ShowJob{}, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			return domain.ShowJob{}, errors.New("rabbitmq queue: channel closed")
		}
		var job domain.ShowJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			return domain.ShowJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Close освобождает канал и соединение.
func (q *RabbitShowQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
