package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/subvox/subvox/internal/config"
	"github.com/subvox/subvox/pkg/models"
)

const (
	TaskQueueName          = "subtitle_jobs"
	ExchangeName           = "subvox"
	RetryQueueName         = "subtitle_jobs_retry"
	DeadLetterQueueName    = "subtitle_jobs_dlq"
	DeadLetterExchangeName = "subvox_dlq"

	// MaxAttempts bounds the at-least-once retry budget for one job.
	MaxAttempts = 3

	retryCountHeader = "x-retry-count"
)

// Queue provides the background task transport. One task message is published
// per uploaded video; delivery is at-least-once.
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New connects to RabbitMQ and declares the task, retry, and dead letter
// topology. Messages nacked into the retry queue expire back onto the task
// queue after their per-message TTL.
func New(cfg config.QueueConfig) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{conn: conn, channel: channel}
	if err := q.declareTopology(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declareTopology() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		TaskQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare task queue: %w", err)
	}

	err = q.channel.QueueBind(TaskQueueName, TaskQueueName, ExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind task queue: %w", err)
	}

	// Retry queue dead-letters expired messages back onto the task queue
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": TaskQueueName,
	}
	_, err = q.channel.QueueDeclare(RetryQueueName, true, false, false, false, retryArgs)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	err = q.channel.ExchangeDeclare(DeadLetterExchangeName, "direct", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = q.channel.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishTask publishes one processing task, exactly one per successful
// upload.
func (q *Queue) PublishTask(ctx context.Context, task *models.ProcessTask) error {
	return q.publish(ctx, task, 0)
}

func (q *Queue) publish(ctx context.Context, task *models.ProcessTask, attempt int) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		TaskQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{retryCountHeader: int32(attempt)},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	return nil
}

// PublishRetry requeues a failed task for another attempt after an
// exponential backoff, or dead-letters it when the retry budget is spent.
func (q *Queue) PublishRetry(ctx context.Context, task *models.ProcessTask, attempt int, reason string) error {
	if attempt >= MaxAttempts {
		return q.publishToDLQ(ctx, task, reason)
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	delay := backoffDelay(attempt)

	err = q.channel.PublishWithContext(ctx,
		"",
		RetryQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{retryCountHeader: int32(attempt)},
			Expiration:   fmt.Sprintf("%d", delay.Milliseconds()),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	return nil
}

func (q *Queue) publishToDLQ(ctx context.Context, task *models.ProcessTask, reason string) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"x-failure-reason": reason,
				"x-failed-at":      time.Now().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	return nil
}

// TaskHandler processes one delivery. attempt is zero-based; a non-nil error
// sends the task to the retry queue (or the DLQ once the budget is spent).
type TaskHandler func(task *models.ProcessTask, attempt int) error

// ConsumeTasks starts consuming tasks from the queue, one at a time
func (q *Queue) ConsumeTasks(ctx context.Context, handler TaskHandler) error {
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		TaskQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				settleDelivery(ctx, &msg, handler, q.PublishRetry)
			}
		}
	}()

	return nil
}

// retryPublisher matches PublishRetry; injected so settling is testable.
type retryPublisher func(ctx context.Context, task *models.ProcessTask, attempt int, reason string) error

// settleDelivery runs the handler for one message and settles it with the
// broker. A handler error sends the task through the retry path; if that
// publish itself fails the delivery is nacked back onto the queue so the
// attempt is not lost. Only a successful handler or a successful requeue
// acks.
func settleDelivery(ctx context.Context, msg *amqp.Delivery, handler TaskHandler, retry retryPublisher) {
	var task models.ProcessTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		msg.Nack(false, false)
		return
	}

	attempt := readAttempt(msg.Headers)

	if err := handler(&task, attempt); err != nil {
		if pubErr := retry(ctx, &task, attempt+1, err.Error()); pubErr != nil {
			log.Error().
				Err(pubErr).
				Str("video_id", task.VideoID).
				Msg("failed to requeue task, returning delivery to broker")
			msg.Nack(false, true)
			return
		}
	}
	msg.Ack(false)
}

func readAttempt(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := 30 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}
