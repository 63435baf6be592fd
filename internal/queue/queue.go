package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// PollRoutingKey is used when a delayed poll comes back from the delay queue
const PollRoutingKey = "dubbing.poll"

// Queue publishes stage events to a topic exchange and carries the dubbing
// poll loop: a durable poll queue plus a TTL delay queue that dead-letters
// back into it.
type Queue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	pollQueue  string
	delayQueue string
}

// New creates a new queue client and declares its topology
func New(cfg config.QueueConfig, pollInterval time.Duration) (*Queue, error) {
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

	q := &Queue{
		conn:       conn,
		channel:    channel,
		exchange:   cfg.Exchange,
		pollQueue:  cfg.PollQueue,
		delayQueue: cfg.PollQueue + ".delay",
	}

	if err := q.declare(pollInterval); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare(pollInterval time.Duration) error {
	err := q.channel.ExchangeDeclare(
		q.exchange,
		"topic",
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
		q.pollQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare poll queue: %w", err)
	}

	for _, key := range []string{models.EventDubbingRequested, PollRoutingKey} {
		if err := q.channel.QueueBind(q.pollQueue, key, q.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind poll queue to %s: %w", key, err)
		}
	}

	_, err = q.channel.QueueDeclare(
		q.delayQueue,
		true,
		false,
		false,
		false,
		delayQueueArgs(q.exchange, pollInterval),
	)
	if err != nil {
		return fmt.Errorf("failed to declare delay queue: %w", err)
	}

	return nil
}

// delayQueueArgs makes expired messages re-enter the exchange as polls
func delayQueueArgs(exchange string, pollInterval time.Duration) amqp.Table {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": PollRoutingKey,
		"x-message-ttl":             pollInterval.Milliseconds(),
	}
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

func encodeEvent(event *models.Event) (amqp.Publishing, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         event.Type,
		Body:         body,
		Timestamp:    event.Timestamp,
	}, nil
}

func decodeEvent(body []byte) (*models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.VideoID == "" {
		return nil, fmt.Errorf("event %q has no video_id", event.Type)
	}
	return &event, nil
}

// Publish sends a stage event to the topic exchange keyed by its type
func (q *Queue) Publish(ctx context.Context, event *models.Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}

	err = q.channel.PublishWithContext(ctx,
		q.exchange,
		event.Type,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		metrics.RecordEventPublished(event.Type, "error")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.RecordEventPublished(event.Type, "success")
	return nil
}

// SchedulePoll parks an event in the delay queue; it re-enters the poll queue
// after the configured interval.
func (q *Queue) SchedulePoll(ctx context.Context, event *models.Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}

	// Default exchange routes by queue name
	if err := q.channel.PublishWithContext(ctx, "", q.delayQueue, false, false, msg); err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}
	return nil
}

// ConsumePolls delivers dubbing poll events to handler until ctx is done.
// Failed handlers get their event rescheduled rather than hot-requeued.
func (q *Queue) ConsumePolls(ctx context.Context, prefetch int, handler func(context.Context, *models.Event) error) error {
	if prefetch <= 0 {
		prefetch = 1
	}
	err := q.channel.Qos(
		prefetch, // prefetch count
		0,        // prefetch size
		false,    // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.pollQueue,
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

				event, err := decodeEvent(msg.Body)
				if err != nil {
					log.Warn().Err(err).Msg("dropping malformed poll event")
					msg.Nack(false, false)
					continue
				}

				if err := handler(ctx, event); err != nil {
					log.Warn().Err(err).Str("video_id", event.VideoID).Msg("dubbing poll failed, rescheduling")
					if schedErr := q.SchedulePoll(ctx, event); schedErr != nil {
						msg.Nack(false, true)
						continue
					}
				}
				msg.Ack(false)
			}
		}
	}()

	return nil
}

// GetQueueDepth returns the number of messages waiting in the poll queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(q.pollQueue)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
