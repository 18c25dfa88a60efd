package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type alertMessage struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// AMQPNotifier publishes alerts as persistent JSON messages to a durable
// queue for downstream tooling.
type AMQPNotifier struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *slog.Logger
}

func NewAMQPNotifier(url, queue string, log *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	log.Info("amqp alerts enabled", "queue", queue)
	return &AMQPNotifier{conn: conn, ch: ch, queue: queue, log: log}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, title, body string) error {
	payload, err := encodeAlert(title, body, time.Now().UTC())
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.ch.Close(); err != nil {
		n.log.Warn("close amqp channel", "err", err)
	}
	return n.conn.Close()
}

func encodeAlert(title, body string, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(alertMessage{Title: title, Body: body, SentAt: at})
	if err != nil {
		return nil, fmt.Errorf("encode alert: %w", err)
	}
	return payload, nil
}
