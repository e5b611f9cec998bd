package queue

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const reconnectWait = 5 * time.Second

// RabbitMQQueue publishes domain events on durable fanout exchanges, one per
// subject. Exchanges are declared lazily on first publish and remembered so
// the declare round-trip is paid once per subject.
type RabbitMQQueue struct {
	url string
	log *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

func NewRabbitMQQueue(url string, log *zap.Logger) (MessageQueue, error) {
	q := &RabbitMQQueue{
		url:      url,
		log:      log,
		declared: make(map[string]bool),
	}
	if err := q.dial(); err != nil {
		return nil, err
	}

	go q.monitor()

	log.Info("connected to rabbitmq broker")
	return q, nil
}

func (q *RabbitMQQueue) dial() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	q.mu.Lock()
	q.conn = conn
	q.channel = ch
	q.declared = make(map[string]bool)
	q.mu.Unlock()
	return nil
}

func (q *RabbitMQQueue) Publish(subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.channel == nil {
		return fmt.Errorf("rabbitmq: channel not available")
	}

	if !q.declared[subject] {
		if err := q.channel.ExchangeDeclare(subject, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: declare exchange: %w", err)
		}
		q.declared[subject] = true
	}

	err := q.channel.Publish(
		subject, "", false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         data,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.channel != nil {
		q.channel.Close()
		q.channel = nil
	}
	if q.conn != nil {
		err := q.conn.Close()
		q.conn = nil
		return err
	}
	return nil
}

// monitor redials after the broker drops the connection. Stops once Close has
// run, which NotifyClose reports as a clean shutdown.
func (q *RabbitMQQueue) monitor() {
	for {
		q.mu.Lock()
		conn := q.conn
		q.mu.Unlock()
		if conn == nil {
			return
		}

		reason, ok := <-conn.NotifyClose(make(chan *amqp.Error))
		if !ok || reason == nil {
			return
		}
		q.log.Warn("rabbitmq connection lost, reconnecting", zap.String("reason", reason.Reason))

		for {
			time.Sleep(reconnectWait)
			if err := q.dial(); err != nil {
				q.log.Error("rabbitmq reconnect failed", zap.Error(err))
				continue
			}
			q.log.Info("rabbitmq reconnected")
			break
		}
	}
}
