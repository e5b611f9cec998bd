package queue

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MessageQueue is the internal broker used for best-effort domain-event
// fan-out alongside the HTTP bridge. Optional: absent MQ_BROKER_URL means no
// broker at all. Consumers live outside this service, so the surface is
// publish-only.
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Close() error
}

// New selects the broker implementation by URL scheme: amqp:// or amqps://
// for RabbitMQ, nats:// for NATS.
func New(url string, log *zap.Logger) (MessageQueue, error) {
	switch {
	case strings.HasPrefix(url, "amqp://"), strings.HasPrefix(url, "amqps://"):
		return NewRabbitMQQueue(url, log)
	case strings.HasPrefix(url, "nats://"):
		return NewNATSQueue(url, log)
	default:
		return nil, fmt.Errorf("unsupported broker url %q", url)
	}
}
