package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/adapter/queue"
	"github.com/voltgrid/csms/internal/observability/telemetry"
	"github.com/voltgrid/csms/internal/ports"
)

const (
	httpTimeout   = 30 * time.Second
	pingInterval  = 60 * time.Second
	drainInterval = 5 * time.Second
	publishBuffer = 512
)

// eventSource identifies this service as the origin of every shipped event.
const eventSource = "ocpp_service"

// Event is one domain event shipped to the back-office.
type Event struct {
	EventType string                 `json:"event_type"`
	ChargerID string                 `json:"charger_id"`
	Timestamp string                 `json:"timestamp"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
}

// Bridge ships domain events to the back-office HTTP API. When the API is
// down the event is parked on a redis list and drained once the API comes
// back. Publish never blocks the caller.
type Bridge struct {
	apiURL string
	apiKey string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	cache  ports.Cache
	mq     queue.MessageQueue
	prefix string
	log    *zap.Logger

	events chan Event
}

func NewBridge(apiURL, apiKey string, cache ports.Cache, mq queue.MessageQueue, prefix string, log *zap.Logger) *Bridge {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backoffice-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("back-office circuit state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Bridge{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: httpTimeout},
		cb:     cb,
		cache:  cache,
		mq:     mq,
		prefix: prefix,
		log:    log,
		events: make(chan Event, publishBuffer),
	}
}

// Publish enqueues an event for delivery. Never blocks; when the internal
// buffer is full the event goes straight to the redis queue.
func (b *Bridge) Publish(eventType, chargerID string, data map[string]interface{}) {
	ev := Event{
		EventType: eventType,
		ChargerID: chargerID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    eventSource,
		Data:      data,
	}
	select {
	case b.events <- ev:
	default:
		b.park(context.Background(), ev)
	}
}

// Run delivers events until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	drain := time.NewTicker(drainInterval)
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.deliver(ctx, ev)
		case <-drain.C:
			b.drainQueue(ctx)
		case <-ping.C:
			b.ping(ctx)
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, ev Event) {
	// Internal broker fan-out is best-effort and independent of the HTTP
	// delivery.
	if b.mq != nil {
		if data, err := json.Marshal(ev); err == nil {
			if err := b.mq.Publish(b.prefix+".events."+ev.EventType, data); err != nil {
				b.log.Debug("broker publish failed", zap.Error(err))
			}
		}
	}

	if b.apiURL == "" {
		return
	}

	if err := b.post(ctx, ev); err != nil {
		telemetry.EventsFailed.Inc()
		b.log.Warn("event delivery failed, parking on queue",
			zap.String("event_type", ev.EventType),
			zap.String("charger_id", ev.ChargerID),
			zap.Error(err),
		)
		b.park(ctx, ev)
		return
	}
	telemetry.EventsSent.Inc()
}

func (b *Bridge) post(ctx context.Context, ev Event) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/ocpp/events", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if b.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.apiKey)
		}

		telemetry.BridgeHTTPRequests.Inc()
		resp, err := b.client.Do(req)
		if err != nil {
			telemetry.BridgeHTTPErrors.Inc()
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			telemetry.BridgeHTTPErrors.Inc()
			return nil, fmt.Errorf("back-office returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// park pushes the event onto the redis fallback queue.
func (b *Bridge) park(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := b.cache.PushList(ctx, b.queueKey(), string(data)); err != nil {
		b.log.Error("failed to park event, dropping",
			zap.String("event_type", ev.EventType),
			zap.Error(err),
		)
		return
	}
	if n, err := b.cache.ListLen(ctx, b.queueKey()); err == nil {
		telemetry.BridgeQueueSize.Set(float64(n))
	}
}

// drainQueue replays parked events while the circuit is closed.
func (b *Bridge) drainQueue(ctx context.Context) {
	if b.apiURL == "" || b.cb.State() == gobreaker.StateOpen {
		return
	}

	backlog, err := b.cache.ListLen(ctx, b.queueKey())
	if err != nil || backlog == 0 {
		return
	}
	if backlog > 100 {
		backlog = 100
	}

	for i := int64(0); i < backlog; i++ {
		raw, err := b.cache.PopList(ctx, b.queueKey(), time.Second)
		if err != nil || raw == "" {
			break
		}

		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			b.log.Warn("dropping unparseable parked event", zap.Error(err))
			continue
		}
		if err := b.post(ctx, ev); err != nil {
			// Still down; put it back and stop draining.
			b.cache.PushList(ctx, b.queueKey(), raw)
			break
		}
		telemetry.EventsSent.Inc()
	}

	if n, err := b.cache.ListLen(ctx, b.queueKey()); err == nil {
		telemetry.BridgeQueueSize.Set(float64(n))
	}
}

// ping probes the back-office health endpoint to keep the circuit fresh.
func (b *Bridge) ping(ctx context.Context) {
	if b.apiURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL+"/health", nil)
	if err != nil {
		return
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Debug("back-office health probe failed", zap.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (b *Bridge) queueKey() string {
	return b.prefix + ":events"
}
