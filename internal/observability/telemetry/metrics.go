package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Protocol traffic
	OCPPMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_ocpp_messages_total",
		Help: "OCPP frames processed, by action and direction",
	}, []string{"action", "direction"})

	OCPPErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_ocpp_errors_total",
		Help: "CALLERROR frames emitted, by error code",
	}, []string{"code"})

	ConnectedChargers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_connected_chargers",
		Help: "Charge points with a live WebSocket",
	})

	// Retry engine
	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_pending_outbound_messages",
		Help: "Outbound CALLs awaiting a response",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_outbound_messages_sent_total",
		Help: "Outbound CALLs written to charge points, retries included",
	})

	MessagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_outbound_messages_failed_total",
		Help: "Outbound CALLs terminated without a response",
	})

	// Event bridge
	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_bridge_events_sent_total",
		Help: "Events delivered to the back-office sink",
	})

	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_bridge_events_failed_total",
		Help: "Events that failed HTTP delivery",
	})

	BridgeHTTPRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_bridge_http_requests_total",
		Help: "HTTP requests issued by the event bridge",
	})

	BridgeHTTPErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_bridge_http_errors_total",
		Help: "HTTP requests that returned a non-2xx or transport error",
	})

	BridgeQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_bridge_queue_size",
		Help: "Events waiting on the fallback queue",
	})

	// Business
	ActiveChargingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_active_charging_sessions",
		Help: "Charging sessions currently active",
	})

	EnergyDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_energy_delivered_kwh_total",
		Help: "Total energy delivered in kWh",
	})

	// Persistence
	LogWritesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_log_writes_dropped_total",
		Help: "Append-only log writes dropped after retry",
	})
)
