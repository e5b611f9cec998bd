package ports

import (
	"context"
	"time"

	"github.com/voltgrid/csms/internal/domain"
)

// Cache is the redis-backed cache and list-queue surface.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error

	// FIFO list operations used by the event-bridge queue fallback.
	PushList(ctx context.Context, key string, value interface{}) error
	PopList(ctx context.Context, key string, timeout time.Duration) (string, error)
	ListLen(ctx context.Context, key string) (int64, error)

	Ping() error
	Close() error
}

// RetryPolicy is the effective outbound-retry policy for one charger,
// resolved from the charger row with system_config as fallback.
type RetryPolicy struct {
	MaxRetries    int
	RetryInterval time.Duration
	Enabled       bool
}

type ChargerService interface {
	RegisterBoot(ctx context.Context, chargerID, vendor, model, serial, firmware string) (*domain.Charger, error)
	Heartbeat(ctx context.Context, chargerID string) error
	UpdateConnectorStatus(ctx context.Context, chargerID string, connectorID int, status domain.ChargerStatus, errorCode string) error
	UpdateConnectorEnergy(ctx context.Context, chargerID string, connectorID int, energyKWh float64) error
	MarkConnected(ctx context.Context, chargerID string) error
	MarkDisconnected(ctx context.Context, chargerID string) error
	RetryPolicy(ctx context.Context, chargerID string) RetryPolicy
	GetCharger(ctx context.Context, chargerID string) (*domain.Charger, error)
}

type SessionService interface {
	Start(ctx context.Context, chargerID string, connectorID int, idTag string, meterStart int, at time.Time) (*domain.ChargingSession, error)
	Stop(ctx context.Context, chargerID string, transactionID, meterStop int, at time.Time) (*domain.ChargingSession, error)
	ActiveByCharger(ctx context.Context, chargerID string) (*domain.ChargingSession, error)
}

type CardService interface {
	Authorize(ctx context.Context, idTag string) domain.AuthorizationStatus
}

type AuthService interface {
	Login(ctx context.Context, email, password string) (token string, user *domain.User, err error)
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}

// EventSink receives domain events for delivery to the external back-office.
// Implementations must never block the caller's hot path.
type EventSink interface {
	Publish(eventType, chargerID string, data map[string]interface{})
}

// Projector receives live protocol events and maintains the in-memory view
// pushed to dashboard observers.
type Projector interface {
	SessionStarted(s *domain.ChargingSession)
	SessionStopped(s *domain.ChargingSession)
	MeterUpdate(chargerID string, connectorID int, transactionID int, energyKWh, powerKW, voltage, current float64)
	StatusChanged(chargerID string, connectorID int, status domain.ChargerStatus, errorCode string)
	HeartbeatSeen(chargerID string, at time.Time)
	ConnectionChanged(chargerID string, connected bool)
}

// CommandSender submits an outbound CS->CP CALL through the retry engine.
// queued reports that the charger was absent and the message was held for
// retry rather than written.
type CommandSender interface {
	Send(ctx context.Context, chargerID, action string, payload interface{}) (messageID string, queued bool, err error)
}
