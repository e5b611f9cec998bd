package ports

import (
	"context"
	"time"

	"github.com/voltgrid/csms/internal/domain"
)

type ChargerRepository interface {
	Save(ctx context.Context, c *domain.Charger) error
	FindByID(ctx context.Context, id string) (*domain.Charger, error)
	FindAll(ctx context.Context, filter map[string]interface{}) ([]domain.Charger, error)
	FindConnected(ctx context.Context) ([]domain.Charger, error)
	UpdateStatus(ctx context.Context, id string, status domain.ChargerStatus) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
	SetConnected(ctx context.Context, id string, connected bool, at time.Time) error
}

type ConnectorRepository interface {
	Upsert(ctx context.Context, c *domain.Connector) error
	Find(ctx context.Context, chargerID string, connectorID int) (*domain.Connector, error)
	FindByCharger(ctx context.Context, chargerID string) ([]domain.Connector, error)
	Delete(ctx context.Context, chargerID string, connectorID int) error
}

type SessionRepository interface {
	Save(ctx context.Context, s *domain.ChargingSession) error
	Update(ctx context.Context, s *domain.ChargingSession) error
	FindByID(ctx context.Context, id string) (*domain.ChargingSession, error)
	FindByTransaction(ctx context.Context, chargerID string, transactionID int) (*domain.ChargingSession, error)
	FindActiveByCharger(ctx context.Context, chargerID string) (*domain.ChargingSession, error)
	FindActive(ctx context.Context) ([]domain.ChargingSession, error)
	FindByCharger(ctx context.Context, chargerID string, limit int) ([]domain.ChargingSession, error)
	MaxTransactionID(ctx context.Context, chargerID string) (int, error)
	HasActiveOnConnector(ctx context.Context, chargerID string, connectorID int) (bool, error)
	CountSince(ctx context.Context, chargerID string, since time.Time) (int64, error)
	EnergySince(ctx context.Context, chargerID string, since time.Time) (float64, error)
}

// LogRepository persists the append-only message and connection logs.
// Implementations must not block the hot path beyond one retry; on repeated
// failure the write is dropped with a warning counter.
type LogRepository interface {
	AppendMessage(ctx context.Context, m *domain.MessageLog) error
	AppendConnectionEvent(ctx context.Context, e *domain.ConnectionEvent) error
	FindMessages(ctx context.Context, chargerID string, limit int) ([]domain.MessageLog, error)
	FindConnectionEvents(ctx context.Context, chargerID string, limit int) ([]domain.ConnectionEvent, error)
	LatestConnectionEvent(ctx context.Context, chargerID string) (*domain.ConnectionEvent, error)
}

type RFIDCardRepository interface {
	Save(ctx context.Context, card *domain.RFIDCard) error
	FindByTag(ctx context.Context, idTag string) (*domain.RFIDCard, error)
	FindAll(ctx context.Context) ([]domain.RFIDCard, error)
	Delete(ctx context.Context, idTag string) error
}

type UserRepository interface {
	Save(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindAll(ctx context.Context) ([]domain.User, error)
}

type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	GetInt(ctx context.Context, key string, fallback int) int
	Set(ctx context.Context, key, value, description string) error
	Seed(ctx context.Context, defaults map[string]string) error
}
