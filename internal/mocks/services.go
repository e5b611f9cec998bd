package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

// MockChargerService implements ports.ChargerService with overridable
// function fields.
type MockChargerService struct {
	RegisterBootFunc          func(ctx context.Context, chargerID, vendor, model, serial, firmware string) (*domain.Charger, error)
	HeartbeatFunc             func(ctx context.Context, chargerID string) error
	UpdateConnectorStatusFunc func(ctx context.Context, chargerID string, connectorID int, status domain.ChargerStatus, errorCode string) error
	UpdateConnectorEnergyFunc func(ctx context.Context, chargerID string, connectorID int, energyKWh float64) error
	MarkConnectedFunc         func(ctx context.Context, chargerID string) error
	MarkDisconnectedFunc      func(ctx context.Context, chargerID string) error
	RetryPolicyFunc           func(ctx context.Context, chargerID string) ports.RetryPolicy
	GetChargerFunc            func(ctx context.Context, chargerID string) (*domain.Charger, error)
}

func (m *MockChargerService) RegisterBoot(ctx context.Context, chargerID, vendor, model, serial, firmware string) (*domain.Charger, error) {
	if m.RegisterBootFunc != nil {
		return m.RegisterBootFunc(ctx, chargerID, vendor, model, serial, firmware)
	}
	return &domain.Charger{ID: chargerID, Vendor: vendor, Model: model}, nil
}

func (m *MockChargerService) Heartbeat(ctx context.Context, chargerID string) error {
	if m.HeartbeatFunc != nil {
		return m.HeartbeatFunc(ctx, chargerID)
	}
	return nil
}

func (m *MockChargerService) UpdateConnectorStatus(ctx context.Context, chargerID string, connectorID int, status domain.ChargerStatus, errorCode string) error {
	if m.UpdateConnectorStatusFunc != nil {
		return m.UpdateConnectorStatusFunc(ctx, chargerID, connectorID, status, errorCode)
	}
	return nil
}

func (m *MockChargerService) UpdateConnectorEnergy(ctx context.Context, chargerID string, connectorID int, energyKWh float64) error {
	if m.UpdateConnectorEnergyFunc != nil {
		return m.UpdateConnectorEnergyFunc(ctx, chargerID, connectorID, energyKWh)
	}
	return nil
}

func (m *MockChargerService) MarkConnected(ctx context.Context, chargerID string) error {
	if m.MarkConnectedFunc != nil {
		return m.MarkConnectedFunc(ctx, chargerID)
	}
	return nil
}

func (m *MockChargerService) MarkDisconnected(ctx context.Context, chargerID string) error {
	if m.MarkDisconnectedFunc != nil {
		return m.MarkDisconnectedFunc(ctx, chargerID)
	}
	return nil
}

func (m *MockChargerService) RetryPolicy(ctx context.Context, chargerID string) ports.RetryPolicy {
	if m.RetryPolicyFunc != nil {
		return m.RetryPolicyFunc(ctx, chargerID)
	}
	return ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true}
}

func (m *MockChargerService) GetCharger(ctx context.Context, chargerID string) (*domain.Charger, error) {
	if m.GetChargerFunc != nil {
		return m.GetChargerFunc(ctx, chargerID)
	}
	return nil, nil
}

// MockSessionService implements ports.SessionService.
type MockSessionService struct {
	StartFunc           func(ctx context.Context, chargerID string, connectorID int, idTag string, meterStart int, at time.Time) (*domain.ChargingSession, error)
	StopFunc            func(ctx context.Context, chargerID string, transactionID, meterStop int, at time.Time) (*domain.ChargingSession, error)
	ActiveByChargerFunc func(ctx context.Context, chargerID string) (*domain.ChargingSession, error)
}

func (m *MockSessionService) Start(ctx context.Context, chargerID string, connectorID int, idTag string, meterStart int, at time.Time) (*domain.ChargingSession, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, chargerID, connectorID, idTag, meterStart, at)
	}
	return &domain.ChargingSession{
		ChargerID:     chargerID,
		ConnectorID:   connectorID,
		TransactionID: 1,
		IDTag:         idTag,
		MeterStart:    meterStart,
		StartTime:     at,
		Status:        domain.SessionStatusActive,
	}, nil
}

func (m *MockSessionService) Stop(ctx context.Context, chargerID string, transactionID, meterStop int, at time.Time) (*domain.ChargingSession, error) {
	if m.StopFunc != nil {
		return m.StopFunc(ctx, chargerID, transactionID, meterStop, at)
	}
	return &domain.ChargingSession{
		ChargerID:     chargerID,
		TransactionID: transactionID,
		MeterStop:     &meterStop,
		StopTime:      &at,
		Status:        domain.SessionStatusCompleted,
	}, nil
}

func (m *MockSessionService) ActiveByCharger(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
	if m.ActiveByChargerFunc != nil {
		return m.ActiveByChargerFunc(ctx, chargerID)
	}
	return nil, nil
}

// MockCardService implements ports.CardService.
type MockCardService struct {
	AuthorizeFunc func(ctx context.Context, idTag string) domain.AuthorizationStatus
}

func (m *MockCardService) Authorize(ctx context.Context, idTag string) domain.AuthorizationStatus {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, idTag)
	}
	return domain.AuthorizationAccepted
}

// MockEventSink records published events.
type MockEventSink struct {
	mu     sync.Mutex
	Events []SinkEvent
}

type SinkEvent struct {
	EventType string
	ChargerID string
	Data      map[string]interface{}
}

func (m *MockEventSink) Publish(eventType, chargerID string, data map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, SinkEvent{EventType: eventType, ChargerID: chargerID, Data: data})
}

func (m *MockEventSink) ByType(eventType string) []SinkEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SinkEvent
	for _, e := range m.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockProjector records projector calls.
type MockProjector struct {
	mu       sync.Mutex
	Started  []*domain.ChargingSession
	Stopped  []*domain.ChargingSession
	Statuses []string
}

func (m *MockProjector) SessionStarted(s *domain.ChargingSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, s)
}

func (m *MockProjector) SessionStopped(s *domain.ChargingSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stopped = append(m.Stopped, s)
}

func (m *MockProjector) MeterUpdate(chargerID string, connectorID, transactionID int, energyKWh, powerKW, voltage, current float64) {
}

func (m *MockProjector) StatusChanged(chargerID string, connectorID int, status domain.ChargerStatus, errorCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, string(status))
}

func (m *MockProjector) HeartbeatSeen(chargerID string, at time.Time) {}

func (m *MockProjector) ConnectionChanged(chargerID string, connected bool) {}

// MockCommandSender implements ports.CommandSender.
type MockCommandSender struct {
	SendFunc func(ctx context.Context, chargerID, action string, payload interface{}) (string, bool, error)

	mu   sync.Mutex
	Sent []SentCommand
}

type SentCommand struct {
	ChargerID string
	Action    string
	Payload   interface{}
}

func (m *MockCommandSender) Send(ctx context.Context, chargerID, action string, payload interface{}) (string, bool, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, SentCommand{ChargerID: chargerID, Action: action, Payload: payload})
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, chargerID, action, payload)
	}
	return "msg-1", false, nil
}
