package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/voltgrid/csms/internal/domain"
)

// MockChargerRepository is an in-memory ChargerRepository.
type MockChargerRepository struct {
	mu       sync.Mutex
	Chargers map[string]*domain.Charger

	SaveFunc         func(ctx context.Context, c *domain.Charger) error
	FindByIDFunc     func(ctx context.Context, id string) (*domain.Charger, error)
	SetConnectedFunc func(ctx context.Context, id string, connected bool, at time.Time) error
}

func NewMockChargerRepository() *MockChargerRepository {
	return &MockChargerRepository{Chargers: make(map[string]*domain.Charger)}
}

func (m *MockChargerRepository) Save(ctx context.Context, c *domain.Charger) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.Chargers[c.ID] = &cp
	return nil
}

func (m *MockChargerRepository) FindByID(ctx context.Context, id string) (*domain.Charger, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Chargers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MockChargerRepository) FindAll(ctx context.Context, filter map[string]interface{}) ([]domain.Charger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Charger, 0, len(m.Chargers))
	for _, c := range m.Chargers {
		out = append(out, *c)
	}
	return out, nil
}

func (m *MockChargerRepository) FindConnected(ctx context.Context) ([]domain.Charger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Charger
	for _, c := range m.Chargers {
		if c.IsConnected {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MockChargerRepository) UpdateStatus(ctx context.Context, id string, status domain.ChargerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Chargers[id]; ok {
		c.Status = status
	}
	return nil
}

func (m *MockChargerRepository) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Chargers[id]; ok {
		c.LastHeartbeat = &at
	}
	return nil
}

func (m *MockChargerRepository) SetConnected(ctx context.Context, id string, connected bool, at time.Time) error {
	if m.SetConnectedFunc != nil {
		return m.SetConnectedFunc(ctx, id, connected, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Chargers[id]; ok {
		c.IsConnected = connected
		if connected {
			c.ConnectionTime = &at
		} else {
			c.DisconnectTime = &at
			c.Status = domain.ChargerStatusOffline
		}
	}
	return nil
}

// MockConnectorRepository is an in-memory ConnectorRepository.
type MockConnectorRepository struct {
	mu         sync.Mutex
	Connectors map[string]*domain.Connector

	DeleteFunc func(ctx context.Context, chargerID string, connectorID int) error
}

func NewMockConnectorRepository() *MockConnectorRepository {
	return &MockConnectorRepository{Connectors: make(map[string]*domain.Connector)}
}

func connectorKey(chargerID string, connectorID int) string {
	return chargerID + "#" + strconv.Itoa(connectorID)
}

func (m *MockConnectorRepository) Upsert(ctx context.Context, c *domain.Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.Connectors[connectorKey(c.ChargerID, c.ConnectorID)] = &cp
	return nil
}

func (m *MockConnectorRepository) Find(ctx context.Context, chargerID string, connectorID int) (*domain.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Connectors[connectorKey(chargerID, connectorID)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MockConnectorRepository) FindByCharger(ctx context.Context, chargerID string) ([]domain.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Connector
	for _, c := range m.Connectors {
		if c.ChargerID == chargerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MockConnectorRepository) Delete(ctx context.Context, chargerID string, connectorID int) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, chargerID, connectorID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Connectors, connectorKey(chargerID, connectorID))
	return nil
}

// MockSessionRepository is an in-memory SessionRepository.
type MockSessionRepository struct {
	mu       sync.Mutex
	Sessions map[string]*domain.ChargingSession

	SaveFunc             func(ctx context.Context, s *domain.ChargingSession) error
	MaxTransactionIDFunc func(ctx context.Context, chargerID string) (int, error)
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{Sessions: make(map[string]*domain.ChargingSession)}
}

func (m *MockSessionRepository) Save(ctx context.Context, s *domain.ChargingSession) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.Sessions[s.ID] = &cp
	return nil
}

func (m *MockSessionRepository) Update(ctx context.Context, s *domain.ChargingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.Sessions[s.ID] = &cp
	return nil
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*domain.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MockSessionRepository) FindByTransaction(ctx context.Context, chargerID string, transactionID int) (*domain.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID && s.TransactionID == transactionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockSessionRepository) FindActiveByCharger(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID && s.Status == domain.SessionStatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockSessionRepository) FindActive(ctx context.Context) ([]domain.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChargingSession
	for _, s := range m.Sessions {
		if s.Status == domain.SessionStatusActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) FindByCharger(ctx context.Context, chargerID string, limit int) ([]domain.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChargingSession
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) MaxTransactionID(ctx context.Context, chargerID string) (int, error) {
	if m.MaxTransactionIDFunc != nil {
		return m.MaxTransactionIDFunc(ctx, chargerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID && s.TransactionID > max {
			max = s.TransactionID
		}
	}
	return max, nil
}

func (m *MockSessionRepository) HasActiveOnConnector(ctx context.Context, chargerID string, connectorID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID && s.ConnectorID == connectorID && s.Status == domain.SessionStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockSessionRepository) CountSince(ctx context.Context, chargerID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID && s.StartTime.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockSessionRepository) EnergySince(ctx context.Context, chargerID string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, s := range m.Sessions {
		if s.ChargerID == chargerID && s.StartTime.After(since) {
			total += s.EnergyDeliveredKWh
		}
	}
	return total, nil
}

// MockLogRepository records appended logs in memory.
type MockLogRepository struct {
	mu       sync.Mutex
	Messages []domain.MessageLog
	Events   []domain.ConnectionEvent

	AppendMessageFunc func(ctx context.Context, m *domain.MessageLog) error
}

func NewMockLogRepository() *MockLogRepository {
	return &MockLogRepository{}
}

func (m *MockLogRepository) AppendMessage(ctx context.Context, msg *domain.MessageLog) error {
	if m.AppendMessageFunc != nil {
		return m.AppendMessageFunc(ctx, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, *msg)
	return nil
}

func (m *MockLogRepository) AppendConnectionEvent(ctx context.Context, e *domain.ConnectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, *e)
	return nil
}

func (m *MockLogRepository) FindMessages(ctx context.Context, chargerID string, limit int) ([]domain.MessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MessageLog
	for _, msg := range m.Messages {
		if msg.ChargerID == chargerID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MockLogRepository) FindConnectionEvents(ctx context.Context, chargerID string, limit int) ([]domain.ConnectionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConnectionEvent
	for _, e := range m.Events {
		if e.ChargerID == chargerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockLogRepository) LatestConnectionEvent(ctx context.Context, chargerID string) (*domain.ConnectionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Events) - 1; i >= 0; i-- {
		if m.Events[i].ChargerID == chargerID {
			e := m.Events[i]
			return &e, nil
		}
	}
	return nil, nil
}

// MockRFIDCardRepository is an in-memory RFIDCardRepository.
type MockRFIDCardRepository struct {
	mu    sync.Mutex
	Cards map[string]*domain.RFIDCard

	FindByTagFunc func(ctx context.Context, idTag string) (*domain.RFIDCard, error)
}

func NewMockRFIDCardRepository() *MockRFIDCardRepository {
	return &MockRFIDCardRepository{Cards: make(map[string]*domain.RFIDCard)}
}

func (m *MockRFIDCardRepository) Save(ctx context.Context, card *domain.RFIDCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *card
	m.Cards[card.IDTag] = &cp
	return nil
}

func (m *MockRFIDCardRepository) FindByTag(ctx context.Context, idTag string) (*domain.RFIDCard, error) {
	if m.FindByTagFunc != nil {
		return m.FindByTagFunc(ctx, idTag)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Cards[idTag]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MockRFIDCardRepository) FindAll(ctx context.Context) ([]domain.RFIDCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RFIDCard, 0, len(m.Cards))
	for _, c := range m.Cards {
		out = append(out, *c)
	}
	return out, nil
}

func (m *MockRFIDCardRepository) Delete(ctx context.Context, idTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Cards, idTag)
	return nil
}

// MockUserRepository is an in-memory UserRepository.
type MockUserRepository struct {
	mu    sync.Mutex
	Users map[string]*domain.User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{Users: make(map[string]*domain.User)}
}

func (m *MockUserRepository) Save(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.Users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockUserRepository) FindAll(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.Users))
	for _, u := range m.Users {
		out = append(out, *u)
	}
	return out, nil
}

// MockSystemConfigRepository is an in-memory SystemConfigRepository.
type MockSystemConfigRepository struct {
	mu     sync.Mutex
	Values map[string]string
}

func NewMockSystemConfigRepository() *MockSystemConfigRepository {
	return &MockSystemConfigRepository{Values: make(map[string]string)}
}

func (m *MockSystemConfigRepository) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Values[key], nil
}

func (m *MockSystemConfigRepository) GetInt(ctx context.Context, key string, fallback int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.Values[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (m *MockSystemConfigRepository) Set(ctx context.Context, key, value, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Values[key] = value
	return nil
}

func (m *MockSystemConfigRepository) Seed(ctx context.Context, defaults map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range defaults {
		if _, ok := m.Values[k]; !ok {
			m.Values[k] = v
		}
	}
	return nil
}
