package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/observability/telemetry"
	"github.com/voltgrid/csms/internal/ports"
)

var ErrNoActiveSession = errors.New("no active session for transaction")

// Service owns the charging-session lifecycle and the per-charger transaction
// id counter. Counters are seeded from the store on first use so ids stay
// monotone across restarts.
type Service struct {
	sessions ports.SessionRepository
	perKWh   float64
	log      *zap.Logger

	mu       sync.Mutex
	counters map[string]int
}

func NewService(sessions ports.SessionRepository, perKWh float64, log *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		perKWh:   perKWh,
		log:      log,
		counters: make(map[string]int),
	}
}

// nextTransactionID allocates the next monotone id for the charger.
func (s *Service) nextTransactionID(ctx context.Context, chargerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[chargerID]; !ok {
		max, err := s.sessions.MaxTransactionID(ctx, chargerID)
		if err != nil {
			return 0, err
		}
		s.counters[chargerID] = max
	}
	s.counters[chargerID]++
	return s.counters[chargerID], nil
}

// Start opens a session. At most one Active session per charger exists; a
// lingering Active session is closed as Faulted first, since its real stop
// was never observed.
func (s *Service) Start(ctx context.Context, chargerID string, connectorID int, idTag string, meterStart int, at time.Time) (*domain.ChargingSession, error) {
	if lingering, err := s.sessions.FindActiveByCharger(ctx, chargerID); err != nil {
		return nil, err
	} else if lingering != nil {
		now := time.Now().UTC()
		lingering.Status = domain.SessionStatusFaulted
		lingering.StopTime = &now
		if err := s.sessions.Update(ctx, lingering); err != nil {
			return nil, err
		}
		telemetry.ActiveChargingSessions.Dec()
		s.log.Warn("closed lingering session as faulted",
			zap.String("charger_id", chargerID),
			zap.Int("transaction_id", lingering.TransactionID),
		)
	}

	txID, err := s.nextTransactionID(ctx, chargerID)
	if err != nil {
		return nil, err
	}

	sess := &domain.ChargingSession{
		ID:            uuid.New().String(),
		ChargerID:     chargerID,
		ConnectorID:   connectorID,
		TransactionID: txID,
		IDTag:         idTag,
		StartTime:     at,
		MeterStart:    meterStart,
		Status:        domain.SessionStatusActive,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	telemetry.ActiveChargingSessions.Inc()
	return sess, nil
}

// Stop closes the session identified by its transaction id. Energy is the
// meter delta in kWh; cost is energy times the configured rate. A negative
// delta means the meter was reset and counts as zero.
func (s *Service) Stop(ctx context.Context, chargerID string, transactionID, meterStop int, at time.Time) (*domain.ChargingSession, error) {
	sess, err := s.sessions.FindByTransaction(ctx, chargerID, transactionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Status != domain.SessionStatusActive {
		return nil, ErrNoActiveSession
	}

	energy := float64(meterStop-sess.MeterStart) / 1000.0
	if energy < 0 {
		energy = 0
	}

	sess.StopTime = &at
	sess.MeterStop = &meterStop
	sess.EnergyDeliveredKWh = energy
	sess.Cost = energy * s.perKWh
	sess.Status = domain.SessionStatusCompleted

	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	telemetry.ActiveChargingSessions.Dec()
	telemetry.EnergyDeliveredTotal.Add(energy)
	return sess, nil
}

func (s *Service) ActiveByCharger(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
	return s.sessions.FindActiveByCharger(ctx, chargerID)
}
