package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

func TestStartAssignsMonotoneTransactionIDs(t *testing.T) {
	repo := mocks.NewMockSessionRepository()
	svc := NewService(repo, 0.15, zap.NewNop())
	ctx := context.Background()

	s1, err := svc.Start(ctx, "CP-1", 1, "TAG", 1000, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Stop(ctx, "CP-1", s1.TransactionID, 2000, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := svc.Start(ctx, "CP-1", 1, "TAG", 2000, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s2.TransactionID <= s1.TransactionID {
		t.Errorf("transaction ids must increase: %d then %d", s1.TransactionID, s2.TransactionID)
	}
}

func TestCounterSeededFromStore(t *testing.T) {
	repo := mocks.NewMockSessionRepository()
	repo.Sessions["old"] = &domain.ChargingSession{
		ID:            "old",
		ChargerID:     "CP-1",
		TransactionID: 77,
		Status:        domain.SessionStatusCompleted,
	}
	svc := NewService(repo, 0.15, zap.NewNop())

	s, err := svc.Start(context.Background(), "CP-1", 1, "TAG", 0, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TransactionID != 78 {
		t.Errorf("expected transaction id 78, got %d", s.TransactionID)
	}
}

func TestStartClosesLingeringSession(t *testing.T) {
	repo := mocks.NewMockSessionRepository()
	svc := NewService(repo, 0.15, zap.NewNop())
	ctx := context.Background()

	s1, err := svc.Start(ctx, "CP-1", 1, "TAG", 1000, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second start without a stop: the first must be closed as Faulted.
	if _, err := svc.Start(ctx, "CP-1", 1, "TAG", 3000, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old, _ := repo.FindByID(ctx, s1.ID)
	if old.Status != domain.SessionStatusFaulted {
		t.Errorf("lingering session should be Faulted, got %s", old.Status)
	}
	active, _ := repo.FindActiveByCharger(ctx, "CP-1")
	if active == nil {
		t.Fatal("expected one active session")
	}
	if active.ID == s1.ID {
		t.Error("the new session should be the active one")
	}
}

func TestStopComputesEnergyAndCost(t *testing.T) {
	repo := mocks.NewMockSessionRepository()
	svc := NewService(repo, 0.15, zap.NewNop())
	ctx := context.Background()

	s, err := svc.Start(ctx, "CP-1", 1, "TAG", 10000, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stopped, err := svc.Stop(ctx, "CP-1", s.TransactionID, 25000, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stopped.EnergyDeliveredKWh != 15.0 {
		t.Errorf("expected 15.0 kWh, got %v", stopped.EnergyDeliveredKWh)
	}
	if stopped.Cost != 15.0*0.15 {
		t.Errorf("expected cost %v, got %v", 15.0*0.15, stopped.Cost)
	}
	if stopped.Status != domain.SessionStatusCompleted {
		t.Errorf("expected Completed, got %s", stopped.Status)
	}
}

func TestStopNegativeDeltaCountsZero(t *testing.T) {
	repo := mocks.NewMockSessionRepository()
	svc := NewService(repo, 0.15, zap.NewNop())
	ctx := context.Background()

	s, err := svc.Start(ctx, "CP-1", 1, "TAG", 50000, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Meter reset between start and stop.
	stopped, err := svc.Stop(ctx, "CP-1", s.TransactionID, 100, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stopped.EnergyDeliveredKWh != 0 || stopped.Cost != 0 {
		t.Errorf("expected zero energy and cost, got %v / %v", stopped.EnergyDeliveredKWh, stopped.Cost)
	}
}

func TestStopUnknownTransaction(t *testing.T) {
	repo := mocks.NewMockSessionRepository()
	svc := NewService(repo, 0.15, zap.NewNop())

	if _, err := svc.Stop(context.Background(), "CP-1", 999, 1000, time.Now()); err != ErrNoActiveSession {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}
