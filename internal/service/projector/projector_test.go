package projector

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

func newTestProjector() (*Projector, *mocks.MockSessionRepository, *mocks.MockChargerRepository, *mocks.MockConnectorRepository) {
	sessions := mocks.NewMockSessionRepository()
	chargers := mocks.NewMockChargerRepository()
	connectors := mocks.NewMockConnectorRepository()
	p := New(sessions, chargers, connectors, zap.NewNop())
	return p, sessions, chargers, connectors
}

func TestPruneEvictsStaleActiveSession(t *testing.T) {
	p, _, _, _ := newTestProjector()
	now := time.Now().UTC()

	p.active["CP-1"] = &LiveSession{ChargerID: "CP-1", TransactionID: 1, StartTime: now.Add(-25 * time.Hour)}
	p.active["CP-2"] = &LiveSession{ChargerID: "CP-2", TransactionID: 2, StartTime: now.Add(-2 * time.Hour)}

	p.prune(now)

	if _, ok := p.active["CP-1"]; ok {
		t.Error("session older than the retention window must be evicted")
	}
	if _, ok := p.active["CP-2"]; !ok {
		t.Error("recent session must survive cleanup")
	}
}

func TestPruneDropsLongDisconnectedCharger(t *testing.T) {
	p, _, _, _ := newTestProjector()
	now := time.Now().UTC()

	p.live["CP-old"] = &LiveCharger{ChargerID: "CP-old", Connected: false, LastSeen: now.Add(-25 * time.Hour)}
	p.live["CP-live"] = &LiveCharger{ChargerID: "CP-live", Connected: true, LastSeen: now.Add(-25 * time.Hour)}
	p.live["CP-new"] = &LiveCharger{ChargerID: "CP-new", Connected: false, LastSeen: now.Add(-time.Hour)}

	p.prune(now)

	if _, ok := p.live["CP-old"]; ok {
		t.Error("long-disconnected charger must be dropped")
	}
	if _, ok := p.live["CP-live"]; !ok {
		t.Error("connected charger must survive regardless of age")
	}
	if _, ok := p.live["CP-new"]; !ok {
		t.Error("recently seen charger must survive")
	}
}

func TestRefreshReloadsFromStore(t *testing.T) {
	p, sessions, chargers, connectors := newTestProjector()
	// Fixed midday instant keeps the start-of-day window unambiguous.
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	hb := now.Add(-time.Minute)

	chargers.Chargers["CP-1"] = &domain.Charger{
		ID:            "CP-1",
		IsConnected:   true,
		Status:        domain.ChargerStatusCharging,
		LastHeartbeat: &hb,
	}
	connectors.Upsert(context.Background(), &domain.Connector{
		ChargerID:   "CP-1",
		ConnectorID: 1,
		Status:      domain.ChargerStatusCharging,
	})
	sessions.Save(context.Background(), &domain.ChargingSession{
		ID:                 "s-1",
		ChargerID:          "CP-1",
		TransactionID:      1,
		Status:             domain.SessionStatusActive,
		StartTime:          now.Add(-time.Hour),
		EnergyDeliveredKWh: 12.5,
	})

	// Stale in-memory view; refresh must realign it with the store.
	p.live["CP-1"] = &LiveCharger{ChargerID: "CP-1", Connected: false, Status: domain.ChargerStatusOffline}
	p.active["CP-1"] = &LiveSession{ChargerID: "CP-1", TransactionID: 1, StartTime: now.Add(-time.Hour)}

	p.refresh(context.Background(), now)

	c := p.live["CP-1"]
	if !c.Connected || c.Status != domain.ChargerStatusCharging {
		t.Errorf("charger state not reloaded: %+v", c)
	}
	if c.LastHeartbeat == nil {
		t.Error("heartbeat not reloaded from store")
	}
	if len(c.Connectors) != 1 {
		t.Errorf("expected 1 connector, got %d", len(c.Connectors))
	}
	if c.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", c.ActiveSessions)
	}
	if c.TotalSessionsToday != 1 {
		t.Errorf("expected 1 session today, got %d", c.TotalSessionsToday)
	}
	if c.TotalEnergyToday != 12.5 {
		t.Errorf("expected 12.5 kWh today, got %v", c.TotalEnergyToday)
	}
}

func TestSnapshotAggregatesStatistics(t *testing.T) {
	p, _, _, _ := newTestProjector()
	now := time.Now().UTC()

	p.live["CP-1"] = &LiveCharger{ChargerID: "CP-1", Connected: true, TotalEnergyToday: 10, TotalSessionsToday: 2, LastSeen: now}
	p.live["CP-2"] = &LiveCharger{ChargerID: "CP-2", Connected: false, TotalEnergyToday: 5, TotalSessionsToday: 1, LastSeen: now}
	p.active["CP-1"] = &LiveSession{ChargerID: "CP-1", TransactionID: 3, StartTime: now}

	snap := p.snapshot()

	stats := snap.Statistics
	if stats.ConnectedChargers != 1 {
		t.Errorf("expected 1 connected charger, got %d", stats.ConnectedChargers)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", stats.ActiveSessions)
	}
	if stats.TotalEnergyTodayKWh != 15 {
		t.Errorf("expected 15 kWh, got %v", stats.TotalEnergyTodayKWh)
	}
	if stats.TotalSessionsToday != 3 {
		t.Errorf("expected 3 sessions today, got %d", stats.TotalSessionsToday)
	}

	for _, c := range snap.Chargers {
		switch c.ChargerID {
		case "CP-1":
			if c.ActiveSessions != 1 {
				t.Errorf("CP-1 should show its active session, got %d", c.ActiveSessions)
			}
		case "CP-2":
			if c.ActiveSessions != 0 {
				t.Errorf("CP-2 should show no active session, got %d", c.ActiveSessions)
			}
		}
	}
}
