package charger

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

func newTestService() (*Service, *mocks.MockChargerRepository, *mocks.MockConnectorRepository, *mocks.MockSystemConfigRepository) {
	chargers := mocks.NewMockChargerRepository()
	connectors := mocks.NewMockConnectorRepository()
	sysconfig := mocks.NewMockSystemConfigRepository()
	return NewService(chargers, connectors, sysconfig, zap.NewNop()), chargers, connectors, sysconfig
}

func TestRegisterBootCreatesCharger(t *testing.T) {
	svc, repo, _, _ := newTestService()

	c, err := svc.RegisterBoot(context.Background(), "CP-1", "ACME", "X1", "SN-1", "fw-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Vendor != "ACME" || c.Model != "X1" {
		t.Errorf("identity not applied: %+v", c)
	}
	if !c.IsConnected {
		t.Error("booted charger should be connected")
	}

	saved, _ := repo.FindByID(context.Background(), "CP-1")
	if saved == nil {
		t.Fatal("charger row should exist")
	}
	if saved.MaxRetries != 3 || saved.RetryIntervalS != 5 {
		t.Errorf("expected default retry policy, got %d/%d", saved.MaxRetries, saved.RetryIntervalS)
	}
}

func TestRegisterBootRefreshesExisting(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.Chargers["CP-1"] = &domain.Charger{ID: "CP-1", Vendor: "Old", MaxRetries: 7, RetryIntervalS: 9, RetryEnabled: true}

	c, err := svc.RegisterBoot(context.Background(), "CP-1", "New", "X2", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Vendor != "New" {
		t.Errorf("vendor should refresh, got %s", c.Vendor)
	}
	if c.MaxRetries != 7 {
		t.Errorf("retry policy must survive boot, got %d", c.MaxRetries)
	}
}

func TestRetryPolicyDefaultsFromSystemConfig(t *testing.T) {
	svc, _, _, sysconfig := newTestService()
	sysconfig.Set(context.Background(), domain.ConfigKeyMaxRetries, "4", "")
	sysconfig.Set(context.Background(), domain.ConfigKeyRetryInterval, "8", "")

	p := svc.RetryPolicy(context.Background(), "unknown-cp")
	if p.MaxRetries != 4 {
		t.Errorf("expected 4 retries, got %d", p.MaxRetries)
	}
	if p.RetryInterval != 8*time.Second {
		t.Errorf("expected 8s interval, got %v", p.RetryInterval)
	}
	if !p.Enabled {
		t.Error("default policy should be enabled")
	}
}

func TestRetryPolicyPerChargerOverride(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.Chargers["CP-1"] = &domain.Charger{ID: "CP-1", MaxRetries: 2, RetryIntervalS: 10, RetryEnabled: false}

	p := svc.RetryPolicy(context.Background(), "CP-1")
	if p.MaxRetries != 2 || p.RetryInterval != 10*time.Second || p.Enabled {
		t.Errorf("unexpected policy: %+v", p)
	}
}

func TestRetryPolicyClamping(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.Chargers["CP-1"] = &domain.Charger{ID: "CP-1", MaxRetries: 100, RetryIntervalS: 500, RetryEnabled: true}

	p := svc.RetryPolicy(context.Background(), "CP-1")
	if p.MaxRetries != MaxRetries {
		t.Errorf("expected clamp to %d, got %d", MaxRetries, p.MaxRetries)
	}
	if p.RetryInterval != MaxRetryInterval {
		t.Errorf("expected clamp to %v, got %v", MaxRetryInterval, p.RetryInterval)
	}
}

func TestUpdateConnectorStatusMirrorsConnectorZero(t *testing.T) {
	svc, repo, connectors, _ := newTestService()
	repo.Chargers["CP-1"] = &domain.Charger{ID: "CP-1", Status: domain.ChargerStatusAvailable}

	if err := svc.UpdateConnectorStatus(context.Background(), "CP-1", 0, domain.ChargerStatusUnavailable, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ := repo.FindByID(context.Background(), "CP-1")
	if c.Status != domain.ChargerStatusUnavailable {
		t.Errorf("connector 0 status should mirror onto the charger, got %s", c.Status)
	}
	conn, _ := connectors.Find(context.Background(), "CP-1", 0)
	if conn == nil || conn.Status != domain.ChargerStatusUnavailable {
		t.Errorf("connector row not upserted: %+v", conn)
	}
}

func TestMarkConnectedCreatesUnknownCharger(t *testing.T) {
	svc, repo, _, _ := newTestService()

	if err := svc.MarkConnected(context.Background(), "CP-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := repo.FindByID(context.Background(), "CP-9")
	if c == nil {
		t.Fatal("charger row should be created on first connect")
	}
	if c.Status != domain.ChargerStatusUnknown {
		t.Errorf("pre-boot charger should be Unknown, got %s", c.Status)
	}
}
