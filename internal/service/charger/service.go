package charger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

// Retry policy bounds enforced on the per-charger settings.
const (
	MinRetries       = 1
	MaxRetries       = 10
	MinRetryInterval = 1 * time.Second
	MaxRetryInterval = 60 * time.Second
)

// Service owns charger and connector state transitions.
type Service struct {
	chargers   ports.ChargerRepository
	connectors ports.ConnectorRepository
	sysconfig  ports.SystemConfigRepository
	log        *zap.Logger
}

func NewService(
	chargers ports.ChargerRepository,
	connectors ports.ConnectorRepository,
	sysconfig ports.SystemConfigRepository,
	log *zap.Logger,
) *Service {
	return &Service{
		chargers:   chargers,
		connectors: connectors,
		sysconfig:  sysconfig,
		log:        log,
	}
}

// RegisterBoot upserts the charger row from a BootNotification. An unknown
// charger is created on the spot; a known one gets its identity refreshed.
func (s *Service) RegisterBoot(ctx context.Context, chargerID, vendor, model, serial, firmware string) (*domain.Charger, error) {
	c, err := s.chargers.FindByID(ctx, chargerID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if c == nil {
		c = &domain.Charger{
			ID:             chargerID,
			Status:         domain.ChargerStatusAvailable,
			MaxRetries:     s.sysconfig.GetInt(ctx, domain.ConfigKeyMaxRetries, 3),
			RetryIntervalS: s.sysconfig.GetInt(ctx, domain.ConfigKeyRetryInterval, 5),
			RetryEnabled:   true,
		}
	}
	c.Vendor = vendor
	c.Model = model
	c.SerialNumber = serial
	c.FirmwareVersion = firmware
	c.IsConnected = true
	if c.ConnectionTime == nil {
		c.ConnectionTime = &now
	}
	c.LastHeartbeat = &now

	if err := s.chargers.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Heartbeat(ctx context.Context, chargerID string) error {
	return s.chargers.UpdateHeartbeat(ctx, chargerID, time.Now().UTC())
}

// UpdateConnectorStatus upserts the connector row and, for connector 0,
// mirrors the status onto the charger itself.
func (s *Service) UpdateConnectorStatus(ctx context.Context, chargerID string, connectorID int, status domain.ChargerStatus, errorCode string) error {
	if err := s.connectors.Upsert(ctx, &domain.Connector{
		ChargerID:   chargerID,
		ConnectorID: connectorID,
		Status:      status,
		ErrorCode:   errorCode,
	}); err != nil {
		return err
	}
	if connectorID == 0 {
		return s.chargers.UpdateStatus(ctx, chargerID, status)
	}
	return nil
}

func (s *Service) UpdateConnectorEnergy(ctx context.Context, chargerID string, connectorID int, energyKWh float64) error {
	existing, err := s.connectors.Find(ctx, chargerID, connectorID)
	if err != nil {
		return err
	}
	c := &domain.Connector{
		ChargerID:          chargerID,
		ConnectorID:        connectorID,
		EnergyDeliveredKWh: energyKWh,
	}
	if existing != nil {
		c.Status = existing.Status
		c.ErrorCode = existing.ErrorCode
	}
	return s.connectors.Upsert(ctx, c)
}

// MarkConnected flips the connection flag, creating the row when the charger
// connects before its first BootNotification.
func (s *Service) MarkConnected(ctx context.Context, chargerID string) error {
	c, err := s.chargers.FindByID(ctx, chargerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if c == nil {
		c = &domain.Charger{
			ID:             chargerID,
			Status:         domain.ChargerStatusUnknown,
			IsConnected:    true,
			ConnectionTime: &now,
			MaxRetries:     s.sysconfig.GetInt(ctx, domain.ConfigKeyMaxRetries, 3),
			RetryIntervalS: s.sysconfig.GetInt(ctx, domain.ConfigKeyRetryInterval, 5),
			RetryEnabled:   true,
		}
		return s.chargers.Save(ctx, c)
	}
	return s.chargers.SetConnected(ctx, chargerID, true, now)
}

func (s *Service) MarkDisconnected(ctx context.Context, chargerID string) error {
	return s.chargers.SetConnected(ctx, chargerID, false, time.Now().UTC())
}

// RetryPolicy resolves the effective outbound retry policy: the charger row
// when present, system_config defaults otherwise. Values outside the allowed
// bounds are clamped.
func (s *Service) RetryPolicy(ctx context.Context, chargerID string) ports.RetryPolicy {
	policy := ports.RetryPolicy{
		MaxRetries:    s.sysconfig.GetInt(ctx, domain.ConfigKeyMaxRetries, 3),
		RetryInterval: time.Duration(s.sysconfig.GetInt(ctx, domain.ConfigKeyRetryInterval, 5)) * time.Second,
		Enabled:       true,
	}

	c, err := s.chargers.FindByID(ctx, chargerID)
	if err != nil {
		s.log.Warn("retry policy lookup failed, using defaults",
			zap.String("charger_id", chargerID),
			zap.Error(err),
		)
	} else if c != nil {
		policy.MaxRetries = c.MaxRetries
		policy.RetryInterval = time.Duration(c.RetryIntervalS) * time.Second
		policy.Enabled = c.RetryEnabled
	}

	if policy.MaxRetries < MinRetries {
		policy.MaxRetries = MinRetries
	}
	if policy.MaxRetries > MaxRetries {
		policy.MaxRetries = MaxRetries
	}
	if policy.RetryInterval < MinRetryInterval {
		policy.RetryInterval = MinRetryInterval
	}
	if policy.RetryInterval > MaxRetryInterval {
		policy.RetryInterval = MaxRetryInterval
	}
	return policy
}

func (s *Service) GetCharger(ctx context.Context, chargerID string) (*domain.Charger, error) {
	return s.chargers.FindByID(ctx, chargerID)
}
