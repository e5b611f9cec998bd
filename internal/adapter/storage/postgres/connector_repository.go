package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

type ConnectorRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewConnectorRepository(db *gorm.DB, log *zap.Logger) ports.ConnectorRepository {
	return &ConnectorRepository{db: db, log: log}
}

// Upsert writes the connector keyed by (charger_id, connector_id).
func (r *ConnectorRepository) Upsert(ctx context.Context, c *domain.Connector) error {
	return withRetry(r.log, "connector.upsert", func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "charger_id"}, {Name: "connector_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "error_code", "energy_delivered_kwh", "power_delivered_kw", "updated_at",
			}),
		}).Create(c).Error
	})
}

func (r *ConnectorRepository) Find(ctx context.Context, chargerID string, connectorID int) (*domain.Connector, error) {
	var c domain.Connector
	err := r.db.WithContext(ctx).
		First(&c, "charger_id = ? AND connector_id = ?", chargerID, connectorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConnectorRepository) FindByCharger(ctx context.Context, chargerID string) ([]domain.Connector, error) {
	var cs []domain.Connector
	err := r.db.WithContext(ctx).Where("charger_id = ?", chargerID).
		Order("connector_id").Find(&cs).Error
	return cs, err
}

// Delete removes a connector unless one of its sessions is still Active.
func (r *ConnectorRepository) Delete(ctx context.Context, chargerID string, connectorID int) error {
	var active int64
	err := r.db.WithContext(ctx).Model(&domain.ChargingSession{}).
		Where("charger_id = ? AND connector_id = ? AND status = ?",
			chargerID, connectorID, domain.SessionStatusActive).
		Count(&active).Error
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("connector %s/%d has an active session", chargerID, connectorID)
	}
	return withRetry(r.log, "connector.delete", func() error {
		return r.db.WithContext(ctx).
			Where("charger_id = ? AND connector_id = ?", chargerID, connectorID).
			Delete(&domain.Connector{}).Error
	})
}
