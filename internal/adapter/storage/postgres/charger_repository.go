package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

type ChargerRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargerRepository(db *gorm.DB, log *zap.Logger) ports.ChargerRepository {
	return &ChargerRepository{db: db, log: log}
}

func (r *ChargerRepository) Save(ctx context.Context, c *domain.Charger) error {
	return withRetry(r.log, "charger.save", func() error {
		return r.db.WithContext(ctx).Save(c).Error
	})
}

func (r *ChargerRepository) FindByID(ctx context.Context, id string) (*domain.Charger, error) {
	var c domain.Charger
	err := r.db.WithContext(ctx).Preload("Connectors").First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ChargerRepository) FindAll(ctx context.Context, filter map[string]interface{}) ([]domain.Charger, error) {
	var cs []domain.Charger
	query := r.db.WithContext(ctx).Preload("Connectors")
	if status, ok := filter["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if connected, ok := filter["is_connected"]; ok {
		query = query.Where("is_connected = ?", connected)
	}
	err := query.Order("id").Find(&cs).Error
	return cs, err
}

func (r *ChargerRepository) FindConnected(ctx context.Context) ([]domain.Charger, error) {
	var cs []domain.Charger
	err := r.db.WithContext(ctx).Where("is_connected = ?", true).Find(&cs).Error
	return cs, err
}

func (r *ChargerRepository) UpdateStatus(ctx context.Context, id string, status domain.ChargerStatus) error {
	return withRetry(r.log, "charger.update_status", func() error {
		return r.db.WithContext(ctx).Model(&domain.Charger{}).Where("id = ?", id).
			Update("status", status).Error
	})
}

func (r *ChargerRepository) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	return withRetry(r.log, "charger.update_heartbeat", func() error {
		return r.db.WithContext(ctx).Model(&domain.Charger{}).Where("id = ?", id).
			Update("last_heartbeat", at.UTC()).Error
	})
}

func (r *ChargerRepository) SetConnected(ctx context.Context, id string, connected bool, at time.Time) error {
	updates := map[string]interface{}{"is_connected": connected}
	if connected {
		updates["connection_time"] = at.UTC()
	} else {
		updates["disconnect_time"] = at.UTC()
		updates["status"] = domain.ChargerStatusOffline
	}
	return withRetry(r.log, "charger.set_connected", func() error {
		return r.db.WithContext(ctx).Model(&domain.Charger{}).Where("id = ?", id).
			Updates(updates).Error
	})
}
