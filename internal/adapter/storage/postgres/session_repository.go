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

type SessionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSessionRepository(db *gorm.DB, log *zap.Logger) ports.SessionRepository {
	return &SessionRepository{db: db, log: log}
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.ChargingSession) error {
	return withRetry(r.log, "session.save", func() error {
		return r.db.WithContext(ctx).Create(s).Error
	})
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.ChargingSession) error {
	return withRetry(r.log, "session.update", func() error {
		return r.db.WithContext(ctx).Save(s).Error
	})
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindByTransaction(ctx context.Context, chargerID string, transactionID int) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).
		First(&s, "charger_id = ? AND transaction_id = ?", chargerID, transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindActiveByCharger returns the most recent Active session for the charger.
func (r *SessionRepository) FindActiveByCharger(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
	var s domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("charger_id = ? AND status = ?", chargerID, domain.SessionStatusActive).
		Order("start_time desc").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindActive(ctx context.Context) ([]domain.ChargingSession, error) {
	var ss []domain.ChargingSession
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.SessionStatusActive).
		Order("start_time").Find(&ss).Error
	return ss, err
}

func (r *SessionRepository) FindByCharger(ctx context.Context, chargerID string, limit int) ([]domain.ChargingSession, error) {
	if limit <= 0 {
		limit = 100
	}
	var ss []domain.ChargingSession
	err := r.db.WithContext(ctx).Where("charger_id = ?", chargerID).
		Order("start_time desc").Limit(limit).Find(&ss).Error
	return ss, err
}

// MaxTransactionID returns the highest transaction id persisted for the
// charger, 0 when none exist. Used to seed the per-charger counter.
func (r *SessionRepository) MaxTransactionID(ctx context.Context, chargerID string) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&domain.ChargingSession{}).
		Where("charger_id = ?", chargerID).
		Select("MAX(transaction_id)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *SessionRepository) HasActiveOnConnector(ctx context.Context, chargerID string, connectorID int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ChargingSession{}).
		Where("charger_id = ? AND connector_id = ? AND status = ?",
			chargerID, connectorID, domain.SessionStatusActive).
		Count(&count).Error
	return count > 0, err
}

func (r *SessionRepository) CountSince(ctx context.Context, chargerID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ChargingSession{}).
		Where("charger_id = ? AND start_time >= ?", chargerID, since.UTC()).
		Count(&count).Error
	return count, err
}

func (r *SessionRepository) EnergySince(ctx context.Context, chargerID string, since time.Time) (float64, error) {
	var total *float64
	err := r.db.WithContext(ctx).Model(&domain.ChargingSession{}).
		Where("charger_id = ? AND start_time >= ?", chargerID, since.UTC()).
		Select("SUM(energy_delivered_kwh)").Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
