package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/observability/telemetry"
	"github.com/voltgrid/csms/internal/ports"
)

type LogRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewLogRepository(db *gorm.DB, log *zap.Logger) ports.LogRepository {
	return &LogRepository{db: db, log: log}
}

// AppendMessage writes one message-log row. The hot path gets at most one
// retry; a second failure drops the row and bumps the dropped counter.
func (r *LogRepository) AppendMessage(ctx context.Context, m *domain.MessageLog) error {
	err := r.db.WithContext(ctx).Create(m).Error
	if err != nil && isTransient(err) {
		err = r.db.WithContext(ctx).Create(m).Error
	}
	if err != nil {
		telemetry.LogWritesDropped.Inc()
		r.log.Warn("dropping message log write",
			zap.String("charger_id", m.ChargerID),
			zap.String("action", m.Action),
			zap.Error(err),
		)
		return nil
	}
	return nil
}

func (r *LogRepository) AppendConnectionEvent(ctx context.Context, e *domain.ConnectionEvent) error {
	err := r.db.WithContext(ctx).Create(e).Error
	if err != nil && isTransient(err) {
		err = r.db.WithContext(ctx).Create(e).Error
	}
	if err != nil {
		telemetry.LogWritesDropped.Inc()
		r.log.Warn("dropping connection event write",
			zap.String("charger_id", e.ChargerID),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err),
		)
		return nil
	}
	return nil
}

func (r *LogRepository) FindMessages(ctx context.Context, chargerID string, limit int) ([]domain.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var ms []domain.MessageLog
	query := r.db.WithContext(ctx).Order("timestamp desc").Limit(limit)
	if chargerID != "" {
		query = query.Where("charger_id = ?", chargerID)
	}
	err := query.Find(&ms).Error
	return ms, err
}

func (r *LogRepository) FindConnectionEvents(ctx context.Context, chargerID string, limit int) ([]domain.ConnectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var es []domain.ConnectionEvent
	query := r.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if chargerID != "" {
		query = query.Where("charger_id = ?", chargerID)
	}
	err := query.Find(&es).Error
	return es, err
}

func (r *LogRepository) LatestConnectionEvent(ctx context.Context, chargerID string) (*domain.ConnectionEvent, error) {
	var e domain.ConnectionEvent
	err := r.db.WithContext(ctx).Where("charger_id = ?", chargerID).
		Order("created_at desc").First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}
