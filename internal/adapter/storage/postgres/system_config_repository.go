package postgres

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

type SystemConfigRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSystemConfigRepository(db *gorm.DB, log *zap.Logger) ports.SystemConfigRepository {
	return &SystemConfigRepository{db: db, log: log}
}

func (r *SystemConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var sc domain.SystemConfig
	err := r.db.WithContext(ctx).First(&sc, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return sc.Value, nil
}

func (r *SystemConfigRepository) GetInt(ctx context.Context, key string, fallback int) int {
	val, err := r.Get(ctx, key)
	if err != nil || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		r.log.Warn("non-integer system_config value",
			zap.String("key", key), zap.String("value", val))
		return fallback
	}
	return n
}

func (r *SystemConfigRepository) Set(ctx context.Context, key, value, description string) error {
	return withRetry(r.log, "system_config.set", func() error {
		return r.db.WithContext(ctx).Save(&domain.SystemConfig{
			Key:         key,
			Value:       value,
			Description: description,
		}).Error
	})
}

func (r *SystemConfigRepository) Seed(ctx context.Context, defaults map[string]string) error {
	for key, value := range defaults {
		existing, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		if existing != "" {
			continue
		}
		if err := r.Set(ctx, key, value, ""); err != nil {
			return err
		}
	}
	return nil
}
