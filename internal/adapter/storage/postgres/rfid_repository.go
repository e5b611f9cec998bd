package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

type RFIDCardRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRFIDCardRepository(db *gorm.DB, log *zap.Logger) ports.RFIDCardRepository {
	return &RFIDCardRepository{db: db, log: log}
}

func (r *RFIDCardRepository) Save(ctx context.Context, card *domain.RFIDCard) error {
	return withRetry(r.log, "rfid.save", func() error {
		return r.db.WithContext(ctx).Save(card).Error
	})
}

func (r *RFIDCardRepository) FindByTag(ctx context.Context, idTag string) (*domain.RFIDCard, error) {
	var card domain.RFIDCard
	err := r.db.WithContext(ctx).First(&card, "id_tag = ?", idTag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &card, nil
}

func (r *RFIDCardRepository) FindAll(ctx context.Context) ([]domain.RFIDCard, error) {
	var cards []domain.RFIDCard
	err := r.db.WithContext(ctx).Order("id_tag").Find(&cards).Error
	return cards, err
}

func (r *RFIDCardRepository) Delete(ctx context.Context, idTag string) error {
	return withRetry(r.log, "rfid.delete", func() error {
		return r.db.WithContext(ctx).Where("id_tag = ?", idTag).Delete(&domain.RFIDCard{}).Error
	})
}
