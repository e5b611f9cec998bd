package card

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

const cacheTTL = 5 * time.Minute

// Service resolves RFID authorization requests. Lookups go through the cache
// first; a store error fails closed with Invalid.
type Service struct {
	cards ports.RFIDCardRepository
	cache ports.Cache
	log   *zap.Logger
}

func NewService(cards ports.RFIDCardRepository, cache ports.Cache, log *zap.Logger) *Service {
	return &Service{cards: cards, cache: cache, log: log}
}

func (s *Service) Authorize(ctx context.Context, idTag string) domain.AuthorizationStatus {
	if cached, err := s.cache.Get(ctx, cacheKey(idTag)); err == nil && cached != "" {
		return domain.AuthorizationStatus(cached)
	}

	card, err := s.cards.FindByTag(ctx, idTag)
	if err != nil {
		s.log.Warn("card lookup failed",
			zap.String("id_tag", idTag),
			zap.Error(err),
		)
		return domain.AuthorizationInvalid
	}

	status := card.Authorization(time.Now().UTC())
	if err := s.cache.Set(ctx, cacheKey(idTag), string(status), cacheTTL); err != nil {
		s.log.Debug("card cache write failed", zap.Error(err))
	}
	return status
}

// Invalidate drops the cached status, used after card CRUD.
func (s *Service) Invalidate(ctx context.Context, idTag string) {
	s.cache.Delete(ctx, cacheKey(idTag))
}

func cacheKey(idTag string) string {
	return "card:auth:" + idTag
}
