package card

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

func TestAuthorizeStatuses(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)

	cases := []struct {
		name string
		card *domain.RFIDCard
		want domain.AuthorizationStatus
	}{
		{"unknown tag", nil, domain.AuthorizationInvalid},
		{"active card", &domain.RFIDCard{IDTag: "T", Active: true}, domain.AuthorizationAccepted},
		{"blocked card", &domain.RFIDCard{IDTag: "T", Active: true, Blocked: true}, domain.AuthorizationBlocked},
		{"inactive card", &domain.RFIDCard{IDTag: "T", Active: false}, domain.AuthorizationInvalid},
		{"expired card", &domain.RFIDCard{IDTag: "T", Active: true, ExpiryDate: &expired}, domain.AuthorizationExpired},
		{"valid expiry", &domain.RFIDCard{IDTag: "T", Active: true, ExpiryDate: &future}, domain.AuthorizationAccepted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := mocks.NewMockRFIDCardRepository()
			if tc.card != nil {
				repo.Save(context.Background(), tc.card)
			}
			svc := NewService(repo, mocks.NewMockCache(), zap.NewNop())

			if got := svc.Authorize(context.Background(), "T"); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestAuthorizeStoreErrorFailsClosed(t *testing.T) {
	repo := mocks.NewMockRFIDCardRepository()
	repo.FindByTagFunc = func(ctx context.Context, idTag string) (*domain.RFIDCard, error) {
		return nil, errors.New("db down")
	}
	svc := NewService(repo, mocks.NewMockCache(), zap.NewNop())

	if got := svc.Authorize(context.Background(), "T"); got != domain.AuthorizationInvalid {
		t.Errorf("expected Invalid on store error, got %s", got)
	}
}

func TestAuthorizeUsesCache(t *testing.T) {
	repo := mocks.NewMockRFIDCardRepository()
	repo.Save(context.Background(), &domain.RFIDCard{IDTag: "T", Active: true})

	lookups := 0
	repo.FindByTagFunc = func(ctx context.Context, idTag string) (*domain.RFIDCard, error) {
		lookups++
		return &domain.RFIDCard{IDTag: idTag, Active: true}, nil
	}
	svc := NewService(repo, mocks.NewMockCache(), zap.NewNop())
	ctx := context.Background()

	svc.Authorize(ctx, "T")
	svc.Authorize(ctx, "T")
	if lookups != 1 {
		t.Errorf("expected one store lookup, got %d", lookups)
	}
}

func TestInvalidateDropsCachedStatus(t *testing.T) {
	repo := mocks.NewMockRFIDCardRepository()
	card := &domain.RFIDCard{IDTag: "T", Active: true}
	repo.Save(context.Background(), card)
	svc := NewService(repo, mocks.NewMockCache(), zap.NewNop())
	ctx := context.Background()

	if got := svc.Authorize(ctx, "T"); got != domain.AuthorizationAccepted {
		t.Fatalf("expected Accepted, got %s", got)
	}

	card.Blocked = true
	repo.Save(ctx, card)
	svc.Invalidate(ctx, "T")

	if got := svc.Authorize(ctx, "T"); got != domain.AuthorizationBlocked {
		t.Errorf("expected Blocked after invalidation, got %s", got)
	}
}
