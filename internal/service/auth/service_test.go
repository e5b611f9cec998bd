package auth

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

func seedUser(t *testing.T, repo *mocks.MockUserRepository, email, password string, active bool) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	u := &domain.User{
		ID:           "user-1",
		Email:        email,
		Name:         "Admin",
		PasswordHash: string(hash),
		Role:         domain.UserRoleAdmin,
		Active:       active,
	}
	if err := repo.Save(context.Background(), u); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	return u
}

func TestLoginAndValidate(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "admin@example.com", "secret", true)
	svc := NewService(repo, mocks.NewMockCache(), "test-secret", time.Hour, zap.NewNop())
	ctx := context.Background()

	token, user, err := svc.Login(ctx, "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if user.Role != domain.UserRoleAdmin {
		t.Errorf("unexpected role %s", user.Role)
	}

	validated, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("token should validate: %v", err)
	}
	if validated.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, validated.ID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "admin@example.com", "secret", true)
	svc := NewService(repo, mocks.NewMockCache(), "test-secret", time.Hour, zap.NewNop())

	if _, _, err := svc.Login(context.Background(), "admin@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := NewService(mocks.NewMockUserRepository(), mocks.NewMockCache(), "test-secret", time.Hour, zap.NewNop())

	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "secret"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "admin@example.com", "secret", false)
	svc := NewService(repo, mocks.NewMockCache(), "test-secret", time.Hour, zap.NewNop())

	if _, _, err := svc.Login(context.Background(), "admin@example.com", "secret"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "admin@example.com", "secret", true)
	issuer := NewService(repo, mocks.NewMockCache(), "secret-a", time.Hour, zap.NewNop())
	verifier := NewService(repo, mocks.NewMockCache(), "secret-b", time.Hour, zap.NewNop())

	token, _, err := issuer.Login(context.Background(), "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := verifier.ValidateToken(context.Background(), token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeInvalidatesToken(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "admin@example.com", "secret", true)
	svc := NewService(repo, mocks.NewMockCache(), "test-secret", time.Hour, zap.NewNop())
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("token should validate before revocation: %v", err)
	}

	if err := svc.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}
}
