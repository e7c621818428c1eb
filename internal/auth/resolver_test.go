package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
)

const resolverSecret = "resolver-test-secret"

func TestResolve_ReturnsFreshIdentity(t *testing.T) {
	conn := setupAuthenticatorDB(t)
	seeded := seedAdmin(t, conn, nil)

	token, errToken := security.GenerateSessionToken(resolverSecret, seeded.ID, seeded.Email, seeded.Role, false, time.Hour)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}

	resolver := NewVerifiedSessionResolver(conn, resolverSecret)
	session, errResolve := resolver.Resolve(context.Background(), token)
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if session.Admin.ID != seeded.ID {
		t.Fatalf("expected admin %d, got %d", seeded.ID, session.Admin.ID)
	}

	// A role change lands on the very next resolve, not at token refresh.
	if errUpdate := conn.Model(&models.Admin{}).Where("id = ?", seeded.ID).Update("role", models.RoleSuperAdmin).Error; errUpdate != nil {
		t.Fatalf("update role: %v", errUpdate)
	}
	session, errResolve = resolver.Resolve(context.Background(), token)
	if errResolve != nil {
		t.Fatalf("resolve after role change: %v", errResolve)
	}
	if session.Admin.Role != models.RoleSuperAdmin {
		t.Fatalf("expected fresh role %q, got %q", models.RoleSuperAdmin, session.Admin.Role)
	}
}

func TestResolve_ExpiredToken(t *testing.T) {
	conn := setupAuthenticatorDB(t)
	seeded := seedAdmin(t, conn, nil)

	token, errToken := security.GenerateSessionToken(resolverSecret, seeded.ID, seeded.Email, seeded.Role, false, -time.Minute)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}

	if _, errResolve := NewVerifiedSessionResolver(conn, resolverSecret).Resolve(context.Background(), token); !errors.Is(errResolve, security.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", errResolve)
	}
}

func TestResolve_WrongSecret(t *testing.T) {
	conn := setupAuthenticatorDB(t)
	seeded := seedAdmin(t, conn, nil)

	token, errToken := security.GenerateSessionToken("other-secret", seeded.ID, seeded.Email, seeded.Role, false, time.Hour)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}

	if _, errResolve := NewVerifiedSessionResolver(conn, resolverSecret).Resolve(context.Background(), token); !errors.Is(errResolve, security.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errResolve)
	}
}

func TestResolve_IdentityGone(t *testing.T) {
	conn := setupAuthenticatorDB(t)
	seeded := seedAdmin(t, conn, nil)

	token, errToken := security.GenerateSessionToken(resolverSecret, seeded.ID, seeded.Email, seeded.Role, false, time.Hour)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}
	if errDelete := conn.Delete(&models.Admin{}, seeded.ID).Error; errDelete != nil {
		t.Fatalf("delete admin: %v", errDelete)
	}

	if _, errResolve := NewVerifiedSessionResolver(conn, resolverSecret).Resolve(context.Background(), token); !errors.Is(errResolve, ErrSessionIdentityGone) {
		t.Fatalf("expected ErrSessionIdentityGone, got %v", errResolve)
	}
}
