package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/db"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
)

// Classified authentication failures. The API boundary collapses all of
// these to one generic 401; the classification feeds audit metadata only.
var (
	// ErrMissingCredentials indicates an empty email or password.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrUserNotFound indicates no identity matches the email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials indicates the password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDeactivated indicates the identity exists but is inactive.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrNotAdminRole indicates the identity has no back-office role.
	ErrNotAdminRole = errors.New("not an admin role")
	// ErrEmailNotConfirmed indicates the identity never confirmed its email.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
)

// FailureClass names an authentication failure for audit metadata. Empty for
// success.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountDeactivated):
		return "account_deactivated"
	case errors.Is(err, ErrNotAdminRole):
		return "not_admin_role"
	case errors.Is(err, ErrEmailNotConfirmed):
		return "email_not_confirmed"
	default:
		return "internal_error"
	}
}

// Authenticator checks email/password pairs against the identity store.
type Authenticator struct {
	conn *gorm.DB
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(conn *gorm.DB) *Authenticator {
	return &Authenticator{conn: conn}
}

// Authenticate verifies the credentials and classifies the outcome. The
// returned admin is only non-nil on success. The identity row is never
// mutated here; the caller decides whether a challenge token or a session
// token follows.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*models.Admin, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	var admin models.Admin
	errFind := a.conn.WithContext(ctx).
		Where(db.CaseInsensitiveEqExpr(a.conn, "email"), db.NormalizeEqValue(a.conn, email)).
		First(&admin).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: lookup identity: %w", errFind)
	}

	if !security.CheckPassword(admin.Password, password) {
		return nil, ErrInvalidCredentials
	}
	if !admin.Active {
		return nil, ErrAccountDeactivated
	}
	if !models.IsBackOfficeRole(admin.Role) {
		return nil, ErrNotAdminRole
	}
	if admin.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}
	return &admin, nil
}
