package auth

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
)

// Session describes a verified session paired with a fresh identity read.
type Session struct {
	Claims *security.SessionClaims
	Admin  *models.Admin
}

// SessionResolver is the single authority for turning a bearer token into an
// identity. Every request-authorization path goes through this interface;
// there is deliberately exactly one implementation, and it verifies the
// token signature before trusting any claim.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*Session, error)
}

// ErrSessionIdentityGone indicates a valid token whose identity row has
// since disappeared.
var ErrSessionIdentityGone = errors.New("session identity no longer exists")

// VerifiedSessionResolver resolves sessions by verifying the token HMAC and
// re-reading the identity row on every call, so deactivations and role
// changes take effect on the very next request.
type VerifiedSessionResolver struct {
	conn   *gorm.DB
	secret string
}

// NewVerifiedSessionResolver constructs the resolver.
func NewVerifiedSessionResolver(conn *gorm.DB, secret string) *VerifiedSessionResolver {
	return &VerifiedSessionResolver{conn: conn, secret: secret}
}

// Resolve implements SessionResolver.
func (r *VerifiedSessionResolver) Resolve(ctx context.Context, token string) (*Session, error) {
	claims, errParse := security.ParseSessionToken(r.secret, token)
	if errParse != nil {
		return nil, errParse
	}

	var admin models.Admin
	if errFind := r.conn.WithContext(ctx).First(&admin, claims.UserID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrSessionIdentityGone
		}
		return nil, errFind
	}
	return &Session{Claims: claims, Admin: &admin}, nil
}
