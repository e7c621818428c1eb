package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	relayhttp "github.com/opsboard/backoffice/internal/http"
	"github.com/opsboard/backoffice/internal/models"
)

// TokenConfig carries the signing secret and lifetimes for issued tokens.
type TokenConfig struct {
	Secret       string
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
	StampTTL     time.Duration
}

// CookieOptions aliases the shared cookie scoping options.
type CookieOptions = relayhttp.CookieOptions

// adminJSON shapes the identity fields handlers return to clients. The
// password hash and TOTP secret never leave the server.
func adminJSON(admin *models.Admin) gin.H {
	return gin.H{
		"id":           admin.ID,
		"email":        admin.Email,
		"role":         admin.Role,
		"totp_enabled": admin.TOTPEnabled,
	}
}

// readAdminIDFromContext returns the admin ID set by the API auth middleware.
func readAdminIDFromContext(c *gin.Context) (uint64, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint64)
	return id, ok
}
