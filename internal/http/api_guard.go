package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/opsboard/backoffice/internal/auth"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
	"github.com/opsboard/backoffice/internal/util"
)

// AdminAPIAuthMiddleware enforces session authentication on JSON API routes.
// Unlike the browser guard it answers with explicit status codes instead of
// redirects. Both guards share the same SessionResolver; there is exactly
// one token verification path.
func AdminAPIAuthMiddleware(resolver auth.SessionResolver, cookieOpts CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if cookie, errCookie := c.Cookie(SessionCookieName); errCookie == nil {
				token = strings.TrimSpace(cookie)
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing session token"})
			return
		}

		session, errResolve := resolver.Resolve(c.Request.Context(), token)
		if errResolve != nil {
			switch {
			case errors.Is(errResolve, security.ErrExpiredToken),
				errors.Is(errResolve, security.ErrInvalidToken),
				errors.Is(errResolve, auth.ErrSessionIdentityGone):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session token"})
			default:
				log.WithError(errResolve).WithField("token", util.MaskToken(token)).Warn("api auth resolve failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
			}
			return
		}

		admin := session.Admin
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: account deactivated"})
			return
		}
		if !models.IsBackOfficeRole(admin.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: Admin role required"})
			return
		}

		c.Set("userID", admin.ID)
		c.Set("role", admin.Role)
		c.Set("email", admin.Email)
		c.Next()
	}
}

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
