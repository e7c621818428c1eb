package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/opsboard/backoffice/internal/audit"
	"github.com/opsboard/backoffice/internal/auth"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
	"github.com/opsboard/backoffice/internal/settings"
)

// Redirect reason codes carried as query parameters. Redirects are never
// silent.
const (
	// ReasonSession marks a missing or invalid session token.
	ReasonSession = "session"
	// ReasonUnauthorized marks a session whose identity cannot be resolved.
	ReasonUnauthorized = "unauthorized"
	// ReasonDeactivated marks a deactivated account.
	ReasonDeactivated = "deactivated"
)

// RouteGuard authorizes browser navigation through the back office. It holds
// no per-request state between requests: authority lives in the identity row
// and the two cookies, so a deactivation takes effect on the very next
// request.
type RouteGuard struct {
	resolver    auth.SessionResolver
	recorder    *audit.Recorder
	secret      string
	cookieOpts  CookieOptions
	loginPath   string
	twoFAPath   string
	publicPaths map[string]struct{}
}

// NewRouteGuard constructs the guard. basePath is the admin UI prefix the
// login and 2FA entry pages live under.
func NewRouteGuard(resolver auth.SessionResolver, recorder *audit.Recorder, secret, basePath string, cookieOpts CookieOptions) *RouteGuard {
	basePath = strings.TrimSuffix(basePath, "/")
	loginPath := basePath + "/login"
	twoFAPath := basePath + "/2fa"
	return &RouteGuard{
		resolver:   resolver,
		recorder:   recorder,
		secret:     secret,
		cookieOpts: cookieOpts,
		loginPath:  loginPath,
		twoFAPath:  twoFAPath,
		publicPaths: map[string]struct{}{
			loginPath: {},
			twoFAPath: {},
		},
	}
}

// Middleware evaluates the authorization state machine fresh on every
// protected request.
func (g *RouteGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if _, public := g.publicPaths[path]; public {
			c.Next()
			return
		}

		token, errCookie := c.Cookie(SessionCookieName)
		if errCookie != nil || strings.TrimSpace(token) == "" {
			g.redirectLogin(c, path, ReasonSession)
			return
		}

		session, errResolve := g.resolver.Resolve(c.Request.Context(), token)
		if errResolve != nil {
			switch {
			case errors.Is(errResolve, security.ErrExpiredToken), errors.Is(errResolve, security.ErrInvalidToken):
				ClearSessionCookie(c, g.cookieOpts)
				g.redirectLogin(c, path, ReasonSession)
			case errors.Is(errResolve, auth.ErrSessionIdentityGone):
				ClearSessionCookie(c, g.cookieOpts)
				g.redirectLogin(c, path, ReasonUnauthorized)
			default:
				log.WithError(errResolve).Warn("route guard identity resolve failed")
				g.redirectLogin(c, path, ReasonUnauthorized)
			}
			return
		}

		admin := session.Admin
		if !admin.Active {
			g.recorder.Record(c.Request.Context(), audit.Event{
				Action:       audit.ActionLogout,
				ResourceType: "admin_session",
				ActorID:      admin.ID,
				Outcome:      audit.OutcomeFailure,
				IPAddress:    c.ClientIP(),
				UserAgent:    c.Request.UserAgent(),
				Metadata:     map[string]any{"reason": ReasonDeactivated},
			})
			ClearSessionCookie(c, g.cookieOpts)
			g.redirectLogin(c, path, ReasonDeactivated)
			return
		}

		// Role is re-read with the profile, so a demotion takes effect on
		// the next request just like a deactivation.
		if !models.IsBackOfficeRole(admin.Role) {
			ClearSessionCookie(c, g.cookieOpts)
			g.redirectLogin(c, path, ReasonUnauthorized)
			return
		}

		if g.requiresFreshStamp(path, admin.TOTPEnabled) {
			stamp, errStamp := c.Cookie(StampCookieName)
			if errStamp != nil || strings.TrimSpace(stamp) == "" {
				g.redirectTwoFA(c, path)
				return
			}
			if _, errParse := security.ParseStamp(g.secret, stamp); errParse != nil {
				// Deleting an already-absent cookie is a no-op, never an error.
				ClearStampCookie(c, g.cookieOpts)
				g.redirectTwoFA(c, path)
				return
			}
		}

		c.Set("userID", admin.ID)
		c.Set("role", admin.Role)
		c.Next()
	}
}

// requiresFreshStamp reports whether the path sits under a sensitive prefix
// for an admin with TOTP enabled. Admins without TOTP are never asked for a
// stamp on any path.
func (g *RouteGuard) requiresFreshStamp(path string, totpEnabled bool) bool {
	if !totpEnabled {
		return false
	}
	for _, prefix := range settings.SensitivePathPrefixes() {
		if hasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *RouteGuard) redirectLogin(c *gin.Context, intended, reason string) {
	target := g.loginPath + "?error=" + reason + "&next=" + url.QueryEscape(intended)
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

func (g *RouteGuard) redirectTwoFA(c *gin.Context, intended string) {
	target := g.twoFAPath + "?next=" + url.QueryEscape(intended)
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

// hasPathPrefix checks a prefix match on a path boundary.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}
