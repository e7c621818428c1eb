package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names used by the admin session flows.
const (
	// SessionCookieName carries the signed admin session token.
	SessionCookieName = "admin-session"
	// StampCookieName carries the signed two-factor stamp.
	StampCookieName = "admin-2fa-verified"
)

// CookieOptions scopes the admin cookies to the back-office path.
type CookieOptions struct {
	Path   string // Admin base path, e.g. "/admin".
	Domain string
	Secure bool // True in production deployments.
}

// SetSessionCookie writes the session cookie with its full lifetime.
func SetSessionCookie(c *gin.Context, opts CookieOptions, token string, ttl time.Duration) {
	setCookie(c, opts, SessionCookieName, token, int(ttl.Seconds()))
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context, opts CookieOptions) {
	setCookie(c, opts, SessionCookieName, "", -1)
}

// SetStampCookie writes the two-factor stamp cookie. Non-sliding: callers
// only set it when 2FA actually succeeds.
func SetStampCookie(c *gin.Context, opts CookieOptions, stamp string, ttl time.Duration) {
	setCookie(c, opts, StampCookieName, stamp, int(ttl.Seconds()))
}

// ClearStampCookie expires the stamp cookie. Safe to call when the cookie is
// already gone.
func ClearStampCookie(c *gin.Context, opts CookieOptions) {
	setCookie(c, opts, StampCookieName, "", -1)
}

func setCookie(c *gin.Context, opts CookieOptions, name, value string, maxAge int) {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   opts.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
