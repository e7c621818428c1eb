// Package admin wires the back-office API routes onto a gin engine.
package admin

import (
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/audit"
	"github.com/opsboard/backoffice/internal/auth"
	relayhttp "github.com/opsboard/backoffice/internal/http"
	"github.com/opsboard/backoffice/internal/http/api/admin/handlers"
	"github.com/opsboard/backoffice/internal/presence"
)

// Options carries the shared collaborators the admin routes depend on.
type Options struct {
	// BasePath is the back-office prefix the API mounts under, so the
	// path-scoped admin cookies reach it. Defaults to "/admin".
	BasePath string

	DB            *gorm.DB
	Authenticator *auth.Authenticator
	Resolver      auth.SessionResolver
	Recorder      *audit.Recorder
	Presence      *presence.Registry
	Tokens        handlers.TokenConfig
	Cookies       handlers.CookieOptions
	// OnActivity, when set, is called with the admin ID on every
	// authenticated request, feeding the inactivity watchdog.
	OnActivity func(userID uint64)
	// OnSessionEnd, when set, is called with the admin ID when a session
	// ends through logout.
	OnSessionEnd func(userID uint64)
}

// RegisterAdminRoutes mounts the back-office API under <base-path>/v0. Login
// and its second-factor follow-ups stay public; everything else runs behind
// the session middleware.
func RegisterAdminRoutes(engine *gin.Engine, opts Options) {
	authHandler := handlers.NewAuthHandler(opts.DB, opts.Authenticator, opts.Resolver, opts.Recorder, opts.Presence, opts.Tokens, opts.Cookies)
	if opts.OnSessionEnd != nil {
		authHandler.OnSessionEnd(opts.OnSessionEnd)
	}
	mfaHandler := handlers.NewMFAHandler(opts.DB)
	presenceHandler := handlers.NewPresenceHandler(opts.Presence)

	base := strings.TrimSuffix(opts.BasePath, "/")
	if base == "" {
		base = "/admin"
	}
	api := engine.Group(base + "/v0")

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/login/prepare", authHandler.LoginPrepare)
	api.POST("/auth/2fa/verify", authHandler.VerifyTwoFactor)
	api.POST("/auth/passkey/options", authHandler.LoginPasskeyOptions)
	api.POST("/auth/passkey/verify", authHandler.LoginPasskeyVerify)
	api.GET("/auth/session", authHandler.ValidateSession)
	api.POST("/auth/logout", authHandler.Logout)

	secured := api.Group("", relayhttp.AdminAPIAuthMiddleware(opts.Resolver, opts.Cookies), activityMiddleware(opts.OnActivity))

	secured.GET("/mfa/status", mfaHandler.Status)
	secured.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	secured.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	secured.DELETE("/mfa/totp", mfaHandler.DisableTOTP)
	secured.POST("/mfa/passkey/register/begin", mfaHandler.BeginPasskeyRegistration)
	secured.POST("/mfa/passkey/register/finish", mfaHandler.FinishPasskeyRegistration)
	secured.DELETE("/mfa/passkey", mfaHandler.DisablePasskey)

	secured.GET("/presence/roster", presenceHandler.Roster)
	secured.POST("/presence/heartbeat", presenceHandler.Heartbeat)
	secured.POST("/presence/page", presenceHandler.UpdatePage)
}

// activityMiddleware reports authenticated requests to the activity sink.
func activityMiddleware(onActivity func(userID uint64)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if onActivity != nil {
			if value, ok := c.Get("userID"); ok {
				if id, okCast := value.(uint64); okCast {
					onActivity(id)
				}
			}
		}
		c.Next()
	}
}
