package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/audit"
	"github.com/opsboard/backoffice/internal/auth"
	relayhttp "github.com/opsboard/backoffice/internal/http"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/presence"
	"github.com/opsboard/backoffice/internal/security"
)

// backupCodePattern matches an 8-hex-character recovery code.
var backupCodePattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	db            *gorm.DB
	authenticator *auth.Authenticator
	resolver      auth.SessionResolver
	recorder      *audit.Recorder
	presence      *presence.Registry
	tokens        TokenConfig
	cookies       CookieOptions
	onSessionEnd  func(userID uint64)
}

// OnSessionEnd registers a hook fired with the admin ID whenever a session
// ends through logout, so collaborators like the inactivity watchdog can
// release per-admin state.
func (h *AuthHandler) OnSessionEnd(hook func(userID uint64)) {
	h.onSessionEnd = hook
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, authenticator *auth.Authenticator, resolver auth.SessionResolver, recorder *audit.Recorder, registry *presence.Registry, tokens TokenConfig, cookies CookieOptions) *AuthHandler {
	return &AuthHandler{
		db:            db,
		authenticator: authenticator,
		resolver:      resolver,
		recorder:      recorder,
		presence:      registry,
		tokens:        tokens,
		cookies:       cookies,
	}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an admin. When TOTP is enabled it issues a short-lived
// challenge token instead of a session; otherwise the session starts here.
// Every failure class answers with the same generic 401 so callers cannot
// distinguish a wrong password from a missing account.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	admin, errAuth := h.authenticator.Authenticate(c.Request.Context(), body.Email, body.Password)
	if errAuth != nil {
		if errors.Is(errAuth, auth.ErrMissingCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
			return
		}
		h.recorder.Record(c.Request.Context(), audit.Event{
			Action:       audit.ActionLoginFailed,
			ResourceType: "admin_session",
			Outcome:      audit.OutcomeFailure,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			Metadata: map[string]any{
				"email":  strings.TrimSpace(body.Email),
				"reason": auth.FailureClass(errAuth),
			},
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if admin.TOTPEnabled {
		challenge, errChallenge := security.GenerateChallengeToken(h.tokens.Secret, admin.ID, h.tokens.ChallengeTTL)
		if errChallenge != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":             true,
			"two_factor_required": true,
			"temporary_token":     challenge,
		})
		return
	}

	h.startSession(c, admin, false)
}

// twoFactorVerifyRequest defines the request body for 2FA verification.
type twoFactorVerifyRequest struct {
	TemporaryToken string `json:"temporary_token"`
	Code           string `json:"code"`
}

// VerifyTwoFactor checks the challenge token plus a TOTP code (or a one-time
// recovery code) and issues the session token and two-factor stamp.
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var body twoFactorVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token and code are required"})
		return
	}
	token := strings.TrimSpace(body.TemporaryToken)
	code := strings.TrimSpace(body.Code)
	if token == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token and code are required"})
		return
	}

	userID, errParse := security.ParseChallengeToken(h.tokens.Secret, token)
	if errParse != nil {
		reason := "malformed_token"
		if errors.Is(errParse, security.ErrChallengeExpired) {
			reason = "challenge_expired"
		}
		h.recordTwoFactorFailure(c, 0, reason)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).First(&admin, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}
	if !admin.Active {
		h.recordTwoFactorFailure(c, admin.ID, "account_deactivated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account deactivated"})
		return
	}
	if !admin.TOTPEnabled || strings.TrimSpace(admin.TOTPSecret) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Two-factor authentication is not enabled"})
		return
	}

	if !h.verifySecondFactor(c, &admin, code) {
		return
	}

	h.recorder.Record(c.Request.Context(), audit.Event{
		Action:       audit.ActionTwoFactorOK,
		ResourceType: "admin_session",
		ActorID:      admin.ID,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})

	stamp, errStamp := security.GenerateStamp(h.tokens.Secret, h.tokens.StampTTL)
	if errStamp != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	relayhttp.SetStampCookie(c, h.cookies, stamp, h.tokens.StampTTL)

	h.startSession(c, &admin, true)
}

// verifySecondFactor accepts either a six-digit TOTP code or an unused
// recovery code. It writes the failure response itself and reports whether
// verification passed.
func (h *AuthHandler) verifySecondFactor(c *gin.Context, admin *models.Admin, code string) bool {
	if backupCodePattern.MatchString(code) {
		if h.consumeBackupCode(c, admin, code) {
			return true
		}
		h.recordTwoFactorFailure(c, admin.ID, "backup_code_mismatch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification code"})
		return false
	}

	ok, errVerify := security.VerifyTOTPCode(admin.TOTPSecret, code)
	if errVerify != nil {
		if errors.Is(errVerify, security.ErrCodeFormat) {
			h.recordTwoFactorFailure(c, admin.ID, "code_format")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Verification code must be 6 digits"})
			return false
		}
		log.WithError(errVerify).Warn("totp verification error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
		return false
	}
	if !ok {
		h.recordTwoFactorFailure(c, admin.ID, "code_mismatch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification code"})
		return false
	}
	return true
}

// consumeBackupCode removes a matching recovery code. Each code works once.
func (h *AuthHandler) consumeBackupCode(c *gin.Context, admin *models.Admin, code string) bool {
	stored := strings.Split(admin.BackupCodes, ",")
	hashed := security.HashBackupCode(code)
	remaining := make([]string, 0, len(stored))
	found := false
	for _, entry := range stored {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !found && entry == hashed {
			found = true
			continue
		}
		remaining = append(remaining, entry)
	}
	if !found {
		return false
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Update("backup_codes", strings.Join(remaining, ",")).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("backup code consume failed")
		return false
	}
	admin.BackupCodes = strings.Join(remaining, ",")
	return true
}

// recordTwoFactorFailure appends a failed-2FA audit event. The reason stays
// in audit metadata; clients only ever see the generic error body.
func (h *AuthHandler) recordTwoFactorFailure(c *gin.Context, actorID uint64, reason string) {
	h.recorder.Record(c.Request.Context(), audit.Event{
		Action:       audit.ActionTwoFactorFailed,
		ResourceType: "admin_session",
		ActorID:      actorID,
		Outcome:      audit.OutcomeFailure,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Metadata:     map[string]any{"reason": reason},
	})
}

// ValidateSession reports whether a bearer session token is still valid.
func (h *AuthHandler) ValidateSession(c *gin.Context) {
	token := sessionTokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Missing session token"})
		return
	}

	session, errResolve := h.resolver.Resolve(c.Request.Context(), token)
	if errResolve != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Invalid session token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "user": adminJSON(session.Admin)})
}

// Logout ends the session. Idempotent: logging out an already-closed session
// still succeeds and performs no duplicate session-end writes.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := sessionTokenFromRequest(c); token != "" {
		if session, errResolve := h.resolver.Resolve(c.Request.Context(), token); errResolve == nil {
			h.recorder.Record(c.Request.Context(), audit.Event{
				Action:       audit.ActionLogout,
				ResourceType: "admin_session",
				ActorID:      session.Admin.ID,
				IPAddress:    c.ClientIP(),
				UserAgent:    c.Request.UserAgent(),
			})
			h.presence.Stop(c.Request.Context(), session.Admin.ID)
			if h.onSessionEnd != nil {
				h.onSessionEnd(session.Admin.ID)
			}
		}
	}

	relayhttp.ClearSessionCookie(c, h.cookies)
	relayhttp.ClearStampCookie(c, h.cookies)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// startSession issues the session token, sets the cookie, records the login
// and begins presence tracking.
func (h *AuthHandler) startSession(c *gin.Context, admin *models.Admin, twoFactorVerified bool) {
	token, errToken := security.GenerateSessionToken(h.tokens.Secret, admin.ID, admin.Email, admin.Role, twoFactorVerified, h.tokens.SessionTTL)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	relayhttp.SetSessionCookie(c, h.cookies, token, h.tokens.SessionTTL)

	h.recorder.Record(c.Request.Context(), audit.Event{
		Action:       audit.ActionLogin,
		ResourceType: "admin_session",
		ActorID:      admin.ID,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Metadata:     map[string]any{"two_factor_verified": twoFactorVerified},
	})

	if errPresence := h.presence.Start(c.Request.Context(), admin.ID, admin.Email, admin.Role, c.ClientIP(), c.Request.UserAgent()); errPresence != nil {
		// Presence faults never break login.
		log.WithError(errPresence).Warn("presence start failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    adminJSON(admin),
		"token":   token,
	})
}

// sessionTokenFromRequest pulls the session token from the Authorization
// header or the session cookie.
func sessionTokenFromRequest(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, errCookie := c.Cookie(relayhttp.SessionCookieName); errCookie == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}
