package handlers

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/db"
	relayhttp "github.com/opsboard/backoffice/internal/http"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
	"github.com/opsboard/backoffice/internal/util"
)

// ceremonyEntry stores WebAuthn session data with expiry.
type ceremonyEntry struct {
	data    webauthn.SessionData
	expires time.Time
}

// ceremonyStore keeps in-flight WebAuthn ceremonies in memory.
type ceremonyStore struct {
	mu    sync.Mutex
	items map[string]ceremonyEntry
}

// newCeremonyStore creates an empty ceremony store.
func newCeremonyStore() *ceremonyStore {
	return &ceremonyStore{items: make(map[string]ceremonyEntry)}
}

// Set stores ceremony data with expiry.
func (s *ceremonyStore) Set(key string, data webauthn.SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := data.Expires
	if expires.IsZero() {
		expires = time.Now().Add(5 * time.Minute)
	}
	s.items[key] = ceremonyEntry{data: data, expires: expires}
}

// Get returns ceremony data if present and not expired.
func (s *ceremonyStore) Get(key string) (webauthn.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return webauthn.SessionData{}, false
	}
	if time.Now().After(entry.expires) {
		delete(s.items, key)
		return webauthn.SessionData{}, false
	}
	return entry.data, true
}

// Delete removes a ceremony entry.
func (s *ceremonyStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// adminWebAuthnUser adapts an admin model to WebAuthn interfaces.
type adminWebAuthnUser struct {
	id          uint64
	email       string
	credentials []webauthn.Credential
}

// WebAuthnID returns the admin ID as a byte slice.
func (u adminWebAuthnUser) WebAuthnID() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u.id)
	return buf
}

// WebAuthnName returns the admin email.
func (u adminWebAuthnUser) WebAuthnName() string {
	return u.email
}

// WebAuthnDisplayName returns the admin display name.
func (u adminWebAuthnUser) WebAuthnDisplayName() string {
	return u.email
}

// WebAuthnCredentials returns registered credentials.
func (u adminWebAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// newAdminWebAuthnUser builds a WebAuthn adapter from an admin model.
func newAdminWebAuthnUser(admin models.Admin) adminWebAuthnUser {
	user := adminWebAuthnUser{
		id:    admin.ID,
		email: admin.Email,
	}
	if len(admin.PasskeyID) > 0 && len(admin.PasskeyPublicKey) > 0 {
		signCount := uint32(0)
		if admin.PasskeySignCount != nil {
			signCount = *admin.PasskeySignCount
		}
		flags := webauthn.CredentialFlags{}
		if admin.PasskeyBackupEligible != nil {
			flags.BackupEligible = *admin.PasskeyBackupEligible
		}
		if admin.PasskeyBackupState != nil {
			flags.BackupState = *admin.PasskeyBackupState
		}
		user.credentials = []webauthn.Credential{
			{
				ID:        admin.PasskeyID,
				PublicKey: admin.PasskeyPublicKey,
				Flags:     flags,
				Authenticator: webauthn.Authenticator{
					SignCount: signCount,
				},
			},
		}
	}
	return user
}

// In-memory ceremony stores for passkey registration and login.
var (
	// passkeyRegistrationCeremonies stores in-flight registration ceremonies.
	passkeyRegistrationCeremonies = newCeremonyStore()
	// passkeyLoginCeremonies stores in-flight login ceremonies.
	passkeyLoginCeremonies = newCeremonyStore()
)

// loadWebAuthn loads WebAuthn configuration.
func loadWebAuthn() (*webauthn.WebAuthn, error) {
	return security.NewWebAuthn()
}

// BeginPasskeyRegistration starts a passkey registration ceremony.
func (h *MFAHandler) BeginPasskeyRegistration(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn()
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkey not configured"})
		return
	}

	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "email", "passkey_id", "passkey_public_key", "passkey_sign_count", "passkey_backup_eligible", "passkey_backup_state").
		First(&admin, adminID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	user := newAdminWebAuthnUser(admin)
	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationPreferred,
		}),
	}
	if len(user.WebAuthnCredentials()) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.WebAuthnCredentials()).CredentialDescriptors()))
	}

	creation, session, err := webAuthn.BeginRegistration(user, options...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Begin passkey registration failed"})
		return
	}

	passkeyRegistrationCeremonies.Set(fmt.Sprintf("%d", admin.ID), *session)
	c.JSON(http.StatusOK, creation)
}

// FinishPasskeyRegistration completes a passkey registration ceremony.
func (h *MFAHandler) FinishPasskeyRegistration(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn()
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkey not configured"})
		return
	}

	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "email", "passkey_id", "passkey_public_key", "passkey_sign_count").
		First(&admin, adminID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	session, ok := passkeyRegistrationCeremonies.Get(fmt.Sprintf("%d", admin.ID))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Registration expired"})
		return
	}

	user := newAdminWebAuthnUser(admin)
	credential, err := webAuthn.FinishRegistration(user, session, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Registration failed"})
		return
	}

	signCount := credential.Authenticator.SignCount
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{
			"passkey_id":              credential.ID,
			"passkey_public_key":      credential.PublicKey,
			"passkey_sign_count":      signCount,
			"passkey_backup_eligible": credential.Flags.BackupEligible,
			"passkey_backup_state":    credential.Flags.BackupState,
			"updated_at":              time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}

	passkeyRegistrationCeremonies.Delete(fmt.Sprintf("%d", admin.ID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DisablePasskey removes the admin's passkey credentials.
func (h *MFAHandler) DisablePasskey(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{
			"passkey_id":              nil,
			"passkey_public_key":      nil,
			"passkey_sign_count":      nil,
			"passkey_backup_eligible": nil,
			"passkey_backup_state":    nil,
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	passkeyRegistrationCeremonies.Delete(fmt.Sprintf("%d", adminID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// loginPasskeyRequest defines the request body for passkey login options.
type loginPasskeyRequest struct {
	Email string `json:"email"`
}

// LoginPasskeyOptions starts a passkey login ceremony.
func (h *AuthHandler) LoginPasskeyOptions(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn()
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkey not configured"})
		return
	}

	var body loginPasskeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}

	admin, ok := h.findPasskeyAdmin(c, email)
	if !ok {
		return
	}

	user := newAdminWebAuthnUser(*admin)
	assertion, session, err := webAuthn.BeginLogin(user, webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Begin passkey login failed"})
		return
	}

	passkeyLoginCeremonies.Set(email, *session)
	c.JSON(http.StatusOK, assertion)
}

// LoginPasskeyVerify completes a passkey login ceremony. A passkey assertion
// satisfies the second factor, so the session starts with a fresh stamp.
func (h *AuthHandler) LoginPasskeyVerify(c *gin.Context) {
	webAuthn, errWebAuthn := loadWebAuthn()
	if errWebAuthn != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Passkey not configured"})
		return
	}

	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}

	admin, ok := h.findPasskeyAdmin(c, email)
	if !ok {
		return
	}

	session, ok := passkeyLoginCeremonies.Get(email)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Login expired"})
		return
	}

	rawBody, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

	var derivedBackupEligible *bool
	var derivedBackupState *bool
	if admin.PasskeyBackupEligible == nil || admin.PasskeyBackupState == nil {
		parsed, errParse := protocol.ParseCredentialRequestResponseBytes(rawBody)
		if errParse != nil {
			log.WithError(errParse).WithField("email", util.MaskEmail(email)).Warn("passkey login parse failed")
		} else {
			backupEligible := parsed.Response.AuthenticatorData.Flags.HasBackupEligible()
			backupState := parsed.Response.AuthenticatorData.Flags.HasBackupState()
			derivedBackupEligible = &backupEligible
			derivedBackupState = &backupState
		}
	}

	user := newAdminWebAuthnUser(*admin)
	if derivedBackupEligible != nil && len(user.credentials) > 0 {
		user.credentials[0].Flags.BackupEligible = *derivedBackupEligible
		user.credentials[0].Flags.BackupState = *derivedBackupState
	}
	credential, err := webAuthn.FinishLogin(user, session, c.Request)
	if err != nil {
		log.WithError(err).WithField("email", util.MaskEmail(email)).Warn("passkey login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login failed"})
		return
	}

	signCount := credential.Authenticator.SignCount
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Updates(map[string]any{
			"passkey_sign_count":      signCount,
			"passkey_backup_eligible": credential.Flags.BackupEligible,
			"passkey_backup_state":    credential.Flags.BackupState,
			"updated_at":              time.Now().UTC(),
		}).Error; errUpdate != nil {
		// A stale counter weakens clone detection on the next assertion.
		log.WithError(errUpdate).WithField("email", util.MaskEmail(email)).Warn("passkey sign count update failed")
	}

	passkeyLoginCeremonies.Delete(email)

	stamp, errStamp := security.GenerateStamp(h.tokens.Secret, h.tokens.StampTTL)
	if errStamp != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	relayhttp.SetStampCookie(c, h.cookies, stamp, h.tokens.StampTTL)

	h.startSession(c, admin, true)
}

// findPasskeyAdmin loads an active passkey-enabled admin by email, writing
// the error response itself when the lookup fails.
func (h *AuthHandler) findPasskeyAdmin(c *gin.Context, email string) (*models.Admin, bool) {
	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "email", "role", "active", "totp_enabled", "passkey_id", "passkey_public_key", "passkey_sign_count", "passkey_backup_eligible", "passkey_backup_state").
		Where(db.CaseInsensitiveEqExpr(h.db, "email"), db.NormalizeEqValue(h.db, email)).
		First(&admin).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return nil, false
	}
	if !admin.Active {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return nil, false
	}
	if len(admin.PasskeyID) == 0 || len(admin.PasskeyPublicKey) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Passkey not enabled"})
		return nil, false
	}
	return &admin, true
}
