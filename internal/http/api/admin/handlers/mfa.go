package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/db"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
	"github.com/opsboard/backoffice/internal/settings"
)

// MFAHandler handles TOTP enrollment endpoints for admins.
type MFAHandler struct {
	db      *gorm.DB
	pending *pendingSecretStore
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{db: db, pending: newPendingSecretStore()}
}

// pendingEnrollment stores an unconfirmed TOTP enrollment with expiry.
type pendingEnrollment struct {
	enrollment *security.TOTPEnrollment
	expires    time.Time
}

// pendingSecretStore keeps unconfirmed TOTP enrollments in memory. An
// enrollment only reaches the database once the admin proves possession of
// the secret by confirming a code.
type pendingSecretStore struct {
	mu    sync.Mutex
	items map[string]pendingEnrollment
}

// newPendingSecretStore creates an empty store.
func newPendingSecretStore() *pendingSecretStore {
	return &pendingSecretStore{items: make(map[string]pendingEnrollment)}
}

// Set stores an enrollment with a 10 minute expiry.
func (s *pendingSecretStore) Set(key string, enrollment *security.TOTPEnrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = pendingEnrollment{enrollment: enrollment, expires: time.Now().Add(10 * time.Minute)}
}

// Get returns an enrollment if present and not expired.
func (s *pendingSecretStore) Get(key string) (*security.TOTPEnrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(s.items, key)
		return nil, false
	}
	return entry.enrollment, true
}

// Delete removes an enrollment entry.
func (s *pendingSecretStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Status returns MFA enablement status for the admin.
func (h *MFAHandler) Status(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "totp_enabled", "passkey_id", "passkey_public_key").
		First(&admin, adminID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totp_enabled":    admin.TOTPEnabled,
		"passkey_enabled": len(admin.PasskeyID) > 0 && len(admin.PasskeyPublicKey) > 0,
	})
}

// PrepareTOTP generates a new TOTP secret, provisioning URI, QR code and
// recovery codes. Nothing is persisted until ConfirmTOTP succeeds.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Select("id", "email").First(&admin, adminID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	issuer := settings.String(settings.SiteNameKey)
	if issuer == "" {
		issuer = settings.DefaultSiteName
	}
	enrollment, errGenerate := security.GenerateTOTPSecret(issuer, admin.Email)
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Generate TOTP secret failed"})
		return
	}
	h.pending.Set(fmt.Sprintf("%d", admin.ID), enrollment)

	qrImage := ""
	if img, errImage := enrollment.Key.Image(220, 220); errImage == nil {
		var buf bytes.Buffer
		if errEncode := png.Encode(&buf, img); errEncode == nil {
			qrImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":       enrollment.Secret,
		"otpauth_url":  enrollment.ProvisioningURI,
		"qr_image":     qrImage,
		"backup_codes": enrollment.BackupCodes,
	})
}

// totpConfirmRequest defines the request body for confirming TOTP.
type totpConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP validates a code against the pending secret and enables TOTP.
// Recovery codes are stored hashed; the plaintext was shown once at prepare.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}
	var body totpConfirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing code"})
		return
	}

	key := fmt.Sprintf("%d", adminID)
	enrollment, ok := h.pending.Get(key)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "TOTP setup expired"})
		return
	}

	valid, errVerify := security.VerifyTOTPCode(enrollment.Secret, code)
	if errVerify != nil {
		if errors.Is(errVerify, security.ErrCodeFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Verification code must be 6 digits"})
			return
		}
		log.WithError(errVerify).Warn("totp confirm verification error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
		return
	}
	if !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid code"})
		return
	}

	hashedCodes := make([]string, 0, len(enrollment.BackupCodes))
	for _, backupCode := range enrollment.BackupCodes {
		hashedCodes = append(hashedCodes, security.HashBackupCode(backupCode))
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{
			"totp_secret":  enrollment.Secret,
			"totp_enabled": true,
			"backup_codes": strings.Join(hashedCodes, ","),
			"updated_at":   time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}

	h.pending.Delete(key)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DisableTOTP removes the admin's TOTP secret and recovery codes.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{
			"totp_secret":  "",
			"totp_enabled": false,
			"backup_codes": "",
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	h.pending.Delete(fmt.Sprintf("%d", adminID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// loginPrepareRequest defines the request body for the MFA discovery call.
type loginPrepareRequest struct {
	Email string `json:"email"`
}

// LoginPrepare reports which MFA methods are available prior to login. It
// intentionally answers the same 401 for unknown and known-but-disabled
// accounts.
func (h *AuthHandler) LoginPrepare(c *gin.Context) {
	var body loginPrepareRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "email", "active", "totp_enabled", "passkey_id", "passkey_public_key").
		Where(db.CaseInsensitiveEqExpr(h.db, "email"), db.NormalizeEqValue(h.db, email)).
		First(&admin).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	passkeyEnabled := len(admin.PasskeyID) > 0 && len(admin.PasskeyPublicKey) > 0
	c.JSON(http.StatusOK, gin.H{
		"mfa_enabled":     admin.TOTPEnabled || passkeyEnabled,
		"totp_enabled":    admin.TOTPEnabled,
		"passkey_enabled": passkeyEnabled,
	})
}
