package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsboard/backoffice/internal/presence"
)

// PresenceHandler exposes the online-admin roster and heartbeat endpoints.
type PresenceHandler struct {
	registry *presence.Registry
}

// NewPresenceHandler constructs a PresenceHandler.
func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

// rosterEntryJSON shapes one roster entry for the UI.
type rosterEntryJSON struct {
	UserID                 uint64 `json:"user_id"`
	Email                  string `json:"email"`
	Role                   string `json:"role"`
	CurrentPage            string `json:"current_page,omitempty"`
	OnlineAt               string `json:"online_at"`
	LastSeenAt             string `json:"last_seen_at"`
	SessionDurationSeconds int64  `json:"session_duration_seconds"`
	Freshness              string `json:"freshness"`
}

// Roster returns the shared online-admin roster with freshness classes.
func (h *PresenceHandler) Roster(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	manager, ok := h.registry.Get(adminID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"admins": []rosterEntryJSON{}, "count": 0})
		return
	}

	entries := manager.Roster()
	admins := make([]rosterEntryJSON, 0, len(entries))
	for _, entry := range entries {
		admins = append(admins, rosterEntryJSON{
			UserID:                 entry.UserID,
			Email:                  entry.Email,
			Role:                   entry.Role,
			CurrentPage:            entry.CurrentPage,
			OnlineAt:               entry.OnlineAt.UTC().Format(time.RFC3339),
			LastSeenAt:             entry.LastSeenAt.UTC().Format(time.RFC3339),
			SessionDurationSeconds: entry.SessionDurationSeconds,
			Freshness:              entry.Freshness,
		})
	}
	c.JSON(http.StatusOK, gin.H{"admins": admins, "count": len(admins)})
}

// Heartbeat refreshes the caller's last-seen time. A heartbeat after the
// session manager is gone still succeeds so stale tabs never error out.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	if manager, live := h.registry.Get(adminID); live {
		manager.Touch(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// updatePageRequest defines the request body for page navigation updates.
type updatePageRequest struct {
	Path string `json:"path"`
}

// UpdatePage records the caller's current page for the roster.
func (h *PresenceHandler) UpdatePage(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin not found"})
		return
	}

	var body updatePageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is required"})
		return
	}
	path := strings.TrimSpace(body.Path)
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is required"})
		return
	}

	if manager, live := h.registry.Get(adminID); live {
		manager.UpdateCurrentPage(c.Request.Context(), path)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
