package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/models"
)

// Audit action names written by the security core.
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionLogout          = "logout"
	ActionTwoFactorOK     = "two_factor_success"
	ActionTwoFactorFailed = "two_factor_failed"
	ActionSessionStart    = "session_start"
	ActionSessionEnd      = "session_end"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one security-relevant transition to append.
type Event struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      uint64
	Outcome      string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
}

// Recorder appends audit events. It is constructed once and injected;
// nothing in this package holds package-level state.
type Recorder struct {
	conn *gorm.DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(conn *gorm.DB) *Recorder {
	return &Recorder{conn: conn}
}

// Record appends one event. Failures are logged and swallowed: an audit
// fault must never break the request that triggered it.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.conn == nil {
		return
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}

	var metadata datatypes.JSON
	if len(event.Metadata) > 0 {
		raw, errMarshal := json.Marshal(event.Metadata)
		if errMarshal != nil {
			log.WithError(errMarshal).WithField("action", event.Action).Warn("audit metadata marshal failed")
		} else {
			metadata = datatypes.JSON(raw)
		}
	}

	row := models.AuditEvent{
		EventID:      uuid.NewString(),
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		ActorID:      event.ActorID,
		Outcome:      event.Outcome,
		IPAddress:    event.IPAddress,
		UserAgent:    event.UserAgent,
		Metadata:     metadata,
	}
	if errCreate := r.conn.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("action", event.Action).Warn("audit append failed")
	}
}
