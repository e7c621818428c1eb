package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent is an append-only record of a security-relevant transition.
// Rows are only ever inserted.
type AuditEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID string `gorm:"type:text;not null;uniqueIndex"` // UUID for external correlation.

	Action       string `gorm:"type:text;not null;index"` // e.g. login, two_factor_failed.
	ResourceType string `gorm:"type:text;not null"`       // Resource category acted on.
	ResourceID   string `gorm:"type:text"`                // Resource identifier, if any.
	ActorID      uint64 `gorm:"index"`                    // Acting admin, zero when unknown.
	Outcome      string `gorm:"type:text;not null"`       // success or failure.

	IPAddress string `gorm:"type:text"` // Client IP.
	UserAgent string `gorm:"type:text"` // Client user agent.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Classification detail, never surfaced to clients.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Event timestamp.
}
