package models

import (
	"time"

	"gorm.io/datatypes"
)

// Presence mirrors the latest known state of an online admin. One row per
// admin, upserted by the heartbeat and on page navigation.
type Presence struct {
	UserID uint64 `gorm:"primaryKey"` // Admin ID, one row per admin.

	Email string `gorm:"type:text;not null"` // Denormalized for roster display.
	Role  string `gorm:"type:text;not null"` // Denormalized for roster display.

	OnlineAt               time.Time `gorm:"not null"`           // When the current appearance began.
	SessionStart           time.Time `gorm:"not null"`           // Start of the underlying admin session.
	LastSeenAt             time.Time `gorm:"not null;index"`     // Updated every heartbeat.
	CurrentPage            string    `gorm:"type:text"`          // Last reported page path.
	SessionDurationSeconds int64     `gorm:"not null;default:0"` // now - SessionStart, recomputed on heartbeat.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Client metadata (ip, geo, user agent).

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last upsert timestamp.
}

// SessionHistory records one admin session from login to cleanup. EndedAt is
// nil while the session is open.
type SessionHistory struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AdminID         uint64     `gorm:"not null;index"`     // Owning admin.
	StartedAt       time.Time  `gorm:"not null"`           // Session start.
	EndedAt         *time.Time `gorm:"type:timestamp"`     // Session end, nil while open.
	DurationSeconds int64      `gorm:"not null;default:0"` // Finalized on cleanup.

	IPAddress string `gorm:"type:text"` // Client IP at session start.
	UserAgent string `gorm:"type:text"` // Client user agent at session start.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Geo and client metadata.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
