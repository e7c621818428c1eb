package models

import (
	"time"
)

// Admin role values stored in the role column.
const (
	// RoleAdmin grants access to the back office.
	RoleAdmin = "admin"
	// RoleSuperAdmin grants access to the back office plus role management.
	RoleSuperAdmin = "super_admin"
	// RoleUser is a plain account with no back-office access.
	RoleUser = "user"
)

// Admin represents an administrator identity stored in the database. The
// security core reads these rows but never mutates credential fields outside
// of MFA enrollment.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique login email.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Role   string `gorm:"type:text;not null;default:'user'"` // admin, super_admin or user.
	Active bool   `gorm:"not null;default:true"`             // Whether the admin can sign in.

	EmailConfirmedAt *time.Time `gorm:"type:timestamp"` // Nil until the email is confirmed.

	TOTPSecret  string `gorm:"type:text"`              // TOTP shared secret, empty when disabled.
	TOTPEnabled bool   `gorm:"not null;default:false"` // Whether TOTP is required at login.

	BackupCodes string `gorm:"type:text"` // Comma-joined hashed recovery codes.

	PasskeyID             []byte  `gorm:"type:bytea"`   // WebAuthn credential ID.
	PasskeyPublicKey      []byte  `gorm:"type:bytea"`   // WebAuthn public key bytes.
	PasskeySignCount      *uint32 `gorm:"type:bigint"`  // WebAuthn signature counter.
	PasskeyBackupEligible *bool   `gorm:"type:boolean"` // WebAuthn backup eligibility flag.
	PasskeyBackupState    *bool   `gorm:"type:boolean"` // WebAuthn backup state flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsBackOfficeRole reports whether the role grants back-office access.
func IsBackOfficeRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}
