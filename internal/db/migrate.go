package db

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
)

// Migrate creates or updates the schema for all managed tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if err := conn.AutoMigrate(
		&models.Admin{},
		&models.Presence{},
		&models.SessionHistory{},
		&models.AuditEvent{},
		&models.Setting{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return backfillAdminColumns(conn)
}

// backfillAdminColumns covers schemas created before TOTP enablement became
// a distinct flag: any row carrying a secret is treated as enabled.
func backfillAdminColumns(conn *gorm.DB) error {
	migrator := conn.Migrator()
	if !migrator.HasColumn(&models.Admin{}, "totp_enabled") {
		return nil
	}
	if errExec := conn.Exec(
		"UPDATE admins SET totp_enabled = ? WHERE totp_secret IS NOT NULL AND totp_secret <> '' AND totp_enabled = ?",
		true, false,
	).Error; errExec != nil {
		return fmt.Errorf("db: backfill totp_enabled: %w", errExec)
	}
	return nil
}

// SeedBootstrapAdmin inserts an initial super admin when the table is empty.
// The generated password is logged once so the operator can complete first
// login; the account must enroll TOTP before touching sensitive routes.
func SeedBootstrapAdmin(conn *gorm.DB, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("db: hash bootstrap password: %w", errHash)
	}
	admin := models.Admin{
		Email:    email,
		Password: hash,
		Role:     models.RoleSuperAdmin,
		Active:   true,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("db: seed admin: %w", errCreate)
	}
	log.WithField("email", email).Warn("seeded bootstrap super admin; rotate its password immediately")
	return nil
}
