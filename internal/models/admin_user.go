package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Admin account statuses.
const (
	AdminActive    = "active"
	AdminInactive  = "inactive"
	AdminSuspended = "suspended"
)

// AdminUser is a back-office principal. Accounts are provisioned out of band;
// the workflow only consumes role, permission overrides and lockout state.
type AdminUser struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string         `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password     string         `gorm:"not null" json:"-"`
	Role         string         `gorm:"size:20;not null;default:'viewer';index" json:"role"`
	Permissions  datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"permissions"`
	Status       string         `gorm:"size:20;not null;default:'active';index" json:"status"`
	TwoFAEnabled bool           `gorm:"not null;default:false" json:"two_fa_enabled"`

	LoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LockUntil     *time.Time `json:"-"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (AdminUser) TableName() string {
	return "admin_users"
}

// Locked reports whether the account is currently locked out.
func (u *AdminUser) Locked() bool {
	return u.LockUntil != nil && u.LockUntil.After(time.Now())
}
