package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Audit actions.
const (
	AuditModerationDecision = "moderation_decision"
	AuditEnforcement        = "enforcement"
	AuditTribeEdit          = "tribe_edit"
	AuditLeaderboardAdjust  = "leaderboard_adjust"
	AuditEntitlementChange  = "entitlement_change"
	AuditConfigUpdate       = "config_update"
	AuditUserBan            = "user_ban"
	AuditUserUnban          = "user_unban"
	AuditFraudAction        = "fraud_action"
	AuditAppealResolution   = "appeal_resolution"
	AuditAdminLogin         = "admin_login"
	AuditAdminLogout        = "admin_logout"
	AuditRoleChange         = "role_change"
	AuditPermissionChange   = "permission_change"
	AuditSystemEvent        = "system_event"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Categories.
const (
	CategoryModeration      = "moderation"
	CategoryFraud           = "fraud"
	CategoryUserManagement  = "user_management"
	CategoryTribeManagement = "tribe_management"
	CategorySystem          = "system"
	CategorySecurity        = "security"
)

// Actor types.
const (
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

// AuditLog is one append-only ledger entry for a privileged state change.
// Rows are immutable after insert except the four Reversed* fields, which
// flip exactly once and only when IsReversible is set.
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ActorType  string    `gorm:"size:10;not null" json:"actor_type"`
	ActorID    uuid.UUID `gorm:"type:uuid;not null;index" json:"actor_id"`
	ActorEmail string    `gorm:"size:255" json:"actor_email,omitempty"`

	Action     string `gorm:"size:50;not null;index" json:"action"`
	TargetType string `gorm:"size:50;not null;index:idx_audit_target" json:"target_type"`
	TargetID   string `gorm:"size:255;not null;index:idx_audit_target" json:"target_id"`
	TargetName string `gorm:"size:255" json:"target_name,omitempty"`

	Before   datatypes.JSON `gorm:"type:jsonb" json:"before,omitempty"`
	After    datatypes.JSON `gorm:"type:jsonb" json:"after,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"metadata,omitempty"`

	Reason   string         `gorm:"size:1000;not null" json:"reason"`
	Severity string         `gorm:"size:10;not null;index" json:"severity"`
	Category string         `gorm:"size:30;not null;index" json:"category"`
	Tags     datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"tags"`

	IsReversible   bool       `gorm:"not null;default:false" json:"is_reversible"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	ReversedBy     *uuid.UUID `gorm:"type:uuid" json:"reversed_by,omitempty"`
	ReversedReason string     `gorm:"size:1000" json:"reversed_reason,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// Reversed reports whether the entry has already been marked undone.
func (a *AuditLog) Reversed() bool {
	return a.ReversedAt != nil
}
