package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Moderation job statuses.
const (
	JobStatusPending     = "pending"
	JobStatusPassed      = "passed"
	JobStatusBlocked     = "blocked"
	JobStatusFlagged     = "flagged"
	JobStatusQuarantined = "quarantined"
	JobStatusNeedsReview = "needs_review"
	JobStatusAppealed    = "appealed"
	JobStatusResolved    = "resolved"
)

// Enforcement actions a decision can apply to the subject.
const (
	ActionAllow       = "allow"
	ActionBlock       = "block"
	ActionBlur        = "blur"
	ActionAgeGate     = "age_gate"
	ActionHoldPublish = "hold_publish"
)

// DecisionEscalate routes the job back to the unassigned pool instead of
// applying an enforcement action.
const DecisionEscalate = "escalate"

// Escalation priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Appeal resolutions.
const (
	AppealUpheld     = "upheld"
	AppealOverturned = "overturned"
	AppealDismissed  = "dismissed"
)

// Subject types a moderation job can reference.
var ValidSubjectTypes = map[string]bool{
	"upload":    true,
	"transform": true,
	"battle":    true,
	"profile":   true,
	"comment":   true,
	"message":   true,
}

var ValidJobStatuses = map[string]bool{
	JobStatusPending:     true,
	JobStatusPassed:      true,
	JobStatusBlocked:     true,
	JobStatusFlagged:     true,
	JobStatusQuarantined: true,
	JobStatusNeedsReview: true,
	JobStatusAppealed:    true,
	JobStatusResolved:    true,
}

var ValidDecisions = map[string]bool{
	ActionAllow:       true,
	ActionBlock:       true,
	ActionBlur:        true,
	ActionAgeGate:     true,
	ActionHoldPublish: true,
	DecisionEscalate:  true,
}

var ValidPriorities = map[string]bool{
	PriorityNormal: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

var ValidAppealResolutions = map[string]bool{
	AppealUpheld:     true,
	AppealOverturned: true,
	AppealDismissed:  true,
}

// ModerationJob is the unit of review for one flagged content subject.
// Subject, labels and scores are written once by the scan intake and never
// change; everything else moves only through the workflow service.
type ModerationJob struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectType    string    `gorm:"size:20;not null;index" json:"subject_type"`
	SubjectID      string    `gorm:"size:255;not null;index" json:"subject_id"`
	SubjectOwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_owner_id"`

	Status string         `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Labels datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"labels"`
	Scores datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"scores"`
	Action *string        `gorm:"size:20" json:"action,omitempty"`

	AssignedTo *uuid.UUID `gorm:"type:uuid;index" json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	ReviewedBy     *uuid.UUID `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Decision       *string    `gorm:"size:20" json:"decision,omitempty"`
	DecisionReason string     `gorm:"size:500" json:"decision_reason,omitempty"`
	DecisionNotes  string     `gorm:"size:2000" json:"decision_notes,omitempty"`

	EscalationReason   string     `gorm:"size:500" json:"escalation_reason,omitempty"`
	EscalationPriority string     `gorm:"size:10;index" json:"escalation_priority,omitempty"`
	EscalatedAt        *time.Time `json:"escalated_at,omitempty"`
	EscalatedBy        *uuid.UUID `gorm:"type:uuid" json:"escalated_by,omitempty"`

	AppealOpen       bool       `gorm:"not null;default:false;index" json:"appeal_open"`
	AppealMessage    string     `gorm:"size:2000" json:"appeal_message,omitempty"`
	AppealOpenedAt   *time.Time `json:"appeal_opened_at,omitempty"`
	AppealResolvedAt *time.Time `json:"appeal_resolved_at,omitempty"`
	AppealResolvedBy *uuid.UUID `gorm:"type:uuid" json:"appeal_resolved_by,omitempty"`
	AppealResolution string     `gorm:"size:20" json:"appeal_resolution,omitempty"`

	AuditTrail datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"audit_trail"`
	IsActive   bool           `gorm:"not null;default:true;index" json:"is_active"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ModerationJob) TableName() string {
	return "moderation_jobs"
}

// TrailEntry is one element of a job's local audit_trail mirror.
type TrailEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Change string    `json:"change"`
	Note   string    `json:"note,omitempty"`
}

// Decided reports whether the job carries a recorded decision.
func (j *ModerationJob) Decided() bool {
	return j.Decision != nil && j.ReviewedAt != nil
}
