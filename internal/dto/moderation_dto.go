package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateJobRequest is the scan-pipeline intake payload. Labels and scores are
// immutable once the job exists.
type CreateJobRequest struct {
	SubjectType    string             `json:"subject_type"`
	SubjectID      string             `json:"subject_id"`
	SubjectOwnerID uuid.UUID          `json:"subject_owner_id"`
	Labels         []string           `json:"labels"`
	Scores         map[string]float64 `json:"scores"`
}

type AssignRequest struct {
	AssigneeID uuid.UUID `json:"assignee_id"`
}

type DecideRequest struct {
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
	NotifyUser bool   `json:"notify_user"`
}

type EscalateRequest struct {
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
}

type OpenAppealRequest struct {
	Message string `json:"message"`
}

type ResolveAppealRequest struct {
	Resolution string `json:"resolution"`
	Reason     string `json:"reason"`
}

// QueueFilters narrows the moderation queue listing.
type QueueFilters struct {
	Status      string
	SubjectType string
	AssignedTo  *uuid.UUID
	Priority    string
	Appealed    *bool
	From        *time.Time
	To          *time.Time
}

// QueueStats is the derived, read-only summary of the moderation queue.
type QueueStats struct {
	Total          int64            `json:"total"`
	ByStatus       map[string]int64 `json:"by_status"`
	ApprovalRate   float64          `json:"approval_rate"`
	BlockRate      float64          `json:"block_rate"`
	AvgReviewHours float64          `json:"avg_review_hours"`
	OpenAppeals    int64            `json:"open_appeals"`
}
