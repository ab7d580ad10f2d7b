package dto

import (
	"time"

	"github.com/google/uuid"
)

type ReverseAuditRequest struct {
	Reason string `json:"reason"`
}

// AuditFilters narrows the ledger listing.
type AuditFilters struct {
	ActorID    *uuid.UUID
	Action     string
	TargetType string
	TargetID   string
	Category   string
	Severity   string
	Tag        string
	From       *time.Time
	To         *time.Time
}
