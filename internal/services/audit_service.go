package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditService owns the append-only ledger of privileged state changes.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// AuditEntry is the caller-side description of a ledger row. The caller sets
// Reversible only when Before is a complete enough snapshot to restore the
// target by hand.
type AuditEntry struct {
	ActorType  string
	ActorID    uuid.UUID
	ActorEmail string
	Action     string
	TargetType string
	TargetID   string
	TargetName string
	Before     interface{}
	After      interface{}
	Metadata   map[string]interface{}
	Reason     string
	Severity   string
	Category   string
	Tags       []string
	Reversible bool
}

// Record appends one ledger row using the given handle, which may be a
// transaction so the row commits atomically with the mutation it documents.
func (s *AuditService) Record(tx *gorm.DB, e *AuditEntry) (*models.AuditLog, error) {
	if e.Reason == "" {
		return nil, invalidField("reason", "required")
	}
	if e.ActorID == uuid.Nil {
		return nil, invalidField("actor", "required")
	}

	row := models.AuditLog{
		ID:           uuid.New(),
		ActorType:    e.ActorType,
		ActorID:      e.ActorID,
		ActorEmail:   e.ActorEmail,
		Action:       e.Action,
		TargetType:   e.TargetType,
		TargetID:     e.TargetID,
		TargetName:   e.TargetName,
		Reason:       e.Reason,
		Severity:     e.Severity,
		Category:     e.Category,
		IsReversible: e.Reversible,
	}
	if row.ActorType == "" {
		row.ActorType = models.ActorAdmin
	}
	if row.Severity == "" {
		row.Severity = models.SeverityLow
	}

	var err error
	if row.Before, err = marshalJSON(e.Before); err != nil {
		return nil, fmt.Errorf("failed to encode before snapshot: %w", err)
	}
	if row.After, err = marshalJSON(e.After); err != nil {
		return nil, fmt.Errorf("failed to encode after snapshot: %w", err)
	}
	if len(e.Metadata) > 0 {
		if row.Metadata, err = marshalJSON(e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}
	if len(e.Tags) > 0 {
		if row.Tags, err = marshalJSON(e.Tags); err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
	}

	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return &row, nil
}

// Reverse marks a reversible entry as undone and appends a system_event row
// documenting the reversal. It deliberately does NOT restore the target
// entity: callers (or their UI) must re-apply the stored Before snapshot
// themselves if they want the prior state back.
func (s *AuditService) Reverse(entryID, actorID uuid.UUID, actorEmail, reason string) (*models.AuditLog, error) {
	if reason == "" {
		return nil, invalidField("reason", "required")
	}

	var entry models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&entry, "id = ?", entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		if !entry.IsReversible {
			return ErrNotReversible
		}
		if entry.Reversed() {
			return ErrAlreadyReversed
		}

		now := time.Now().UTC()
		res := tx.Model(&models.AuditLog{}).
			Where("id = ? AND is_reversible = ? AND reversed_at IS NULL", entryID, true).
			Updates(map[string]interface{}{
				"reversed_at":     now,
				"reversed_by":     actorID,
				"reversed_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race with a concurrent reversal.
			return ErrAlreadyReversed
		}
		entry.ReversedAt = &now
		entry.ReversedBy = &actorID
		entry.ReversedReason = reason

		_, err := s.Record(tx, &AuditEntry{
			ActorType:  models.ActorAdmin,
			ActorID:    actorID,
			ActorEmail: actorEmail,
			Action:     models.AuditSystemEvent,
			TargetType: "audit_log",
			TargetID:   entry.ID.String(),
			Reason:     reason,
			Severity:   models.SeverityMedium,
			Category:   models.CategorySystem,
			Tags:       []string{"reversal"},
			Metadata: map[string]interface{}{
				"reversed_entry":  entry.ID.String(),
				"original_action": entry.Action,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Get returns one ledger entry.
func (s *AuditService) Get(entryID uuid.UUID) (*models.AuditLog, error) {
	var entry models.AuditLog
	if err := s.db.First(&entry, "id = ?", entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// List returns ledger entries newest first, filtered and keyset-paginated.
func (s *AuditService) List(f *dto.AuditFilters, limit int, cursor string) ([]models.AuditLog, bool, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := s.db.Model(&models.AuditLog{})
	if f != nil {
		if f.ActorID != nil {
			query = query.Where("actor_id = ?", *f.ActorID)
		}
		if f.Action != "" {
			query = query.Where("action = ?", f.Action)
		}
		if f.TargetType != "" {
			query = query.Where("target_type = ?", f.TargetType)
		}
		if f.TargetID != "" {
			query = query.Where("target_id = ?", f.TargetID)
		}
		if f.Category != "" {
			query = query.Where("category = ?", f.Category)
		}
		if f.Severity != "" {
			query = query.Where("severity = ?", f.Severity)
		}
		if f.Tag != "" {
			query = whereTag(query, f.Tag)
		}
		if f.From != nil {
			query = query.Where("created_at >= ?", *f.From)
		}
		if f.To != nil {
			query = query.Where("created_at <= ?", *f.To)
		}
	}
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, false, "", invalidField("cursor", "malformed")
		}
		query = query.Where("(created_at, id) < (?, ?)", ts, id)
	}

	var entries []models.AuditLog
	if err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&entries).Error; err != nil {
		return nil, false, "", err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	next := ""
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return entries, hasMore, next, nil
}

// whereTag matches entries whose jsonb tags array contains the tag. Postgres
// uses the containment operator; other dialects (sqlite in tests) fall back
// to json_each.
func whereTag(query *gorm.DB, tag string) *gorm.DB {
	if query.Dialector.Name() == "postgres" {
		needle, _ := json.Marshal([]string{tag})
		return query.Where("tags @> ?", datatypes.JSON(needle))
	}
	return query.Where("EXISTS (SELECT 1 FROM json_each(audit_logs.tags) WHERE json_each.value = ?)", tag)
}

func marshalJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
