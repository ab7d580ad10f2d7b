package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/models"
	"github.com/glowmorph/backend/internal/notify"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor is the principal performing a workflow operation. System actors
// (automation, scan intake) bypass the permission matrix; they run the same
// code paths as interactive admins otherwise.
type Actor struct {
	ID        uuid.UUID
	Email     string
	Type      string // models.ActorAdmin or models.ActorSystem
	Role      string
	Overrides []rbac.Override
}

// SystemActor is the principal used by automation policies and intake.
var SystemActor = Actor{
	ID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	Type: models.ActorSystem,
}

// ModerationService orchestrates the moderation job state machine: queue
// retrieval, atomic assignment, decisions, escalation and appeals. Every
// mutation commits together with exactly one audit ledger row.
type ModerationService struct {
	db       *gorm.DB
	audit    *AuditService
	notifier notify.Notifier
}

func NewModerationService(db *gorm.DB, audit *AuditService, notifier notify.Notifier) *ModerationService {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &ModerationService{db: db, audit: audit, notifier: notifier}
}

func (s *ModerationService) authorize(actor Actor, action string) error {
	if actor.Type == models.ActorSystem {
		return nil
	}
	if !rbac.HasPermission(actor.Role, actor.Overrides, rbac.ResourceModeration, action) {
		return ErrForbidden
	}
	return nil
}

// CreateJob is the scan-pipeline intake. Labels and scores are stored once
// and never updated afterwards.
func (s *ModerationService) CreateJob(req *dto.CreateJobRequest) (*models.ModerationJob, error) {
	if !models.ValidSubjectTypes[req.SubjectType] {
		return nil, invalidField("subject_type", "must be one of upload, transform, battle, profile, comment, message")
	}
	if req.SubjectID == "" {
		return nil, invalidField("subject_id", "required")
	}
	if req.SubjectOwnerID == uuid.Nil {
		return nil, invalidField("subject_owner_id", "required")
	}

	labels, err := marshalJSON(req.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode labels: %w", err)
	}
	scores, err := marshalJSON(req.Scores)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scores: %w", err)
	}
	if labels == nil {
		labels = datatypes.JSON("[]")
	}
	if scores == nil {
		scores = datatypes.JSON("{}")
	}

	job := models.ModerationJob{
		ID:             uuid.New(),
		SubjectType:    req.SubjectType,
		SubjectID:      req.SubjectID,
		SubjectOwnerID: req.SubjectOwnerID,
		Status:         models.JobStatusPending,
		Labels:         labels,
		Scores:         scores,
		AuditTrail:     datatypes.JSON("[]"),
		IsActive:       true,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("failed to create moderation job: %w", err)
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  models.ActorSystem,
			ActorID:    SystemActor.ID,
			Action:     models.AuditSystemEvent,
			TargetType: "moderation",
			TargetID:   job.ID.String(),
			Reason:     "scan pipeline flagged content for review",
			Severity:   models.SeverityLow,
			Category:   models.CategoryModeration,
			Tags:       []string{"intake"},
			After:      job,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns one job.
func (s *ModerationService) GetJob(jobID uuid.UUID) (*models.ModerationJob, error) {
	var job models.ModerationJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Assign claims an unassigned job for a reviewer. The claim is a conditional
// update on assigned_to IS NULL so two racing callers cannot both win.
// Re-assigning a job to the principal who already holds it is a no-op.
func (s *ModerationService) Assign(jobID uuid.UUID, actor Actor, assigneeID uuid.UUID) (*models.ModerationJob, error) {
	if err := s.authorize(actor, rbac.ActionAssign); err != nil {
		return nil, err
	}

	var assignee models.AdminUser
	if err := s.db.First(&assignee, "id = ?", assigneeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.AssignedTo != nil {
		if *job.AssignedTo == assigneeID {
			return job, nil
		}
		return nil, ErrAlreadyAssigned
	}

	now := time.Now().UTC()
	trail, err := appendTrail(job.AuditTrail, models.TrailEntry{
		At:     now,
		Actor:  actorLabel(actor),
		Change: "assigned to " + assignee.Email,
	})
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationJob{}).
			Where("id = ? AND assigned_to IS NULL", jobID).
			Updates(map[string]interface{}{
				"assigned_to": assigneeID,
				"assigned_at": now,
				"status":      models.JobStatusNeedsReview,
				"audit_trail": trail,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyAssigned
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			ActorEmail: actor.Email,
			Action:     models.AuditModerationDecision,
			TargetType: "moderation",
			TargetID:   job.ID.String(),
			Reason:     "job assigned for review",
			Severity:   models.SeverityLow,
			Category:   models.CategoryModeration,
			Tags:       []string{"assignment"},
			Metadata:   map[string]interface{}{"assignee": assigneeID.String()},
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyAssigned) {
			// Raced with another claim; still an idempotent success if the
			// winner was the same assignee.
			if cur, gerr := s.GetJob(jobID); gerr == nil && cur.AssignedTo != nil && *cur.AssignedTo == assigneeID {
				return cur, nil
			}
		}
		return nil, err
	}
	return s.GetJob(jobID)
}

// Decide records a reviewer's decision and applies the mapped status and
// enforcement action. Escalation decisions return the job to the unassigned
// pool at high priority instead of concluding it.
func (s *ModerationService) Decide(jobID uuid.UUID, actor Actor, req *dto.DecideRequest) (*models.ModerationJob, error) {
	if err := s.authorize(actor, rbac.ActionDecide); err != nil {
		return nil, err
	}
	if !models.ValidDecisions[req.Decision] {
		return nil, invalidField("decision", "must be one of allow, block, blur, age_gate, hold_publish, escalate")
	}
	if req.Reason == "" {
		return nil, invalidField("reason", "required")
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusResolved {
		return nil, ErrAlreadyResolved
	}
	before := *job

	// A decision ends the review, so the job always leaves the assignment
	// pool: assigned_to is only ever set while status is needs_review.
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"reviewed_by":     actor.ID,
		"reviewed_at":     now,
		"decision":        req.Decision,
		"decision_reason": req.Reason,
		"decision_notes":  req.Notes,
		"assigned_to":     nil,
		"assigned_at":     nil,
	}
	severity := models.SeverityMedium
	switch req.Decision {
	case models.ActionAllow:
		updates["status"] = models.JobStatusPassed
		updates["action"] = models.ActionAllow
	case models.ActionBlock:
		updates["status"] = models.JobStatusBlocked
		updates["action"] = models.ActionBlock
		severity = models.SeverityHigh
	case models.ActionBlur:
		updates["status"] = models.JobStatusPassed
		updates["action"] = models.ActionBlur
	case models.ActionAgeGate:
		updates["status"] = models.JobStatusPassed
		updates["action"] = models.ActionAgeGate
	case models.ActionHoldPublish:
		updates["status"] = models.JobStatusQuarantined
		updates["action"] = models.ActionHoldPublish
		severity = models.SeverityHigh
	case models.DecisionEscalate:
		updates["status"] = models.JobStatusNeedsReview
		updates["escalation_reason"] = req.Reason
		updates["escalation_priority"] = models.PriorityHigh
		updates["escalated_at"] = now
		updates["escalated_by"] = actor.ID
	}

	trail, err := appendTrail(job.AuditTrail, models.TrailEntry{
		At:     now,
		Actor:  actorLabel(actor),
		Change: "decision: " + req.Decision,
		Note:   req.Reason,
	})
	if err != nil {
		return nil, err
	}
	updates["audit_trail"] = trail

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationJob{}).
			Where("id = ? AND status = ?", jobID, before.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		var after models.ModerationJob
		if err := tx.First(&after, "id = ?", jobID).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			ActorEmail: actor.Email,
			Action:     models.AuditModerationDecision,
			TargetType: "moderation",
			TargetID:   job.ID.String(),
			Before:     before,
			After:      after,
			Reason:     req.Reason,
			Severity:   severity,
			Category:   models.CategoryModeration,
			Tags:       []string{"decision", req.Decision},
			Reversible: true,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			if cur, gerr := s.GetJob(jobID); gerr == nil && cur.Status == models.JobStatusResolved {
				return nil, ErrAlreadyResolved
			}
		}
		return nil, err
	}

	result, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if req.NotifyUser && req.Decision != models.DecisionEscalate {
		s.notifyOwner(notify.Notification{
			OwnerID: job.SubjectOwnerID,
			JobID:   job.ID,
			Event:   "decision",
			Outcome: req.Decision,
			Reason:  req.Reason,
		})
	}
	return result, nil
}

// Escalate re-routes a job to the high-priority unassigned pool. Escalating
// a job that is already escalated at the same priority is a no-op so
// automation can run redundantly.
func (s *ModerationService) Escalate(jobID uuid.UUID, actor Actor, reason, priority string) (*models.ModerationJob, error) {
	if err := s.authorize(actor, rbac.ActionEscalate); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, invalidField("reason", "required")
	}
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !models.ValidPriorities[priority] {
		return nil, invalidField("priority", "must be one of normal, high, urgent")
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusNeedsReview && job.AssignedTo == nil &&
		job.EscalatedAt != nil && job.EscalationPriority == priority {
		return job, nil
	}

	now := time.Now().UTC()
	trail, err := appendTrail(job.AuditTrail, models.TrailEntry{
		At:     now,
		Actor:  actorLabel(actor),
		Change: "escalated (" + priority + ")",
		Note:   reason,
	})
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationJob{}).
			Where("id = ? AND status = ?", jobID, job.Status).
			Updates(map[string]interface{}{
				"status":              models.JobStatusNeedsReview,
				"assigned_to":         nil,
				"assigned_at":         nil,
				"escalation_reason":   reason,
				"escalation_priority": priority,
				"escalated_at":        now,
				"escalated_by":        actor.ID,
				"audit_trail":         trail,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			ActorEmail: actor.Email,
			Action:     models.AuditModerationDecision,
			TargetType: "moderation",
			TargetID:   job.ID.String(),
			Reason:     reason,
			Severity:   models.SeverityMedium,
			Category:   models.CategoryModeration,
			Tags:       []string{"escalation", priority},
			Metadata:   map[string]interface{}{"priority": priority},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(jobID)
}

// OpenAppeal lets the subject owner request re-examination of a decided job.
// Only one appeal can be open at a time; a resolved appeal may be followed by
// a new one.
func (s *ModerationService) OpenAppeal(jobID, ownerID uuid.UUID, message string) (*models.ModerationJob, error) {
	if message == "" {
		return nil, invalidField("message", "required")
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.SubjectOwnerID != ownerID {
		return nil, ErrForbidden
	}
	if job.AppealOpen {
		return nil, ErrAppealAlreadyOpen
	}

	now := time.Now().UTC()
	trail, err := appendTrail(job.AuditTrail, models.TrailEntry{
		At:     now,
		Actor:  "owner:" + ownerID.String(),
		Change: "appeal opened",
		Note:   message,
	})
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationJob{}).
			Where("id = ? AND appeal_open = ?", jobID, false).
			Updates(map[string]interface{}{
				"appeal_open":        true,
				"appeal_message":     message,
				"appeal_opened_at":   now,
				"appeal_resolved_at": nil,
				"appeal_resolved_by": nil,
				"appeal_resolution":  "",
				"status":             models.JobStatusAppealed,
				"assigned_to":        nil,
				"assigned_at":        nil,
				"audit_trail":        trail,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAppealAlreadyOpen
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  models.ActorSystem,
			ActorID:    ownerID,
			Action:     models.AuditAppealResolution,
			TargetType: "moderation",
			TargetID:   job.ID.String(),
			Reason:     message,
			Severity:   models.SeverityLow,
			Category:   models.CategoryModeration,
			Tags:       []string{"appeal", "opened"},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(jobID)
}

// ResolveAppeal closes the open appeal and applies the mapped outcome:
// overturned passes the content, upheld keeps it blocked, dismissed resolves
// the job without touching the enforcement action.
func (s *ModerationService) ResolveAppeal(jobID uuid.UUID, actor Actor, resolution, reason string) (*models.ModerationJob, error) {
	if err := s.authorize(actor, rbac.ActionResolveAppeal); err != nil {
		return nil, err
	}
	if !models.ValidAppealResolutions[resolution] {
		return nil, invalidField("resolution", "must be one of upheld, overturned, dismissed")
	}
	if reason == "" {
		return nil, invalidField("reason", "required")
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if !job.AppealOpen {
		return nil, ErrNoOpenAppeal
	}
	before := *job

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"appeal_open":        false,
		"appeal_resolved_at": now,
		"appeal_resolved_by": actor.ID,
		"appeal_resolution":  resolution,
	}
	severity := models.SeverityMedium
	switch resolution {
	case models.AppealOverturned:
		updates["status"] = models.JobStatusPassed
		updates["action"] = models.ActionAllow
	case models.AppealUpheld:
		updates["status"] = models.JobStatusBlocked
		updates["action"] = models.ActionBlock
		severity = models.SeverityHigh
	case models.AppealDismissed:
		updates["status"] = models.JobStatusResolved
	}

	trail, err := appendTrail(job.AuditTrail, models.TrailEntry{
		At:     now,
		Actor:  actorLabel(actor),
		Change: "appeal " + resolution,
		Note:   reason,
	})
	if err != nil {
		return nil, err
	}
	updates["audit_trail"] = trail

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationJob{}).
			Where("id = ? AND appeal_open = ?", jobID, true).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoOpenAppeal
		}
		var after models.ModerationJob
		if err := tx.First(&after, "id = ?", jobID).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			ActorEmail: actor.Email,
			Action:     models.AuditAppealResolution,
			TargetType: "moderation",
			TargetID:   job.ID.String(),
			Before:     before,
			After:      after,
			Reason:     reason,
			Severity:   severity,
			Category:   models.CategoryModeration,
			Tags:       []string{"appeal", resolution},
			Reversible: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	result, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	s.notifyOwner(notify.Notification{
		OwnerID: job.SubjectOwnerID,
		JobID:   job.ID,
		Event:   "appeal_resolved",
		Outcome: resolution,
		Reason:  reason,
	})
	return result, nil
}

// ListQueue returns active jobs newest first, filtered and keyset-paginated.
func (s *ModerationService) ListQueue(f *dto.QueueFilters, limit int, cursor string) ([]models.ModerationJob, bool, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := s.db.Model(&models.ModerationJob{}).Where("is_active = ?", true)
	if f != nil {
		if f.Status != "" {
			if !models.ValidJobStatuses[f.Status] {
				return nil, false, "", invalidField("status", "unknown status")
			}
			query = query.Where("status = ?", f.Status)
		}
		if f.SubjectType != "" {
			query = query.Where("subject_type = ?", f.SubjectType)
		}
		if f.AssignedTo != nil {
			query = query.Where("assigned_to = ?", *f.AssignedTo)
		}
		if f.Priority != "" {
			query = query.Where("escalation_priority = ?", f.Priority)
		}
		if f.Appealed != nil {
			query = query.Where("appeal_open = ?", *f.Appealed)
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

	var jobs []models.ModerationJob
	if err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&jobs).Error; err != nil {
		return nil, false, "", err
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}
	next := ""
	if hasMore && len(jobs) > 0 {
		last := jobs[len(jobs)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return jobs, hasMore, next, nil
}

// Stats computes derived, read-only queue aggregates.
func (s *ModerationService) Stats() (*dto.QueueStats, error) {
	stats := &dto.QueueStats{ByStatus: make(map[string]int64)}

	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := s.db.Model(&models.ModerationJob{}).
		Select("status, COUNT(*) as count").
		Where("is_active = ?", true).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Count
		stats.Total += r.Count
	}

	var decided, approved, blocked int64
	if err := s.db.Model(&models.ModerationJob{}).
		Where("is_active = ? AND decision IS NOT NULL", true).
		Count(&decided).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.ModerationJob{}).
		Where("is_active = ? AND decision IN ?", true, []string{models.ActionAllow, models.ActionBlur, models.ActionAgeGate}).
		Count(&approved).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.ModerationJob{}).
		Where("is_active = ? AND decision = ?", true, models.ActionBlock).
		Count(&blocked).Error; err != nil {
		return nil, err
	}
	if decided > 0 {
		stats.ApprovalRate = float64(approved) / float64(decided)
		stats.BlockRate = float64(blocked) / float64(decided)
	}

	if err := s.db.Model(&models.ModerationJob{}).
		Where("is_active = ? AND appeal_open = ?", true, true).
		Count(&stats.OpenAppeals).Error; err != nil {
		return nil, err
	}

	var avg *float64
	expr := "AVG((julianday(reviewed_at) - julianday(created_at)) * 24)"
	if s.db.Dialector.Name() == "postgres" {
		expr = "AVG(EXTRACT(EPOCH FROM (reviewed_at - created_at)) / 3600)"
	}
	if err := s.db.Model(&models.ModerationJob{}).
		Select(expr).
		Where("is_active = ? AND reviewed_at IS NOT NULL", true).
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AvgReviewHours = *avg
	}
	return stats, nil
}

func (s *ModerationService) notifyOwner(n notify.Notification) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("notifier panicked", "job_id", n.JobID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.NotifyOwner(ctx, n); err != nil {
			slog.Error("failed to notify subject owner", "job_id", n.JobID, "error", err)
		}
	}()
}

func actorLabel(actor Actor) string {
	if actor.Type == models.ActorSystem {
		return "system"
	}
	if actor.Email != "" {
		return actor.Email
	}
	return actor.ID.String()
}

func appendTrail(raw datatypes.JSON, entry models.TrailEntry) (datatypes.JSON, error) {
	var trail []models.TrailEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &trail); err != nil {
			return nil, fmt.Errorf("failed to decode audit trail: %w", err)
		}
	}
	trail = append(trail, entry)
	b, err := json.Marshal(trail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit trail: %w", err)
	}
	return datatypes.JSON(b), nil
}
