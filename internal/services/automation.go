package services

import (
	"errors"
	"log/slog"
	"time"

	"github.com/glowmorph/backend/internal/models"
	"github.com/google/uuid"
)

// AutomationConfig tunes the periodic moderation policies.
type AutomationConfig struct {
	Interval       time.Duration // how often policies run
	EscalateAfter  time.Duration // pending jobs older than this get escalated
	MaxPerReviewer int           // open assignments a reviewer may hold
	BatchSize      int
}

func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		Interval:       5 * time.Minute,
		EscalateAfter:  24 * time.Hour,
		MaxPerReviewer: 10,
		BatchSize:      50,
	}
}

// Automation runs the auto-escalation and auto-assignment policies on a
// ticker. It calls the exact same atomic workflow operations as interactive
// callers, so redundant runs (or a second instance) are harmless.
type Automation struct {
	svc    *ModerationService
	admins *AdminService
	cfg    AutomationConfig
}

func NewAutomation(svc *ModerationService, admins *AdminService, cfg AutomationConfig) *Automation {
	if cfg.Interval <= 0 {
		cfg = DefaultAutomationConfig()
	}
	return &Automation{svc: svc, admins: admins, cfg: cfg}
}

// Start launches the policy loop. Close done to stop it.
func (a *Automation) Start(done chan struct{}) {
	go func() {
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.RunOnce()
			case <-done:
				return
			}
		}
	}()
}

// RunOnce executes both policies a single time.
func (a *Automation) RunOnce() {
	if n, err := a.EscalateStale(); err != nil {
		slog.Error("auto-escalation failed", "error", err)
	} else if n > 0 {
		slog.Info("auto-escalation completed", "escalated", n)
	}
	if n, err := a.AssignPending(); err != nil {
		slog.Error("auto-assignment failed", "error", err)
	} else if n > 0 {
		slog.Info("auto-assignment completed", "assigned", n)
	}
}

// EscalateStale escalates pending jobs that nobody picked up in time.
func (a *Automation) EscalateStale() (int, error) {
	cutoff := time.Now().Add(-a.cfg.EscalateAfter)

	var jobs []models.ModerationJob
	err := a.svc.db.
		Where("is_active = ? AND status = ? AND created_at < ?", true, models.JobStatusPending, cutoff).
		Order("created_at ASC").
		Limit(a.cfg.BatchSize).
		Find(&jobs).Error
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, job := range jobs {
		_, err := a.svc.Escalate(job.ID, SystemActor, "unreviewed past the escalation deadline", models.PriorityHigh)
		if err != nil {
			// Another instance may have moved the job meanwhile.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrJobNotFound) {
				continue
			}
			return escalated, err
		}
		escalated++
	}
	return escalated, nil
}

// AssignPending hands unassigned needs_review jobs to the active reviewers
// with the fewest open assignments, urgent escalations first.
func (a *Automation) AssignPending() (int, error) {
	reviewers, err := a.admins.ActiveReviewers()
	if err != nil {
		return 0, err
	}
	if len(reviewers) == 0 {
		return 0, nil
	}

	open := make(map[uuid.UUID]int, len(reviewers))
	for _, r := range reviewers {
		var n int64
		if err := a.svc.db.Model(&models.ModerationJob{}).
			Where("is_active = ? AND assigned_to = ?", true, r.ID).
			Count(&n).Error; err != nil {
			return 0, err
		}
		open[r.ID] = int(n)
	}

	var jobs []models.ModerationJob
	err = a.svc.db.
		Where("is_active = ? AND status = ? AND assigned_to IS NULL", true, models.JobStatusNeedsReview).
		Order("CASE escalation_priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 ELSE 2 END, created_at ASC").
		Limit(a.cfg.BatchSize).
		Find(&jobs).Error
	if err != nil {
		return 0, err
	}

	assigned := 0
	for _, job := range jobs {
		picked := uuid.Nil
		best := a.cfg.MaxPerReviewer
		for _, r := range reviewers {
			if open[r.ID] < best {
				best = open[r.ID]
				picked = r.ID
			}
		}
		if picked == uuid.Nil {
			break // everyone is at capacity
		}
		_, err := a.svc.Assign(job.ID, SystemActor, picked)
		if err != nil {
			if errors.Is(err, ErrAlreadyAssigned) || errors.Is(err, ErrJobNotFound) {
				continue
			}
			return assigned, err
		}
		open[picked]++
		assigned++
	}
	return assigned, nil
}
