package services

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/models"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJob(t *testing.T) {
	db, mod, _, _ := testServices(t)

	job := makeJob(t, mod, "upload")
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.True(t, job.IsActive)
	assert.Nil(t, job.AssignedTo)

	var labels []string
	require.NoError(t, json.Unmarshal(job.Labels, &labels))
	assert.Equal(t, []string{"nsfw"}, labels)

	// Intake writes a ledger row too.
	assert.EqualValues(t, 1, countAudit(t, db, models.AuditSystemEvent))

	_, err := mod.CreateJob(&dto.CreateJobRequest{SubjectType: "video"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAssign(t *testing.T) {
	db, mod, _, _ := testServices(t)
	adminA := makeAdmin(t, db, rbac.RoleModerator)
	adminB := makeAdmin(t, db, rbac.RoleModerator)

	job := makeJob(t, mod, "upload")

	got, err := mod.Assign(job.ID, adminActor(adminA), adminA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusNeedsReview, got.Status)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, adminA.ID, *got.AssignedTo)
	assert.NotNil(t, got.AssignedAt)

	// Second claim by someone else conflicts.
	_, err = mod.Assign(job.ID, adminActor(adminB), adminB.ID)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	// Re-claim by the holder is a no-op, not an error, and writes no new
	// ledger row.
	before := countAudit(t, db, models.AuditModerationDecision)
	got, err = mod.Assign(job.ID, adminActor(adminA), adminA.ID)
	require.NoError(t, err)
	assert.Equal(t, adminA.ID, *got.AssignedTo)
	assert.Equal(t, before, countAudit(t, db, models.AuditModerationDecision))

	// Unknown assignee.
	job2 := makeJob(t, mod, "comment")
	_, err = mod.Assign(job2.ID, adminActor(adminA), uuid.New())
	assert.ErrorIs(t, err, ErrPrincipalNotFound)

	// Viewer may not assign.
	viewer := makeAdmin(t, db, rbac.RoleViewer)
	_, err = mod.Assign(job2.ID, adminActor(viewer), viewer.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAssignConcurrent(t *testing.T) {
	db, mod, _, _ := testServices(t)
	job := makeJob(t, mod, "upload")

	reviewers := make([]*models.AdminUser, 4)
	for i := range reviewers {
		reviewers[i] = makeAdmin(t, db, rbac.RoleModerator)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(reviewers))
	for i, r := range reviewers {
		wg.Add(1)
		go func(i int, r *models.AdminUser) {
			defer wg.Done()
			_, errs[i] = mod.Assign(job.ID, adminActor(r), r.ID)
		}(i, r)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyAssigned)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := mod.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusNeedsReview, got.Status)
	assert.NotNil(t, got.AssignedTo)
}

func TestDecideBlock(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleModerator)

	job := makeJob(t, mod, "upload")
	_, err := mod.Assign(job.ID, adminActor(admin), admin.ID)
	require.NoError(t, err)

	got, err := mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
		Decision: models.ActionBlock,
		Reason:   "nsfw content",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBlocked, got.Status)
	require.NotNil(t, got.Action)
	assert.Equal(t, models.ActionBlock, *got.Action)
	assert.Equal(t, "nsfw content", got.DecisionReason)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, admin.ID, *got.ReviewedBy)
	assert.NotNil(t, got.ReviewedAt)
	// Deciding ends the review, so the assignment is released.
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.AssignedAt)

	// Exactly one decision ledger row (assignment wrote one earlier too).
	var entries []models.AuditLog
	require.NoError(t, db.Where("action = ? AND target_id = ?", models.AuditModerationDecision, job.ID.String()).Find(&entries).Error)
	decisions := 0
	for _, e := range entries {
		if e.Severity == models.SeverityHigh {
			decisions++
			assert.Equal(t, "moderation", e.TargetType)
			assert.True(t, e.IsReversible)
		}
	}
	assert.Equal(t, 1, decisions)
}

func TestDecideMappings(t *testing.T) {
	cases := []struct {
		decision   string
		wantStatus string
		wantAction string
	}{
		{models.ActionAllow, models.JobStatusPassed, models.ActionAllow},
		{models.ActionBlur, models.JobStatusPassed, models.ActionBlur},
		{models.ActionAgeGate, models.JobStatusPassed, models.ActionAgeGate},
		{models.ActionHoldPublish, models.JobStatusQuarantined, models.ActionHoldPublish},
	}
	for _, tc := range cases {
		t.Run(tc.decision, func(t *testing.T) {
			db, mod, _, _ := testServices(t)
			admin := makeAdmin(t, db, rbac.RoleModerator)
			job := makeJob(t, mod, "transform")

			got, err := mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
				Decision: tc.decision,
				Reason:   "review",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, got.Status)
			require.NotNil(t, got.Action)
			assert.Equal(t, tc.wantAction, *got.Action)
		})
	}
}

func TestDecideEscalateClearsAssignment(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleModerator)

	job := makeJob(t, mod, "upload")
	_, err := mod.Assign(job.ID, adminActor(admin), admin.ID)
	require.NoError(t, err)

	got, err := mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
		Decision: models.DecisionEscalate,
		Reason:   "ambiguous nudity",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusNeedsReview, got.Status)
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.AssignedAt)
	assert.Equal(t, models.PriorityHigh, got.EscalationPriority)
	assert.NotNil(t, got.EscalatedAt)
	// Escalation keeps whatever enforcement action was in place.
	assert.Nil(t, got.Action)
}

func TestDecideGuards(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleTAndS)
	owner := uuid.New()

	job, err := mod.CreateJob(&dto.CreateJobRequest{
		SubjectType:    "upload",
		SubjectID:      "u-1",
		SubjectOwnerID: owner,
	})
	require.NoError(t, err)

	_, err = mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{Decision: "nuke", Reason: "x"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{Decision: models.ActionBlock})
	assert.ErrorAs(t, err, &verr)

	// Drive the job to resolved via a dismissed appeal, then decide again.
	_, err = mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{Decision: models.ActionBlock, Reason: "nsfw"})
	require.NoError(t, err)
	_, err = mod.OpenAppeal(job.ID, owner, "please re-check")
	require.NoError(t, err)
	_, err = mod.ResolveAppeal(job.ID, adminActor(admin), models.AppealDismissed, "no grounds")
	require.NoError(t, err)

	_, err = mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{Decision: models.ActionAllow, Reason: "x"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestEscalate(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleModerator)

	job := makeJob(t, mod, "upload")
	_, err := mod.Assign(job.ID, adminActor(admin), admin.ID)
	require.NoError(t, err)

	got, err := mod.Escalate(job.ID, adminActor(admin), "ambiguous nudity", models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusNeedsReview, got.Status)
	assert.Nil(t, got.AssignedTo)
	assert.Equal(t, models.PriorityHigh, got.EscalationPriority)
	assert.Equal(t, "ambiguous nudity", got.EscalationReason)

	// Re-escalating at the same priority is a no-op.
	before := countAudit(t, db, models.AuditModerationDecision)
	_, err = mod.Escalate(job.ID, SystemActor, "stale", models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, before, countAudit(t, db, models.AuditModerationDecision))

	// Bumping priority is not.
	got, err = mod.Escalate(job.ID, adminActor(admin), "getting worse", models.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, got.EscalationPriority)
}

func TestAppealLifecycle(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleTAndS)
	owner := uuid.New()

	job, err := mod.CreateJob(&dto.CreateJobRequest{
		SubjectType:    "upload",
		SubjectID:      "u-1",
		SubjectOwnerID: owner,
	})
	require.NoError(t, err)

	_, err = mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
		Decision: models.ActionBlock,
		Reason:   "nsfw content",
	})
	require.NoError(t, err)

	// No open appeal yet.
	_, err = mod.ResolveAppeal(job.ID, adminActor(admin), models.AppealUpheld, "x")
	assert.ErrorIs(t, err, ErrNoOpenAppeal)

	// Only the subject owner may appeal.
	_, err = mod.OpenAppeal(job.ID, uuid.New(), "false positive")
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := mod.OpenAppeal(job.ID, owner, "false positive")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAppealed, got.Status)
	assert.True(t, got.AppealOpen)
	assert.Equal(t, "false positive", got.AppealMessage)

	// A second appeal while one is open conflicts.
	_, err = mod.OpenAppeal(job.ID, owner, "again")
	assert.ErrorIs(t, err, ErrAppealAlreadyOpen)

	got, err = mod.ResolveAppeal(job.ID, adminActor(admin), models.AppealOverturned, "manual re-review confirms safe")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPassed, got.Status)
	require.NotNil(t, got.Action)
	assert.Equal(t, models.ActionAllow, *got.Action)
	assert.False(t, got.AppealOpen)
	assert.Equal(t, models.AppealOverturned, got.AppealResolution)
	assert.NotNil(t, got.AppealResolvedAt)

	// Even a passed job can be appealed again.
	got, err = mod.OpenAppeal(job.ID, owner, "wait, wrong call")
	require.NoError(t, err)
	assert.True(t, got.AppealOpen)
	assert.Equal(t, models.JobStatusAppealed, got.Status)

	// Moderators cannot resolve appeals.
	moderator := makeAdmin(t, db, rbac.RoleModerator)
	_, err = mod.ResolveAppeal(job.ID, adminActor(moderator), models.AppealUpheld, "x")
	assert.ErrorIs(t, err, ErrForbidden)

	got, err = mod.ResolveAppeal(job.ID, adminActor(admin), models.AppealUpheld, "original call stands")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBlocked, got.Status)
	assert.Equal(t, models.ActionBlock, *got.Action)

	assert.EqualValues(t, 4, countAudit(t, db, models.AuditAppealResolution))
}

func TestListQueue(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleModerator)

	for i := 0; i < 5; i++ {
		makeJob(t, mod, "upload")
	}
	battle := makeJob(t, mod, "battle")
	_, err := mod.Assign(battle.ID, adminActor(admin), admin.ID)
	require.NoError(t, err)

	jobs, hasMore, _, err := mod.ListQueue(&dto.QueueFilters{Status: models.JobStatusPending}, 10, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 5)
	assert.False(t, hasMore)

	jobs, _, _, err = mod.ListQueue(&dto.QueueFilters{SubjectType: "battle"}, 10, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	jobs, _, _, err = mod.ListQueue(&dto.QueueFilters{AssignedTo: &admin.ID}, 10, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// Cursor pagination walks the whole set without duplicates.
	seen := map[uuid.UUID]bool{}
	cursor := ""
	for {
		page, more, next, err := mod.ListQueue(nil, 2, cursor)
		require.NoError(t, err)
		for _, j := range page {
			assert.False(t, seen[j.ID])
			seen[j.ID] = true
		}
		if !more {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 6)

	_, _, _, err = mod.ListQueue(&dto.QueueFilters{Status: "bogus"}, 10, "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStats(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleModerator)

	for i := 0; i < 3; i++ {
		job := makeJob(t, mod, "upload")
		_, err := mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
			Decision: models.ActionAllow,
			Reason:   "clean",
		})
		require.NoError(t, err)
	}
	job := makeJob(t, mod, "upload")
	_, err := mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
		Decision: models.ActionBlock,
		Reason:   "nsfw",
	})
	require.NoError(t, err)
	makeJob(t, mod, "upload") // still pending

	stats, err := mod.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.Total)
	assert.EqualValues(t, 3, stats.ByStatus[models.JobStatusPassed])
	assert.EqualValues(t, 1, stats.ByStatus[models.JobStatusBlocked])
	assert.EqualValues(t, 1, stats.ByStatus[models.JobStatusPending])
	assert.InDelta(t, 0.75, stats.ApprovalRate, 0.001)
	assert.InDelta(t, 0.25, stats.BlockRate, 0.001)
	assert.GreaterOrEqual(t, stats.AvgReviewHours, 0.0)
}

func TestAuditTrailMirror(t *testing.T) {
	db, mod, _, _ := testServices(t)
	admin := makeAdmin(t, db, rbac.RoleModerator)

	job := makeJob(t, mod, "upload")
	_, err := mod.Assign(job.ID, adminActor(admin), admin.ID)
	require.NoError(t, err)
	got, err := mod.Decide(job.ID, adminActor(admin), &dto.DecideRequest{
		Decision: models.ActionBlock,
		Reason:   "nsfw",
	})
	require.NoError(t, err)

	var trail []models.TrailEntry
	require.NoError(t, json.Unmarshal(got.AuditTrail, &trail))
	require.Len(t, trail, 2)
	assert.Contains(t, trail[0].Change, "assigned")
	assert.Contains(t, trail[1].Change, "decision: block")
}
