package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glowmorph/backend/internal/dto"
	"github.com/glowmorph/backend/internal/models"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AdminUser{},
		&models.ModerationJob{},
		&models.AuditLog{},
		&models.SystemLog{},
	))
	return db
}

func testServices(t *testing.T) (*gorm.DB, *ModerationService, *AuditService, *AdminService) {
	t.Helper()
	db := testDB(t)
	audit := NewAuditService(db)
	admins := NewAdminService(db, audit)
	mod := NewModerationService(db, audit, nil)
	return db, mod, audit, admins
}

func makeAdmin(t *testing.T, db *gorm.DB, role string) *models.AdminUser {
	t.Helper()
	user := models.AdminUser{
		ID:       uuid.New(),
		Email:    role + "-" + uuid.NewString()[:8] + "@glowmorph.app",
		Password: "x",
		Role:     role,
		Status:   models.AdminActive,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func adminActor(user *models.AdminUser) Actor {
	return Actor{
		ID:        user.ID,
		Email:     user.Email,
		Type:      models.ActorAdmin,
		Role:      user.Role,
		Overrides: rbac.ParseOverrides(user.Permissions),
	}
}

func makeJob(t *testing.T, svc *ModerationService, subjectType string) *models.ModerationJob {
	t.Helper()
	job, err := svc.CreateJob(&dto.CreateJobRequest{
		SubjectType:    subjectType,
		SubjectID:      "subject-" + uuid.NewString()[:8],
		SubjectOwnerID: uuid.New(),
		Labels:         []string{"nsfw"},
		Scores:         map[string]float64{"nsfw": 0.91},
	})
	require.NoError(t, err)
	return job
}

func countAudit(t *testing.T, db *gorm.DB, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&n).Error)
	return n
}
