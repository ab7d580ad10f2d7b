package services

import (
	"testing"
	"time"

	"github.com/glowmorph/backend/internal/models"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGetPrincipal(t *testing.T) {
	db, _, _, admins := testServices(t)

	user := makeAdmin(t, db, rbac.RoleModerator)
	got, err := admins.GetPrincipal(user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	_, err = admins.GetPrincipal(uuid.New())
	assert.ErrorIs(t, err, ErrPrincipalNotFound)

	require.NoError(t, db.Model(user).Update("status", models.AdminSuspended).Error)
	_, err = admins.GetPrincipal(user.ID)
	assert.ErrorIs(t, err, ErrAccountInactive)

	until := time.Now().Add(time.Hour)
	require.NoError(t, db.Model(user).Updates(map[string]interface{}{
		"status":     models.AdminActive,
		"lock_until": until,
	}).Error)
	_, err = admins.GetPrincipal(user.ID)
	assert.ErrorIs(t, err, ErrAccountLocked)

	// An expired lock no longer blocks access.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(user).Update("lock_until", past).Error)
	_, err = admins.GetPrincipal(user.ID)
	assert.NoError(t, err)
}

func TestLoginLockout(t *testing.T) {
	db, _, _, admins := testServices(t)
	user := makeAdmin(t, db, rbac.RoleModerator)

	for i := 0; i < maxLoginAttempts-1; i++ {
		require.NoError(t, admins.RecordFailedLogin(user.Email))
	}
	_, err := admins.GetPrincipal(user.ID)
	assert.NoError(t, err)

	// The fifth failure locks the account.
	require.NoError(t, admins.RecordFailedLogin(user.Email))
	_, err = admins.GetPrincipal(user.ID)
	assert.ErrorIs(t, err, ErrAccountLocked)

	assert.ErrorIs(t, admins.RecordFailedLogin("nobody@glowmorph.app"), ErrPrincipalNotFound)
}

func TestRecordLogin(t *testing.T) {
	db, _, _, admins := testServices(t)
	user := makeAdmin(t, db, rbac.RoleTAndS)

	require.NoError(t, admins.RecordFailedLogin(user.Email))
	require.NoError(t, admins.RecordLogin(user.ID))

	var reloaded models.AdminUser
	require.NoError(t, db.First(&reloaded, "id = ?", user.ID).Error)
	assert.Equal(t, 0, reloaded.LoginAttempts)
	assert.Nil(t, reloaded.LockUntil)
	assert.NotNil(t, reloaded.LastLoginAt)

	assert.EqualValues(t, 1, countAudit(t, db, models.AuditAdminLogin))
}

func TestActiveReviewers(t *testing.T) {
	db, _, _, admins := testServices(t)

	mod := makeAdmin(t, db, rbac.RoleModerator)
	makeAdmin(t, db, rbac.RoleTAndS)
	makeAdmin(t, db, rbac.RoleViewer) // not a reviewer role
	makeAdmin(t, db, rbac.RoleAdmin)  // admins are not in the rotation

	suspended := makeAdmin(t, db, rbac.RoleModerator)
	require.NoError(t, db.Model(suspended).Update("status", models.AdminSuspended).Error)
	locked := makeAdmin(t, db, rbac.RoleModerator)
	require.NoError(t, db.Model(locked).Update("lock_until", time.Now().Add(time.Hour)).Error)

	reviewers, err := admins.ActiveReviewers()
	require.NoError(t, err)
	assert.Len(t, reviewers, 2)
	ids := map[uuid.UUID]bool{}
	for _, r := range reviewers {
		ids[r.ID] = true
	}
	assert.True(t, ids[mod.ID])
	assert.False(t, ids[suspended.ID])
	assert.False(t, ids[locked.ID])
}

func TestSeedInitialAdmin(t *testing.T) {
	db, _, _, admins := testServices(t)

	require.NoError(t, admins.SeedInitialAdmin("root@glowmorph.app", "s3cret"))

	var seeded models.AdminUser
	require.NoError(t, db.First(&seeded, "email = ?", "root@glowmorph.app").Error)
	assert.Equal(t, rbac.RoleAdmin, seeded.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(seeded.Password), []byte("s3cret")))

	// Seeding again, or with another email, is a no-op once any account exists.
	require.NoError(t, admins.SeedInitialAdmin("other@glowmorph.app", "x"))
	var count int64
	require.NoError(t, db.Model(&models.AdminUser{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// Blank credentials never seed.
	require.NoError(t, db.Unscoped().Where("1 = 1").Delete(&models.AdminUser{}).Error)
	require.NoError(t, admins.SeedInitialAdmin("", ""))
	require.NoError(t, db.Model(&models.AdminUser{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
