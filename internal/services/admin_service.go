package services

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glowmorph/backend/internal/models"
	"github.com/glowmorph/backend/internal/rbac"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	maxLoginAttempts = 5
	lockoutDuration  = 15 * time.Minute
)

// AdminService reads back-office principals for the workflow. Accounts are
// provisioned out of band; only role, overrides and lockout state are
// consumed here.
type AdminService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewAdminService(db *gorm.DB, audit *AuditService) *AdminService {
	return &AdminService{db: db, audit: audit}
}

// GetPrincipal loads an admin account and rejects inactive or locked ones.
func (s *AdminService) GetPrincipal(id uuid.UUID) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	if user.Status != models.AdminActive {
		return nil, ErrAccountInactive
	}
	if user.Locked() {
		return nil, ErrAccountLocked
	}
	return &user, nil
}

// ActorFor converts a loaded account into a workflow actor.
func (s *AdminService) ActorFor(user *models.AdminUser) Actor {
	return Actor{
		ID:        user.ID,
		Email:     user.Email,
		Type:      models.ActorAdmin,
		Role:      user.Role,
		Overrides: rbac.ParseOverrides(user.Permissions),
	}
}

// ActiveReviewers returns active, unlocked accounts whose role may decide
// moderation jobs. Used by auto-assignment.
func (s *AdminService) ActiveReviewers() ([]models.AdminUser, error) {
	var users []models.AdminUser
	err := s.db.
		Where("status = ?", models.AdminActive).
		Where("role IN ?", []string{rbac.RoleModerator, rbac.RoleTAndS, rbac.RoleOperator}).
		Where("lock_until IS NULL OR lock_until < ?", time.Now()).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// RecordFailedLogin increments the attempt counter and locks the account
// after too many failures. Called by the out-of-band auth layer.
func (s *AdminService) RecordFailedLogin(email string) error {
	var user models.AdminUser
	if err := s.db.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPrincipalNotFound
		}
		return err
	}

	updates := map[string]interface{}{"login_attempts": user.LoginAttempts + 1}
	if user.LoginAttempts+1 >= maxLoginAttempts {
		updates["lock_until"] = time.Now().Add(lockoutDuration)
	}
	return s.db.Model(&user).Updates(updates).Error
}

// RecordLogin resets lockout state and appends an admin_login ledger entry.
func (s *AdminService) RecordLogin(id uuid.UUID) error {
	user, err := s.GetPrincipal(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(map[string]interface{}{
			"login_attempts": 0,
			"lock_until":     nil,
			"last_login_at":  now,
		}).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(tx, &AuditEntry{
			ActorType:  models.ActorAdmin,
			ActorID:    user.ID,
			ActorEmail: user.Email,
			Action:     models.AuditAdminLogin,
			TargetType: "admin",
			TargetID:   user.ID.String(),
			Reason:     "admin session started",
			Severity:   models.SeverityLow,
			Category:   models.CategorySecurity,
		})
		return err
	})
}

// SeedInitialAdmin creates the first admin account from the environment when
// the table is empty, so a fresh deployment has someone who can act.
func (s *AdminService) SeedInitialAdmin(email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	var count int64
	if err := s.db.Model(&models.AdminUser{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	user := models.AdminUser{
		ID:       uuid.New(),
		Email:    email,
		Password: string(hash),
		Role:     rbac.RoleAdmin,
		Status:   models.AdminActive,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}
	slog.Info("seeded initial admin account", "email", email)
	return nil
}
