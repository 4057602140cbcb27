package storage

import (
	"context"
	"time"

	"assessapp/internal/models"
	contextutils "assessapp/internal/utils"
)

// CreateUser inserts a user
func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	return mapError(s.conn(ctx).Create(user).Error, "user")
}

// GetUserByID loads a user by id
func (s *GormStore) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).First(&user, id).Error; err != nil {
		return nil, mapError(err, "user")
	}
	return &user, nil
}

// GetUserByUsername loads a user by username
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, mapError(err, "user")
	}
	return &user, nil
}

// ListUsers returns users ordered by id
func (s *GormStore) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := s.conn(ctx).Order("id").Limit(clampLimit(limit, 50, 500)).Offset(offset).Find(&users).Error
	return users, mapError(err, "users")
}

// UpdateUserRole changes a user's role
func (s *GormStore) UpdateUserRole(ctx context.Context, id uint, role models.Role) error {
	if !role.Valid() {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown role %q", role)
	}
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return mapError(res.Error, "user")
	}
	if res.RowsAffected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user %d not found", id)
	}
	return nil
}

// TouchUser records the user's last activity time
func (s *GormStore) TouchUser(ctx context.Context, id uint, at time.Time) error {
	err := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_active_at", at.UTC()).Error
	return mapError(err, "user")
}
