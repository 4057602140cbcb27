package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/storage"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
)

// UserServiceInterface defines account operations
type UserServiceInterface interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	CreateUser(ctx context.Context, username, password, email string, role models.Role) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateRole(ctx context.Context, actorID, userID uint, role models.Role) (*models.User, error)
	EnsureAdminUser(ctx context.Context, username, password string) error
	Touch(ctx context.Context, userID uint) error
}

// UserService manages accounts and password authentication
type UserService struct {
	store       storage.Store
	activity    ActivityPublisher
	connections ConnectionRevoker
	logger      *observability.Logger
	now         func() time.Time
}

var _ UserServiceInterface = (*UserService)(nil)

// NewUserServiceWithLogger creates a user service
func NewUserServiceWithLogger(store storage.Store, activity ActivityPublisher, logger *observability.Logger) *UserService {
	return &UserService{
		store:    store,
		activity: publisherOrNoop(activity),
		logger:   logger,
		now:      utcNow,
	}
}

// WithConnectionRevoker makes role changes drop the user's live sockets so
// they reconnect under the new role
func (s *UserService) WithConnectionRevoker(r ConnectionRevoker) *UserService {
	s.connections = r
	return s
}

// Register creates a regular account from a sign-up form
func (s *UserService) Register(ctx context.Context, req *models.RegisterRequest) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "Register", attribute.String("user.username", req.Username))
	defer observability.FinishSpan(span, &err)

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown timezone %q", req.Timezone)
		}
	}
	user, err := s.create(ctx, req.Username, req.Password, req.Email, models.RoleUser, req.Timezone)
	if err != nil {
		return nil, err
	}
	publishActivity(ctx, s.store, s.activity, user.ID, models.ActivityUserRegistered, "joined", s.now())
	return user, nil
}

// CreateUser creates an account with the given role, for the admin CLI
func (s *UserService) CreateUser(ctx context.Context, username, password, email string, role models.Role) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "CreateUser",
		attribute.String("user.username", username),
		attribute.String("user.role", string(role)),
	)
	defer observability.FinishSpan(span, &err)

	if !role.Valid() {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown role %q", role)
	}
	return s.create(ctx, username, password, email, role, "")
}

func (s *UserService) create(ctx context.Context, username, password, email string, role models.Role, timezone string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if !contextutils.IsValidUsername(username) {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput,
			"username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	if err := contextutils.ValidatePassword(password); err != nil {
		return nil, err
	}

	user := &models.User{
		Username: username,
		Role:     role,
		Timezone: timezone,
	}
	if email = strings.TrimSpace(email); email != "" {
		if !contextutils.IsValidEmail(email) {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "invalid email address %q", email)
		}
		user.Email = &email
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrInternalError, "failed to hash password")
	}
	user.PasswordHash = string(hash)

	if err := s.store.CreateUser(ctx, user); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordExists) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordExists, "username or email already taken")
		}
		return nil, err
	}

	s.logger.Info(ctx, "User created", map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     string(user.Role),
	})
	return user, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords fail the same way.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "Authenticate", attribute.String("user.username", username))
	defer observability.FinishSpan(span, &err)

	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, contextutils.ErrRecordNotFound) {
			return nil, contextutils.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, contextutils.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, contextutils.ErrInvalidCredentials
	}

	if err := s.store.TouchUser(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn(ctx, "Failed to update last activity", map[string]interface{}{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}
	return user, nil
}

// GetUser returns a user by id
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// GetUserByUsername returns a user by username
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
}

// ListUsers pages through accounts
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	users, err := s.store.ListUsers(ctx, limit, offset)
	if users == nil && err == nil {
		users = []models.User{}
	}
	return users, err
}

// UpdateRole changes a user's role. Admins cannot demote themselves, so the
// system always keeps at least the acting admin.
func (s *UserService) UpdateRole(ctx context.Context, actorID, userID uint, role models.Role) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "UpdateRole",
		observability.AttributeUserID(userID),
		attribute.String("user.role", string(role)),
	)
	defer observability.FinishSpan(span, &err)

	if !role.Valid() {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown role %q", role)
	}
	if actorID == userID && role != models.RoleAdmin {
		return nil, contextutils.WrapError(contextutils.ErrForbidden, "admins cannot remove their own admin role")
	}
	before, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	dropped := 0
	if before.Role != role && s.connections != nil {
		dropped = s.connections.DisconnectUser(userID)
	}
	s.logger.Info(ctx, "User role changed", map[string]interface{}{
		"user_id":             userID,
		"actor_id":            actorID,
		"role":                string(role),
		"dropped_connections": dropped,
	})
	return s.store.GetUserByID(ctx, userID)
}

// EnsureAdminUser creates the bootstrap admin account if it does not exist,
// and promotes it if it exists with a lower role
func (s *UserService) EnsureAdminUser(ctx context.Context, username, password string) (err error) {
	ctx, span := observability.TraceUserFunction(ctx, "EnsureAdminUser", attribute.String("user.username", username))
	defer observability.FinishSpan(span, &err)

	if username == "" || password == "" {
		s.logger.Debug(ctx, "No admin credentials configured, skipping admin bootstrap")
		return nil
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		if existing.IsAdmin() {
			return nil
		}
		if err := s.store.UpdateUserRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return err
		}
		s.logger.Info(ctx, "Promoted configured admin user", map[string]interface{}{"username": username})
		return nil
	case !errors.Is(err, contextutils.ErrRecordNotFound):
		return err
	}

	if _, err := s.create(ctx, username, password, "", models.RoleAdmin, ""); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	return nil
}

// Touch records that the user was just active
func (s *UserService) Touch(ctx context.Context, userID uint) error {
	return s.store.TouchUser(ctx, userID, s.now())
}
