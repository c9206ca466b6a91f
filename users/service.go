// Package users, as part of the account management module.
// This file, `service.go`, contains the business logic for creating and updating accounts.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/auth"
	"github.com/user/postboard/db"
	"github.com/user/postboard/enrichment"
)

// UserService manages user accounts.
type UserService struct {
	db       *db.DB
	enricher enrichment.Enricher
	logger   *zap.Logger
	now      func() time.Time
}

// NewUserService creates a new UserService. A nil enricher disables enrichment.
func NewUserService(database *db.DB, enricher enrichment.Enricher, logger *zap.Logger) *UserService {
	if enricher == nil {
		enricher = enrichment.Noop{}
	}
	return &UserService{db: database, enricher: enricher, logger: logger, now: time.Now}
}

// CreateUser registers a regular account.
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	user, err := s.createUser(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return toResponse(user), nil
}

// CreateSuperuser registers an account with staff and superuser flags set.
func (s *UserService) CreateSuperuser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	user, err := s.createUser(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return toResponse(user), nil
}

func (s *UserService) createUser(ctx context.Context, req CreateUserRequest, superuser bool) (*auth.User, error) {
	if appErr := apperror.Validate(req); appErr != nil {
		return nil, appErr
	}

	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		return nil, apperror.NewFieldError("email", "Enter a valid email address.")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = email
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &auth.User{
		Email:          email,
		Username:       username,
		HashedPassword: hashed,
		IsActive:       true,
		IsStaff:        superuser,
		IsSuperuser:    superuser,
		CreatedAt:      s.now().UTC(),
	}
	var enrichedAt sql.NullTime
	if s.enrich(ctx, user) {
		enrichedAt = sql.NullTime{Time: user.CreatedAt, Valid: true}
	}

	query := s.db.Rebind(`
		INSERT INTO users (email, username, password, full_name, given_name, location, time_zone,
			is_active, is_staff, is_superuser, created_at, enriched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err = s.db.QueryRowxContext(ctx, query,
		user.Email, user.Username, user.HashedPassword, user.FullName, user.GivenName, user.Location, user.TimeZone,
		user.IsActive, user.IsStaff, user.IsSuperuser, user.CreatedAt, enrichedAt,
	).Scan(&user.ID)
	if err != nil {
		if appErr := uniqueFieldError(err); appErr != nil {
			return nil, appErr
		}
		return nil, apperror.NewDatabaseError("failed to create user", err)
	}

	s.logger.Info("user created", zap.Int64("user_id", user.ID), zap.Bool("superuser", superuser))
	return user, nil
}

// enrich copies provider data onto user. Lookup failures never fail the signup; it reports
// whether the lookup settled (a hit or a definite miss) so that transport failures can be
// retried by the background backfill.
func (s *UserService) enrich(ctx context.Context, user *auth.User) bool {
	if _, disabled := s.enricher.(enrichment.Noop); disabled {
		return false
	}
	profile, err := s.enricher.Lookup(ctx, user.Email)
	switch {
	case errors.Is(err, enrichment.ErrNotFound):
		return true
	case err != nil:
		s.logger.Debug("enrichment skipped", zap.String("email", user.Email), zap.Error(err))
		return false
	case profile == nil:
		return true
	}
	user.FullName = profile.FullName
	user.GivenName = profile.GivenName
	user.Location = profile.Location
	user.TimeZone = profile.TimeZone
	return true
}

// GetUserProfile retrieves a user's profile by ID.
func (s *UserService) GetUserProfile(ctx context.Context, userID int64) (*UserResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toResponse(user), nil
}

// UpdateUserProfile applies a partial update of username and/or password.
func (s *UserService) UpdateUserProfile(ctx context.Context, userID int64, req UpdateUserProfileRequest) (*UserResponse, error) {
	if appErr := apperror.Validate(req); appErr != nil {
		return nil, appErr
	}

	var setClauses []string
	var args []interface{}

	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username == "" {
			return nil, apperror.NewFieldError("username", "This field may not be blank.")
		}
		setClauses = append(setClauses, "username = ?")
		args = append(args, username)
	}
	if req.Password != nil {
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, "password = ?")
		args = append(args, hashed)
	}

	if len(setClauses) == 0 {
		return s.GetUserProfile(ctx, userID)
	}

	args = append(args, userID)
	query := s.db.Rebind(fmt.Sprintf(`UPDATE users SET %s WHERE id = ?`, strings.Join(setClauses, ", ")))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if appErr := uniqueFieldError(err); appErr != nil {
			return nil, appErr
		}
		return nil, apperror.NewDatabaseError("failed to update user profile", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, apperror.NewNotFoundError(fmt.Sprintf("user with ID %d not found", userID), nil)
	}

	return s.GetUserProfile(ctx, userID)
}

// ListUsers returns every account ordered by ID.
func (s *UserService) ListUsers(ctx context.Context) ([]*UserResponse, error) {
	var rows []auth.User
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+auth.UserColumns+` FROM users ORDER BY id`); err != nil {
		return nil, apperror.NewDatabaseError("failed to list users", err)
	}
	out := make([]*UserResponse, 0, len(rows))
	for i := range rows {
		out = append(out, toResponse(&rows[i]))
	}
	return out, nil
}

func (s *UserService) getUser(ctx context.Context, userID int64) (*auth.User, error) {
	var user auth.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`SELECT `+auth.UserColumns+` FROM users WHERE id = ?`), userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NewNotFoundError(fmt.Sprintf("user with ID %d not found", userID), nil)
		}
		return nil, apperror.NewDatabaseError("failed to get user profile", err)
	}
	return &user, nil
}

// bcrypt rejects longer input; the validator's max counts characters, not bytes.
const maxPasswordBytes = 72

func hashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", apperror.NewFieldError("password", fmt.Sprintf("Ensure this field has no more than %d bytes.", maxPasswordBytes))
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperror.NewInternalError("failed to hash password", err)
	}
	return string(hashed), nil
}

// uniqueFieldError turns a unique violation into a 400 on the offending field.
func uniqueFieldError(err error) *apperror.AppError {
	constraint, ok := db.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch {
	case strings.Contains(constraint, "email"):
		return apperror.NewFieldError("email", "user with this email already exists.")
	case strings.Contains(constraint, "username"):
		return apperror.NewFieldError("username", "user with this username already exists.")
	default:
		return apperror.NewConflictError("user already exists", err)
	}
}
