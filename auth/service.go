// Package auth contains authentication logic: issuing and refreshing JWTs for valid
// credentials and resolving the bearer token of incoming requests to a user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/config"
	"github.com/user/postboard/db"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// invalidCredentials is the only message a failed login ever produces, whether the email is
// unknown, the password is wrong or the account is inactive.
const invalidCredentials = "Unable to log in with provided credentials."

// AuthService issues and validates tokens.
type AuthService struct {
	db         *db.DB
	authConfig config.AuthConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(database *db.DB, authConfig config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		db:         database,
		authConfig: authConfig,
		logger:     logger,
		now:        time.Now,
	}
}

// CustomClaims are the JWT claims issued by postboard.
type CustomClaims struct {
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// dummyHash is compared against when the email is unknown so a miss costs as much as a
// wrong password.
var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("postboard-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// IssueToken returns a token pair for valid email and password.
func (s *AuthService) IssueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if appErr := apperror.Validate(req); appErr != nil {
		return nil, appErr
	}

	email, err := NormalizeEmail(req.Email)
	if err != nil {
		compareDummy(req.Password)
		return nil, apperror.NewValidationError(invalidCredentials, nil)
	}

	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			compareDummy(req.Password)
			return nil, apperror.NewValidationError(invalidCredentials, nil)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		return nil, apperror.NewValidationError(invalidCredentials, nil)
	}
	if !user.IsActive {
		return nil, apperror.NewValidationError(invalidCredentials, nil)
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET last_login = ? WHERE id = ?`), s.now().UTC(), user.ID); err != nil {
		// A failed bookkeeping write must not block the login.
		s.logger.Warn("failed to record last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	return s.generateTokens(user.ID)
}

// Refresh exchanges a valid, unexpired token for a new pair. Both refresh and access tokens
// are accepted.
func (s *AuthService) Refresh(ctx context.Context, tokenString string) (*TokenResponse, error) {
	if tokenString == "" {
		return nil, apperror.NewFieldError("token", "This field is required.")
	}

	claims, err := s.validateToken(tokenString, "")
	if err != nil {
		s.logger.Debug("refresh rejected", zap.Error(err))
		return nil, apperror.NewValidationError("Invalid or expired token.", err)
	}

	user, err := s.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewValidationError("Invalid or expired token.", nil)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, apperror.NewValidationError("User account is disabled.", nil)
	}

	return s.generateTokens(user.ID)
}

// ValidateAccessToken parses tokenString and requires it to be an unexpired access token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*CustomClaims, error) {
	return s.validateToken(tokenString, tokenTypeAccess)
}

func (s *AuthService) generateTokens(userID int64) (*TokenResponse, error) {
	accessToken, err := s.generateSpecificToken(userID, tokenTypeAccess, s.authConfig.AccessTokenDuration)
	if err != nil {
		return nil, apperror.NewInternalError("failed to generate access token", err)
	}
	refreshToken, err := s.generateSpecificToken(userID, tokenTypeRefresh, s.authConfig.RefreshTokenDuration)
	if err != nil {
		return nil, apperror.NewInternalError("failed to generate refresh token", err)
	}

	return &TokenResponse{
		Token:     accessToken,
		Refresh:   refreshToken,
		TokenType: "Bearer",
		ExpiresIn: int64(s.authConfig.AccessTokenDuration / time.Second),
	}, nil
}

func (s *AuthService) generateSpecificToken(userID int64, tokenType string, duration time.Duration) (string, error) {
	now := s.now()
	claims := &CustomClaims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.authConfig.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.authConfig.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// validateToken checks signature, expiry and issuer. An empty expectedTokenType accepts any
// of our token types.
func (s *AuthService) validateToken(tokenString string, expectedTokenType string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.authConfig.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.authConfig.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	switch claims.TokenType {
	case tokenTypeAccess, tokenTypeRefresh:
	default:
		return nil, fmt.Errorf("unknown token type %q", claims.TokenType)
	}
	if expectedTokenType != "" && claims.TokenType != expectedTokenType {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", expectedTokenType, claims.TokenType)
	}
	if claims.UserID == 0 {
		return nil, errors.New("user_id claim is missing")
	}
	return claims, nil
}

// GetUserByID loads a user row.
func (s *AuthService) GetUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`SELECT `+UserColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NewNotFoundError(fmt.Sprintf("user with ID %d not found", id), nil)
		}
		return nil, apperror.NewDatabaseError("failed to get user by id", err)
	}
	return &user, nil
}

// GetUserByEmail loads a user row by its normalized email.
func (s *AuthService) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`SELECT `+UserColumns+` FROM users WHERE email = ?`), email)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NewNotFoundError(fmt.Sprintf("user with email '%s' not found", email), nil)
		}
		return nil, apperror.NewDatabaseError("failed to get user by email", err)
	}
	return &user, nil
}
