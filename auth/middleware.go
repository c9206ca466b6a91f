package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/user/postboard/apperror"
)

// Middleware authenticates requests carrying `Authorization: Bearer <access token>`
// (the `JWT` scheme is accepted too). The token's user is loaded on every request so that
// deactivation and role changes apply immediately. Any failure answers 401.
func Middleware(service *AuthService, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperror.Write(w, apperror.NewAuthError("Authentication credentials were not provided.", nil))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !(strings.EqualFold(parts[0], "Bearer") || strings.EqualFold(parts[0], "JWT")) {
				apperror.Write(w, apperror.NewAuthError("Authorization header format must be Bearer {token}", nil))
				return
			}

			claims, err := service.ValidateAccessToken(strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				apperror.Write(w, apperror.NewAuthError("Invalid or expired token.", err))
				return
			}

			user, err := service.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if apperror.IsNotFound(err) {
					apperror.Write(w, apperror.NewAuthError("User not found.", nil))
					return
				}
				logger.Error("failed to load token user", zap.Int64("user_id", claims.UserID), zap.Error(err))
				apperror.Write(w, err)
				return
			}
			if !user.IsActive {
				apperror.Write(w, apperror.NewAuthError("User account is disabled.", nil))
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithUser(r.Context(), user)))
		})
	}
}
