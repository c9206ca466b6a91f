// Package auth, as part of the authentication module.
// This file, `dto.go`, defines the request and response bodies of the token endpoints.
package auth

// TokenRequest is the body of POST /api/user/token/.
type TokenRequest struct {
	Email    string `json:"email" validate:"required" example:"user@example.com"`
	Password string `json:"password" validate:"required" example:"strongpassword123"`
}

// RefreshTokenRequest is the body of POST /api/user/token-refresh/.
// Either field may carry the token; "refresh" wins when both are present, so a client can
// post back the whole token response it received.
type RefreshTokenRequest struct {
	Token   string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	Refresh string `json:"refresh" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// TokenResponse is returned by the token and refresh endpoints.
type TokenResponse struct {
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	Refresh   string `json:"refresh" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	TokenType string `json:"token_type" example:"Bearer"`
	ExpiresIn int64  `json:"expires_in" example:"900"` // Lifetime of the access token in seconds.
}
