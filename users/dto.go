// Package users, as part of the account management module.
// This file, `dto.go`, defines the request and response bodies of the user endpoints.
package users

import (
	"time"

	"github.com/user/postboard/auth"
)

// CreateUserRequest is the signup body. Username falls back to the email when omitted.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,max=255" example:"johndoe@example.com"`
	Password string `json:"password" validate:"required,min=5,max=72" example:"strongpassword123"`
	Username string `json:"username" validate:"max=255" example:"johndoe"`
}

// UserResponse is the public view of a user. It never carries the password.
// @Description User account information
type UserResponse struct {
	ID          int64     `json:"id" example:"1"`
	Email       string    `json:"email" example:"johndoe@example.com"`
	Username    string    `json:"username" example:"johndoe"`
	FullName    string    `json:"full_name" example:"John Doe"`
	GivenName   string    `json:"given_name" example:"John"`
	Location    string    `json:"location" example:"Berlin, Germany"`
	TimeZone    string    `json:"time_zone" example:"Europe/Berlin"`
	IsStaff     bool      `json:"is_staff" example:"false"`
	IsSuperuser bool      `json:"is_superuser" example:"false"`
	CreatedAt   time.Time `json:"created_at" example:"2023-01-15T10:30:00Z"`
}

// UpdateUserProfileRequest is a partial update: nil fields are left unchanged.
// Only username and password can be changed through the profile endpoint.
type UpdateUserProfileRequest struct {
	Username *string `json:"username,omitempty" validate:"omitempty,max=255" example:"johndoe2"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=5,max=72" example:"newpassword1432"`
}

func toResponse(u *auth.User) *UserResponse {
	return &UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FullName:    u.FullName,
		GivenName:   u.GivenName,
		Location:    u.Location,
		TimeZone:    u.TimeZone,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		CreatedAt:   u.CreatedAt,
	}
}
