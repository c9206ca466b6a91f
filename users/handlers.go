// Package users encapsulates all functionality related to user accounts: signup, the
// authenticated user's own profile, and the staff-only user list.
package users

import (
	"encoding/json"
	"net/http"

	"github.com/user/postboard/access"
	"github.com/user/postboard/apperror"
	"github.com/user/postboard/auth"
)

// UserHandlers provides HTTP handlers for user management.
type UserHandlers struct {
	service *UserService
}

// NewUserHandlers creates new UserHandlers.
func NewUserHandlers(service *UserService) *UserHandlers {
	return &UserHandlers{service: service}
}

// HandleCreateUser godoc
// @Summary Sign up
// @Description Creates a new user. Profile fields may be filled from the enrichment provider.
// @Tags user
// @Accept json
// @Produce json
// @Param user body CreateUserRequest true "New user"
// @Success 201 {object} UserResponse
// @Failure 400 {object} apperror.ErrorResponse "Validation error"
// @Router /api/user/create/ [post]
func (h *UserHandlers) HandleCreateUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.create(w, r)
	}
}

// HandleAdminCreateUser godoc
// @Summary Create a user (staff)
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param user body CreateUserRequest true "New user"
// @Success 201 {object} UserResponse
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 403 {object} apperror.ErrorResponse
// @Router /api/users/ [post]
func (h *UserHandlers) HandleAdminCreateUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := access.RequireStaff(auth.CallerFromContext(r.Context())); err != nil {
			apperror.Write(w, err)
			return
		}
		h.create(w, r)
	}
}

func (h *UserHandlers) create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperror.Write(w, apperror.NewBadRequestError("invalid request body", err))
		return
	}

	user, err := h.service.CreateUser(r.Context(), req)
	if err != nil {
		apperror.Write(w, err)
		return
	}
	apperror.WriteJSON(w, http.StatusCreated, user)
}

// HandleGetUserProfile godoc
// @Summary Get current user's profile
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Router /api/user/me/ [get]
func (h *UserHandlers) HandleGetUserProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			apperror.Write(w, apperror.NewAuthError("Authentication credentials were not provided.", nil))
			return
		}
		apperror.WriteJSON(w, http.StatusOK, toResponse(user))
	}
}

// HandleUpdateUserProfile godoc
// @Summary Update current user's profile
// @Description Partially updates username and/or password. Other fields are ignored.
// @Tags user
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param profile body UpdateUserProfileRequest true "Fields to update"
// @Success 200 {object} UserResponse
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Router /api/user/me/ [patch]
func (h *UserHandlers) HandleUpdateUserProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			apperror.Write(w, apperror.NewAuthError("Authentication credentials were not provided.", nil))
			return
		}

		defer r.Body.Close()
		var req UpdateUserProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.Write(w, apperror.NewBadRequestError("invalid request body", err))
			return
		}

		updated, err := h.service.UpdateUserProfile(r.Context(), user.ID, req)
		if err != nil {
			apperror.Write(w, err)
			return
		}
		apperror.WriteJSON(w, http.StatusOK, updated)
	}
}

// HandleListUsers godoc
// @Summary List all users (staff)
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} UserResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 403 {object} apperror.ErrorResponse
// @Router /api/users/ [get]
func (h *UserHandlers) HandleListUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := access.RequireStaff(auth.CallerFromContext(r.Context())); err != nil {
			apperror.Write(w, err)
			return
		}
		list, err := h.service.ListUsers(r.Context())
		if err != nil {
			apperror.Write(w, err)
			return
		}
		apperror.WriteJSON(w, http.StatusOK, list)
	}
}
