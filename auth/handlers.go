package auth

import (
	"encoding/json"
	"net/http"

	"github.com/user/postboard/apperror"
)

// Handlers serves the token endpoints.
type Handlers struct {
	service *AuthService
}

// NewHandlers creates new auth Handlers.
func NewHandlers(service *AuthService) *Handlers {
	return &Handlers{service: service}
}

// HandleToken godoc
// @Summary Obtain a token pair
// @Description Exchanges email and password for an access and a refresh token.
// @Tags user
// @Accept json
// @Produce json
// @Param credentials body TokenRequest true "Login credentials"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} apperror.ErrorResponse "Missing fields or invalid credentials"
// @Router /api/user/token/ [post]
func (h *Handlers) HandleToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.Write(w, apperror.NewBadRequestError("invalid request body", err))
			return
		}

		resp, err := h.service.IssueToken(r.Context(), req)
		if err != nil {
			apperror.Write(w, err)
			return
		}
		apperror.WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleRefreshToken godoc
// @Summary Refresh a token pair
// @Description Issues a new token pair for a valid, unexpired token.
// @Tags user
// @Accept json
// @Produce json
// @Param token body RefreshTokenRequest true "Token to refresh"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} apperror.ErrorResponse "Missing, invalid or expired token"
// @Router /api/user/token-refresh/ [post]
func (h *Handlers) HandleRefreshToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req RefreshTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.Write(w, apperror.NewBadRequestError("invalid request body", err))
			return
		}

		token := req.Refresh
		if token == "" {
			token = req.Token
		}
		resp, err := h.service.Refresh(r.Context(), token)
		if err != nil {
			apperror.Write(w, err)
			return
		}
		apperror.WriteJSON(w, http.StatusOK, resp)
	}
}
