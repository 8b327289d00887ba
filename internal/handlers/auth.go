package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/pgtemplate/internal/handlers/middleware"
	"github.com/nkiryanov/pgtemplate/internal/handlers/render"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/models"
)

type AuthHandler struct {
	authService authService
	logger      logger.Logger
}

func NewAuth(auth authService, logger logger.Logger) *AuthHandler {
	return &AuthHandler{authService: auth, logger: logger}
}

func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", h.logout)
}

type tokenResponse struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	TokenType        string         `json:"token_type"`
	AccessExpiresAt  time.Time      `json:"access_expires_at"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	Extra            map[string]any `json:"extra,omitempty"`
}

func newTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.Access.Value,
		RefreshToken:     pair.Refresh.Value,
		TokenType:        "bearer",
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
		Extra:            pair.Extra,
	}
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	pair, err := h.authService.Login(r.Context(), s, data.Username, data.Password)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSON(w, newTokenResponse(pair))
}

// Refresh token is sent as bearer
func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	bearer, err := middleware.BearerToken(r)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	pair, err := h.authService.Refresh(r.Context(), s, bearer)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSON(w, newTokenResponse(pair))
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	bearer, err := middleware.BearerToken(r)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	if err := h.authService.Logout(r.Context(), s, bearer); err != nil {
		render.Error(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
